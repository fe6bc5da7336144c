package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/onurcolak/sequence-dialer/environments"
	"github.com/onurcolak/sequence-dialer/handlers"
	"github.com/onurcolak/sequence-dialer/internal/middlewares"
)

type Handlers struct {
	Health    *handlers.HealthHandler
	Entries   *handlers.EntryHandler
	Campaigns *handlers.CampaignHandler
	Scheduler *handlers.SchedulerHandler
	// Calls is nil when the analyzer is not wired; its routes are then not registered.
	Calls *handlers.CallHandler
}

// RegisterRoutes registers all API routes with middleware
func RegisterRoutes(e *echo.Echo, h Handlers, cfg *environments.Config) {
	e.Use(middlewares.Metrics())

	e.GET("/health", h.Health.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// API v1 base group
	v1 := e.Group("/api/v1")

	entriesAuth := middlewares.APIKeyAuth(cfg.Auth.EntriesAPIKey)

	entries := v1.Group("/entries", entriesAuth)

	entries.GET("", h.Entries.GetEntries)
	entries.POST("", h.Entries.EnrollTarget)
	entries.GET("/stats", h.Entries.GetStats)
	entries.GET("/dispatches/cached", h.Entries.GetCachedDispatches)
	entries.POST("/terminal", h.Entries.MarkTerminal)
	entries.POST("/do-not-contact", h.Entries.SetDoNotContact)
	entries.GET("/:id", h.Entries.GetEntry)
	entries.POST("/:id/stop", h.Entries.StopEntry)

	campaigns := v1.Group("/campaigns", entriesAuth)

	campaigns.POST("", h.Campaigns.CreateCampaign)
	campaigns.GET("/:id", h.Campaigns.GetCampaign)

	v1.POST("/contacts", h.Campaigns.CreateContact, entriesAuth)

	schedulerGroup := v1.Group("/scheduler", middlewares.APIKeyAuth(cfg.Auth.SchedulerAPIKey))

	schedulerGroup.GET("/status", h.Scheduler.GetSchedulerStatus)
	schedulerGroup.POST("/:mode/start", h.Scheduler.StartScheduler)
	schedulerGroup.POST("/:mode/stop", h.Scheduler.StopScheduler)
	schedulerGroup.POST("/:mode/tick", h.Scheduler.RunTick)

	if h.Calls != nil {
		calls := v1.Group("/calls", middlewares.APIKeyAuth(cfg.Auth.CallbacksAPIKey))

		calls.POST("/completed", h.Calls.CallCompleted)
		calls.GET("/analyzer", h.Calls.GetAnalyzerMetrics)
	}
}
