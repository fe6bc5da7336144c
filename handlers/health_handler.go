package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health checks.
type HealthHandler struct {
	store        pinger
	cache        pinger
	storeDriver  string
	checkTimeout time.Duration
}

// NewHealthHandler takes the entry store and an optional cache; pass a nil
// cache when valkey is not configured.
func NewHealthHandler(store pinger, storeDriver string, cache pinger) *HealthHandler {
	return &HealthHandler{
		store:        store,
		cache:        cache,
		storeDriver:  storeDriver,
		checkTimeout: 2 * time.Second,
	}
}

// Health returns overall status and basic component statuses (store and cache).
// @Summary Health check
// @Description Returns overall status with store and valkey connectivity results
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Router /health [get]
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.checkTimeout)
	defer cancel()

	overallStatus := "ok"

	storeStatus := "up"
	if h.store == nil {
		storeStatus = "down"
		overallStatus = "down"
	} else if err := h.store.Ping(ctx); err != nil {
		storeStatus = "down"
		overallStatus = "down"
	}

	cacheStatus := "disabled"
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			cacheStatus = "down"
			if overallStatus == "ok" {
				overallStatus = "degraded"
			}
		} else {
			cacheStatus = "up"
		}
	}

	code := http.StatusOK
	if overallStatus == "down" {
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().Format(time.RFC3339),
		"components": map[string]any{
			"store": map[string]any{
				"status": storeStatus,
				"driver": h.storeDriver,
			},
			"cache": map[string]any{
				"status": cacheStatus,
			},
		},
	})
}
