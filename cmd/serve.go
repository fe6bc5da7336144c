package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/onurcolak/sequence-dialer/handlers"
	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/internal/middlewares"
	"github.com/onurcolak/sequence-dialer/internal/scheduler"
	"github.com/onurcolak/sequence-dialer/internal/service"
	"github.com/onurcolak/sequence-dialer/pkg/analyzer"
	"github.com/onurcolak/sequence-dialer/pkg/logger"
	"github.com/onurcolak/sequence-dialer/pkg/queue"
	"github.com/onurcolak/sequence-dialer/pkg/validator"
	"github.com/onurcolak/sequence-dialer/routes"
)

var noAutoStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the enabled schedulers and the analysis pipeline.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&noAutoStart, "no-autostart", false, "Do not start the enabled schedulers on boot")
}

func serve() error {
	// Hard-fail if required secrets are missing
	if cfg.Auth.EntriesAPIKey == "" {
		return fmt.Errorf("ENTRIES_API_KEY is required but not set")
	}
	if cfg.Auth.SchedulerAPIKey == "" {
		return fmt.Errorf("SCHEDULER_API_KEY is required but not set")
	}

	logger.Infof("Starting sequence dialer (store: %s)...", cfg.Store.Driver)

	store, err := openStore(cfg, true)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	cache := openCache(cfg)

	sequenceService := service.NewSequenceService(store)
	analysisService := service.NewAnalysisService(analyzer.NewClient(cfg.Analyzer), store, cfg.Analyzer)
	healthHandler := handlers.NewHealthHandler(store, cfg.Store.Driver, nil)
	if cache != nil {
		sequenceService.WithCache(cache)
		analysisService.WithCache(cache)
		healthHandler = handlers.NewHealthHandler(store, cfg.Store.Driver, cache)
	}

	loops, err := enabledLoops(cfg, store, cache)
	if err != nil {
		return err
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var consumer *queue.Consumer
	if cfg.AMQP.URL != "" {
		consumer, err = queue.NewConsumer(cfg.AMQP, func(ctx context.Context, transcript domain.CallTranscript) error {
			future, err := analysisService.Enqueue(ctx, transcript)
			if err != nil {
				return err
			}
			_, err = future.Wait(ctx)
			return err
		})
		if err != nil {
			logger.Warnf("AMQP not available, call_completed consumer disabled: %v", err)
		} else {
			go func() {
				if err := consumer.Run(ctx); err != nil {
					logger.Errorf("AMQP consumer stopped: %v", err)
				}
			}()
		}
	}

	if !noAutoStart {
		for _, loop := range loops {
			logger.Infof("Auto-starting %s scheduler...", loop.Mode())
			if err := loop.Start(ctx); err != nil {
				logger.Warnf("Failed to auto-start %s scheduler: %v", loop.Mode(), err)
			}
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = validator.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			middlewares.APIKeyHeader,
		},
	}))

	routes.RegisterRoutes(e, routes.Handlers{
		Health:    healthHandler,
		Entries:   handlers.NewEntryHandler(sequenceService),
		Campaigns: handlers.NewCampaignHandler(sequenceService),
		Scheduler: handlers.NewSchedulerHandler(ctx, loops...),
		Calls:     handlers.NewCallHandler(analysisService),
	}, cfg)

	// Start server in goroutine
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Infof("Server starting on http://localhost%s", addr)
		logger.Infof("Swagger docs available at http://localhost%s/swagger/index.html", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down gracefully...")

	// Schedulers first: an in-flight tick gets its grace period before ctx is cancelled.
	stopLoops(loops)
	cancel()

	// Shutdown HTTP server (with timeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Infof("Shutting down HTTP server...")
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Infof("HTTP server stopped successfully")
	}

	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Errorf("Error closing AMQP consumer: %v", err)
		}
	}

	logger.Infof("Waiting for queued analyses...")
	if err := analysisService.Drain(shutdownCtx); err != nil {
		logger.Warnf("Pending analyses abandoned: %v", err)
	}

	logger.Infof("Closing store...")
	if err := store.Close(); err != nil {
		logger.Errorf("Error closing store: %v", err)
	}

	if cache != nil {
		logger.Infof("Closing Redis connection...")
		if err := cache.Close(); err != nil {
			logger.Errorf("Error closing Redis: %v", err)
		}
	}

	logger.Infof("Graceful shutdown completed")

	return nil
}

// stopLoops stops every running or ticking loop in parallel, each within its
// own grace period. A loop left stopped by --no-autostart may still be running
// a tick triggered over HTTP.
func stopLoops(loops []*scheduler.Loop) {
	var wg sync.WaitGroup

	for _, loop := range loops {
		if !loop.IsRunning() && !loop.TickInFlight() {
			continue
		}

		wg.Add(1)
		go func(loop *scheduler.Loop) {
			defer wg.Done()

			logger.Infof("Stopping %s scheduler...", loop.Mode())
			if err := loop.Stop(); err != nil {
				logger.Warnf("Error stopping %s scheduler: %v", loop.Mode(), err)
			}
		}(loop)
	}

	wg.Wait()
}
