package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/sequence-dialer/internal/scheduler"
	"github.com/onurcolak/sequence-dialer/pkg/response"
)

// SchedulerHandler controls one Loop per dispatch mode. Modes whose loop was
// not configured answer 404.
type SchedulerHandler struct {
	loops map[string]*scheduler.Loop
	ctx   context.Context
}

func NewSchedulerHandler(ctx context.Context, loops ...*scheduler.Loop) *SchedulerHandler {
	byMode := make(map[string]*scheduler.Loop, len(loops))
	for _, loop := range loops {
		if loop != nil {
			byMode[loop.Mode()] = loop
		}
	}

	return &SchedulerHandler{loops: byMode, ctx: ctx}
}

func (h *SchedulerHandler) loop(c echo.Context) (*scheduler.Loop, error) {
	mode := c.Param("mode")
	loop, ok := h.loops[mode]
	if !ok {
		return nil, response.NotFound(c, fmt.Sprintf("scheduler mode %q is not enabled", mode))
	}
	return loop, nil
}

// StartScheduler godoc
// @Summary Start a dispatch scheduler
// @Description Starts the periodic tick of the given mode; the first tick runs immediately
// @Tags scheduler
// @Produce json
// @Param x-api-key header string true "API key for scheduler"
// @Param mode path string true "Dispatch mode (caller, batch)"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/scheduler/{mode}/start [post]
func (h *SchedulerHandler) StartScheduler(c echo.Context) error {
	loop, err := h.loop(c)
	if loop == nil {
		return err
	}

	if loop.IsRunning() {
		return response.OkWithMessage(c, "Scheduler is already running", loop.GetStatus())
	}

	if err := loop.Start(h.ctx); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Scheduler started successfully", loop.GetStatus())
}

// StopScheduler godoc
// @Summary Stop a dispatch scheduler
// @Description Stops the ticker and waits for an in-flight tick up to the stop grace period
// @Tags scheduler
// @Produce json
// @Param x-api-key header string true "API key for scheduler"
// @Param mode path string true "Dispatch mode (caller, batch)"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/scheduler/{mode}/stop [post]
func (h *SchedulerHandler) StopScheduler(c echo.Context) error {
	loop, err := h.loop(c)
	if loop == nil {
		return err
	}

	if !loop.IsRunning() && !loop.TickInFlight() {
		return response.OkWithMessage(c, "Scheduler is already stopped", loop.GetStatus())
	}

	if err := loop.Stop(); err != nil {
		if errors.Is(err, scheduler.ErrStopTimeout) {
			return response.OkWithMessage(c, "Scheduler stopped, in-flight tick was cancelled", loop.GetStatus())
		}
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Scheduler stopped successfully", loop.GetStatus())
}

// RunTick godoc
// @Summary Run one tick now
// @Description Runs a single tick synchronously; 409 when a tick is already in flight
// @Tags scheduler
// @Produce json
// @Param x-api-key header string true "API key for scheduler"
// @Param mode path string true "Dispatch mode (caller, batch)"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/scheduler/{mode}/tick [post]
func (h *SchedulerHandler) RunTick(c echo.Context) error {
	loop, err := h.loop(c)
	if loop == nil {
		return err
	}

	stats, err := loop.RunOnce(c.Request().Context())
	if err != nil {
		if errors.Is(err, scheduler.ErrTickInProgress) {
			return response.Conflict(c, err)
		}
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Tick completed", stats)
}

// GetSchedulerStatus godoc
// @Summary Get scheduler status
// @Description Returns the status of every enabled dispatch mode
// @Tags scheduler
// @Produce json
// @Param x-api-key header string true "API key for scheduler"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/scheduler/status [get]
func (h *SchedulerHandler) GetSchedulerStatus(c echo.Context) error {
	modes := make([]string, 0, len(h.loops))
	for mode := range h.loops {
		modes = append(modes, mode)
	}
	sort.Strings(modes)

	statuses := make([]scheduler.Status, 0, len(modes))
	for _, mode := range modes {
		statuses = append(statuses, h.loops[mode].GetStatus())
	}

	return response.Ok(c, statuses)
}
