package handlers

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/internal/service"
	"github.com/onurcolak/sequence-dialer/pkg/response"
	"github.com/onurcolak/sequence-dialer/pkg/validator"
)

type CallHandler struct {
	analysis *service.AnalysisService
}

func NewCallHandler(analysis *service.AnalysisService) *CallHandler {
	return &CallHandler{analysis: analysis}
}

// CallCompleted godoc
// @Summary Report a completed call
// @Description Queues the transcript for analysis; the result is stored asynchronously
// @Tags calls
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key for callbacks"
// @Param call body domain.CallTranscript true "Completed call"
// @Success 202 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} validator.ValidationErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /api/v1/calls/completed [post]
func (h *CallHandler) CallCompleted(c echo.Context) error {
	var req domain.CallTranscript
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	// Enqueue detaches from the request context, the analysis outlives the request.
	if _, err := h.analysis.Enqueue(c.Request().Context(), req); err != nil {
		if errors.Is(err, service.ErrAnalysisClosed) {
			return response.ServiceUnavailable(c, "Call analysis is shutting down")
		}
		return response.InternalServerError(c, err)
	}

	return response.Accepted(c, "Call queued for analysis", map[string]any{
		"callId": req.CallID,
	})
}

// GetAnalyzerMetrics godoc
// @Summary Get analyzer limiter metrics
// @Description Returns processed, failed and retried counts of the analyzer rate limiter
// @Tags calls
// @Produce json
// @Param x-api-key header string true "API key for callbacks"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/calls/analyzer [get]
func (h *CallHandler) GetAnalyzerMetrics(c echo.Context) error {
	return response.Ok(c, h.analysis.Metrics())
}
