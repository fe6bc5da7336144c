package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/internal/service"
	"github.com/onurcolak/sequence-dialer/pkg/response"
	"github.com/onurcolak/sequence-dialer/pkg/validator"
)

type EntryHandler struct {
	service *service.SequenceService
}

func NewEntryHandler(service *service.SequenceService) *EntryHandler {
	return &EntryHandler{service: service}
}

type EnrollRequest struct {
	CampaignID  string     `json:"campaignId" validate:"required"`
	PhoneNumber string     `json:"phoneNumber" validate:"required"`
	ContactID   *string    `json:"contactId,omitempty" validate:"omitempty,min=1"`
	StartAt     *time.Time `json:"startAt,omitempty"`
}

type TerminalRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required"`
	Status      string `json:"status" validate:"required,oneof=completed stopped"`
}

type DoNotContactRequest struct {
	PhoneNumber  string `json:"phoneNumber" validate:"required"`
	DoNotContact bool   `json:"doNotContact"`
}

// GetEntries godoc
// @Summary List sequence entries
// @Description Retrieves a paginated list of entries with optional status filter
// @Tags entries
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key for entries"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Param status query string false "Filter by status (active, completed, stopped, max_attempts_reached)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/entries [get]
func (h *EntryHandler) GetEntries(c echo.Context) error {
	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	status, err := parseStatusFilter(c.QueryParam("status"))
	if err != nil {
		return response.BadRequest(c, err)
	}

	entries, totalCount, err := h.service.ListEntries(c.Request().Context(), status, page, pageSize)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, entries, page, pageSize, totalCount)
}

// EnrollTarget godoc
// @Summary Enroll a phone number in a campaign
// @Description Creates an active sequence entry; the first call is snapped into the campaign's business hours
// @Tags entries
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key for entries"
// @Param entry body EnrollRequest true "Enrollment"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 422 {object} validator.ValidationErrorResponse
// @Router /api/v1/entries [post]
func (h *EntryHandler) EnrollTarget(c echo.Context) error {
	var req EnrollRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	entry, err := h.service.EnrollTarget(c.Request().Context(), service.EnrollRequest{
		CampaignID:  req.CampaignID,
		PhoneNumber: req.PhoneNumber,
		ContactID:   req.ContactID,
		StartAt:     req.StartAt,
	})
	if err != nil {
		return respondError(c, err)
	}

	return response.Created(c, "Target enrolled successfully", entry)
}

// GetEntry godoc
// @Summary Get a sequence entry
// @Tags entries
// @Produce json
// @Param x-api-key header string true "API key for entries"
// @Param id path string true "Entry ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/entries/{id} [get]
func (h *EntryHandler) GetEntry(c echo.Context) error {
	entry, err := h.service.GetEntry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	return response.Ok(c, entry)
}

// StopEntry godoc
// @Summary Stop a sequence entry
// @Description Forces the entry to stopped; stopping a stopped entry is a no-op
// @Tags entries
// @Produce json
// @Param x-api-key header string true "API key for entries"
// @Param id path string true "Entry ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/entries/{id}/stop [post]
func (h *EntryHandler) StopEntry(c echo.Context) error {
	entry, err := h.service.StopEntry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	return response.OkWithMessage(c, "Entry stopped", entry)
}

// MarkTerminal godoc
// @Summary End every sequence of a phone number
// @Description Out-of-band cleanup after a connected call (completed) or an opt-out (stopped)
// @Tags entries
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key for entries"
// @Param request body TerminalRequest true "Phone number and terminal status"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} validator.ValidationErrorResponse
// @Router /api/v1/entries/terminal [post]
func (h *EntryHandler) MarkTerminal(c echo.Context) error {
	var req TerminalRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	updated, err := h.service.MarkTerminalByPhone(c.Request().Context(), req.PhoneNumber, domain.EntryStatus(req.Status))
	if err != nil {
		return respondError(c, err)
	}

	return response.Ok(c, map[string]any{
		"updated": updated,
		"status":  req.Status,
	})
}

// SetDoNotContact godoc
// @Summary Flag or unflag a phone number as do-not-contact
// @Tags entries
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key for entries"
// @Param request body DoNotContactRequest true "Phone number and flag"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} validator.ValidationErrorResponse
// @Router /api/v1/entries/do-not-contact [post]
func (h *EntryHandler) SetDoNotContact(c echo.Context) error {
	var req DoNotContactRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	if err := h.service.SetDoNotContact(c.Request().Context(), req.PhoneNumber, req.DoNotContact); err != nil {
		return respondError(c, err)
	}

	return response.Ok(c, req)
}

// GetStats godoc
// @Summary Get entry statistics
// @Description Returns count of entries by status
// @Tags entries
// @Produce json
// @Param x-api-key header string true "API key for entries"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/entries/stats [get]
func (h *EntryHandler) GetStats(c echo.Context) error {
	stats, err := h.service.GetStats(c.Request().Context())
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, map[string]any{
		"active":             stats.Active,
		"completed":          stats.Completed,
		"stopped":            stats.Stopped,
		"maxAttemptsReached": stats.MaxAttemptsReached,
		"total":              stats.Total(),
	})
}

// GetCachedDispatches godoc
// @Summary Get cached dispatches from valkey
// @Description Returns the last accepted dispatch of every entry, keyed by entry ID
// @Tags entries
// @Produce json
// @Param x-api-key header string true "API key for entries"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /api/v1/entries/dispatches/cached [get]
func (h *EntryHandler) GetCachedDispatches(c echo.Context) error {
	cached, err := h.service.GetCachedDispatches(c.Request().Context())
	if errors.Is(err, service.ErrCacheNotConfigured) {
		return response.ServiceUnavailable(c, err.Error())
	}
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, cached)
}

func parseStatusFilter(raw string) (*domain.EntryStatus, error) {
	if raw == "" {
		return nil, nil
	}

	status := domain.EntryStatus(raw)
	if !status.IsValid() {
		return nil, fmt.Errorf("unknown status %q", raw)
	}

	return &status, nil
}

func parsePaginationParams(c echo.Context) (int, int, error) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)

	pageStr := c.QueryParam("page")
	pageSizeStr := c.QueryParam("pageSize")

	page := defaultPage
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
		page = p
	}

	pageSize := defaultPageSize
	if pageSizeStr != "" {
		ps, err := strconv.Atoi(pageSizeStr)
		if err != nil || ps <= 0 || ps > maxPageSize {
			return 0, 0, fmt.Errorf("pageSize must be between 1 and %d", maxPageSize)
		}

		pageSize = ps
	}

	return page, pageSize, nil
}
