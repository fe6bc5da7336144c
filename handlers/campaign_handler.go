package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/internal/service"
	"github.com/onurcolak/sequence-dialer/pkg/response"
	"github.com/onurcolak/sequence-dialer/pkg/validator"
)

type CampaignHandler struct {
	service *service.SequenceService
}

func NewCampaignHandler(service *service.SequenceService) *CampaignHandler {
	return &CampaignHandler{service: service}
}

// CreateCampaignRequest leaves the window fields empty for a campaign that may call at any time.
type CreateCampaignRequest struct {
	Name               string  `json:"name" validate:"required,max=255"`
	MaxAttempts        int     `json:"maxAttempts" validate:"required,min=1"`
	RetryDelayHours    float64 `json:"retryDelayHours" validate:"gte=0"`
	Timezone           string  `json:"timezone" validate:"omitempty,timezone"`
	BusinessHoursStart string  `json:"businessHoursStart" validate:"omitempty,clock"`
	BusinessHoursEnd   string  `json:"businessHoursEnd" validate:"omitempty,clock"`
	ExcludeWeekends    bool    `json:"excludeWeekends"`
	Paused             bool    `json:"paused"`
	AgentID            string  `json:"agentId"`
}

type CreateContactRequest struct {
	Name         string `json:"name" validate:"required,max=255"`
	DoNotContact bool   `json:"doNotContact"`
}

// CreateCampaign godoc
// @Summary Create a campaign
// @Description Creates a campaign with its attempt budget, retry delay and calling window
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key for entries"
// @Param campaign body CreateCampaignRequest true "Campaign to create"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} validator.ValidationErrorResponse
// @Router /api/v1/campaigns [post]
func (h *CampaignHandler) CreateCampaign(c echo.Context) error {
	var req CreateCampaignRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	view, err := h.service.CreateCampaign(c.Request().Context(), &domain.Campaign{
		Name:            req.Name,
		MaxAttempts:     req.MaxAttempts,
		RetryDelayHours: req.RetryDelayHours,
		Paused:          req.Paused,
		AgentID:         req.AgentID,
		BusinessHours: domain.BusinessHours{
			Timezone:        req.Timezone,
			Start:           req.BusinessHoursStart,
			End:             req.BusinessHoursEnd,
			ExcludeWeekends: req.ExcludeWeekends,
		},
	})
	if err != nil {
		return respondError(c, err)
	}

	return response.Created(c, "Campaign created successfully", view)
}

// GetCampaign godoc
// @Summary Get a campaign
// @Description Returns the campaign with a human-readable business hours summary
// @Tags campaigns
// @Produce json
// @Param x-api-key header string true "API key for entries"
// @Param id path string true "Campaign ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id} [get]
func (h *CampaignHandler) GetCampaign(c echo.Context) error {
	view, err := h.service.GetCampaign(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	return response.Ok(c, view)
}

// CreateContact godoc
// @Summary Create a contact
// @Description Contacts group targets; a do-not-contact contact blocks all of its numbers
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key for entries"
// @Param contact body CreateContactRequest true "Contact to create"
// @Success 201 {object} response.SuccessResponse
// @Failure 422 {object} validator.ValidationErrorResponse
// @Router /api/v1/contacts [post]
func (h *CampaignHandler) CreateContact(c echo.Context) error {
	var req CreateContactRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	contact := &domain.Contact{Name: req.Name, DoNotContact: req.DoNotContact}
	if err := h.service.CreateContact(c.Request().Context(), contact); err != nil {
		return respondError(c, err)
	}

	return response.Created(c, "Contact created successfully", contact)
}
