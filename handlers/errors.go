package handlers

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/sequence-dialer/internal/repository"
	"github.com/onurcolak/sequence-dialer/internal/service"
	"github.com/onurcolak/sequence-dialer/pkg/response"
)

// respondError maps store and service sentinels to HTTP statuses.
func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, repository.ErrDuplicateEntry), errors.Is(err, repository.ErrTransitionConflict):
		return response.Conflict(c, err)
	case errors.Is(err, repository.ErrInvalidStatus), errors.Is(err, service.ErrInvalidInput):
		return response.BadRequest(c, err)
	default:
		return response.InternalServerError(c, err)
	}
}
