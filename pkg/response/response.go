package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type PaginatedResponse struct {
	Success    bool  `json:"success"`
	Data       any   `json:"data"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalCount int64 `json:"totalCount"`
	TotalPages int   `json:"totalPages"`
}

func success(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, SuccessResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func fail(c echo.Context, status int, message string) error {
	return c.JSON(status, ErrorResponse{
		Success: false,
		Error:   message,
	})
}

func Ok(c echo.Context, data any) error {
	return success(c, http.StatusOK, "", data)
}

func OkWithMessage(c echo.Context, message string, data any) error {
	return success(c, http.StatusOK, message, data)
}

func Created(c echo.Context, message string, data any) error {
	return success(c, http.StatusCreated, message, data)
}

// Accepted acknowledges work that completes asynchronously.
func Accepted(c echo.Context, message string, data any) error {
	return success(c, http.StatusAccepted, message, data)
}

func BadRequest(c echo.Context, err error) error {
	return fail(c, http.StatusBadRequest, err.Error())
}

func Unauthorized(c echo.Context) error {
	return fail(c, http.StatusUnauthorized, "Invalid or missing API key")
}

func NotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, message)
}

func Conflict(c echo.Context, err error) error {
	return fail(c, http.StatusConflict, err.Error())
}

func InternalServerError(c echo.Context, err error) error {
	return fail(c, http.StatusInternalServerError, err.Error())
}

func ServiceUnavailable(c echo.Context, message string) error {
	return fail(c, http.StatusServiceUnavailable, message)
}

func Paginated(c echo.Context, data any, page, pageSize int, totalCount int64) error {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int(totalCount) / pageSize
		if int(totalCount)%pageSize > 0 {
			totalPages++
		}
	}

	return c.JSON(http.StatusOK, PaginatedResponse{
		Success:    true,
		Data:       data,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: totalCount,
		TotalPages: totalPages,
	})
}
