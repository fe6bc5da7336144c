package middlewares

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/sequence-dialer/pkg/response"
)

const (
	APIKeyHeader = "x-api-key"
	bearerPrefix = "Bearer "
)

// secureCompare compares two strings in a way that is safer against timing attacks.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// requestKey reads the x-api-key header, falling back to a bearer token
// since dialer and analyzer callbacks can only be configured with one.
func requestKey(c echo.Context) string {
	if key := c.Request().Header.Get(APIKeyHeader); key != "" {
		return key
	}

	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(auth, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(auth, bearerPrefix))
	}

	return ""
}

// APIKeyAuth guards a route group with its own key. An empty key rejects
// every request with 500: the group was deployed without configuration.
func APIKeyAuth(apiKey string) echo.MiddlewareFunc {
	if apiKey == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				return response.InternalServerError(
					c,
					fmt.Errorf("API key is not configured for %s", c.Path()),
				)
			}
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := requestKey(c)
			if token == "" || !secureCompare(token, apiKey) {
				return response.Unauthorized(c)
			}

			return next(c)
		}
	}
}
