package middlewares

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/onurcolak/sequence-dialer/pkg/metrics"
)

// Metrics records request counts and latencies. The matched route template is
// used as the label to keep cardinality low.
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}

			labels := prometheus.Labels{
				"method": c.Request().Method,
				"route":  route,
				"status": strconv.Itoa(c.Response().Status),
			}
			metrics.HTTPRequests.With(labels).Inc()
			metrics.HTTPRequestDuration.With(labels).Observe(time.Since(start).Seconds())

			return nil
		}
	}
}
