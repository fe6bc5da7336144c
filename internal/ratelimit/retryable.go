package ratelimit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// statusCoder is implemented by transport errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

var transientPhrases = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"quota",
	"resource exhausted",
	"overloaded",
	"timeout",
	"timed out",
	"connection reset",
	"econnreset",
}

// IsRetryable classifies err as transient: HTTP 429 or 503, timeouts,
// connection resets, or a message naming a rate limit or quota.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		switch sc.HTTPStatus() {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return true
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}

	return false
}
