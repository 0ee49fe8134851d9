package provider

import (
	"net/http"
	"strconv"
	"time"

	"github.com/projectlink/backend/internal/domain/integration"
)

// maxResponseSize limits response body reads to prevent memory exhaustion
const maxResponseSize = 10 * 1024 * 1024 // 10MB max response

// translateStatus converts a non-2xx provider response into a classified
// ProviderError. Throttling carries the provider's Retry-After hint, auth
// and not-found failures are permanent because retrying cannot fix them,
// and timeouts plus server errors are transient.
func translateStatus(code integration.ProviderCode, resp *http.Response, message string) error {
	status := resp.StatusCode
	switch {
	case status == http.StatusTooManyRequests:
		return integration.NewRateLimitedError(code, parseRetryAfter(resp.Header.Get("Retry-After")), message)
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusNotFound:
		return integration.NewPermanentError(code, status, message, nil)
	case status == http.StatusRequestTimeout, status >= 500:
		return integration.NewTransientError(code, status, message, nil)
	default:
		return integration.NewPermanentError(code, status, message, nil)
	}
}

// parseRetryAfter reads a Retry-After header, which carries either a
// delay in seconds or an HTTP date. Returns zero when absent or
// unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		delay := time.Until(at)
		if delay < 0 {
			return 0
		}
		return delay
	}
	return 0
}
