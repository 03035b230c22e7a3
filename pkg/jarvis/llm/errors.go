package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorKind says what went wrong with a completion call. The orchestrator
// treats every kind as a failed turn; the dispatcher logs the kind and
// whether sending the message again could help.
type ErrorKind int

const (
	ErrorServer     ErrorKind = iota // 5xx from the provider
	ErrorRateLimit                   // 429
	ErrorTimeout                     // client deadline or 504
	ErrorAuth                        // 401, 403: bad or revoked key
	ErrorQuota                       // 402: credits exhausted
	ErrorContext                     // prompt longer than the model accepts
	ErrorBadRequest                  // any other 4xx
)

var kindNames = map[ErrorKind]string{
	ErrorServer:     "server",
	ErrorRateLimit:  "rate_limit",
	ErrorTimeout:    "timeout",
	ErrorAuth:       "auth",
	ErrorQuota:      "quota",
	ErrorContext:    "context",
	ErrorBadRequest: "bad_request",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Retryable reports whether the same request may succeed later.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorServer, ErrorRateLimit, ErrorTimeout:
		return true
	}
	return false
}

// APIError is a completion call the provider rejected or did not answer in
// time.
type APIError struct {
	StatusCode int
	Body       string
	Kind       ErrorKind
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("API %s: %s", e.Kind, truncate(e.Body, 200))
	}
	return fmt.Sprintf("API returned %d (%s): %s", e.StatusCode, e.Kind, truncate(e.Body, 200))
}

// KindOf returns the kind of the APIError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	return apiErr.Kind, true
}

// classifyAPIError maps a status code to a kind. The body only matters for
// telling a too-long prompt apart from other bad requests, which the
// OpenAI-compatible APIs report with varying status codes.
func classifyAPIError(statusCode int, body string) ErrorKind {
	lower := strings.ToLower(body)
	if strings.Contains(lower, "context_length_exceeded") || strings.Contains(lower, "maximum context length") {
		return ErrorContext
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorRateLimit
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return ErrorAuth
	case statusCode == http.StatusPaymentRequired:
		return ErrorQuota
	case statusCode == http.StatusGatewayTimeout:
		return ErrorTimeout
	case statusCode >= 500:
		return ErrorServer
	default:
		return ErrorBadRequest
	}
}
