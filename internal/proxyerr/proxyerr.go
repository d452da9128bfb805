package proxyerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes surfaced to clients.
const (
	CodeMalformed      = "URL_MALFORMED"
	CodeHostNotAllowed = "HOST_NOT_ALLOWED"
	CodeRateLimit      = "RATE_LIMIT_EXCEEDED"
	CodeUpstream403    = "UPSTREAM_403"
	CodeNotFound       = "NOT_FOUND"
	CodeBadGateway     = "BAD_GATEWAY"
	CodeTimeout        = "TIMEOUT"
	CodeError          = "ERROR"
)

// Error is the categorized error passed from components to the dispatcher,
// which maps it to an HTTP status and the JSON envelope.
type Error struct {
	Code       string
	Status     int
	Message    string
	Hint       string
	Host       string
	RetryAfter int // seconds, only set for RATE_LIMIT_EXCEEDED
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

func Malformed(message string) *Error {
	return &Error{Code: CodeMalformed, Status: http.StatusBadRequest, Message: message}
}

func HostNotAllowed(host string) *Error {
	return &Error{
		Code:    CodeHostNotAllowed,
		Status:  http.StatusForbidden,
		Message: fmt.Sprintf("host %q is not allowed", host),
		Host:    host,
	}
}

func RateLimited(retryAfter int) *Error {
	return &Error{
		Code:       CodeRateLimit,
		Status:     http.StatusTooManyRequests,
		Message:    "rate limit exceeded",
		Hint:       "slow down and retry later",
		RetryAfter: retryAfter,
	}
}

func Timeout(message string) *Error {
	return &Error{Code: CodeTimeout, Status: http.StatusGatewayTimeout, Message: message}
}

func BadGateway(message string) *Error {
	return &Error{Code: CodeBadGateway, Status: http.StatusBadGateway, Message: message}
}

// Upstream categorizes a non-OK upstream status. 401 and 403 are folded into
// UPSTREAM_403 so browsers never see a 401 and prompt for credentials.
func Upstream(status int, host string) *Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{
			Code:    CodeUpstream403,
			Status:  http.StatusForbidden,
			Message: fmt.Sprintf("upstream refused the request with status %d", status),
			Hint:    "the origin likely requires headers the proxy did not supply",
			Host:    host,
		}
	case http.StatusNotFound:
		return &Error{
			Code:    CodeNotFound,
			Status:  http.StatusNotFound,
			Message: "upstream resource not found",
			Host:    host,
		}
	default:
		return &Error{
			Code:    fmt.Sprintf("UPSTREAM_%d", status),
			Status:  status,
			Message: fmt.Sprintf("upstream returned status %d", status),
			Host:    host,
		}
	}
}

// From returns the *Error wrapped in err, or wraps err as an unclassified
// ERROR/500 if it carries no category.
func From(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return &Error{Code: CodeError, Status: http.StatusInternalServerError, Message: err.Error()}
}

// ExtractCode reads a leading "CODE:" prefix from a message, falling back to
// a status-derived code.
func ExtractCode(message string, status int) string {
	if i := strings.Index(message, ":"); i > 0 {
		prefix := message[:i]
		if prefix != "" && prefix == strings.ToUpper(prefix) && !strings.ContainsAny(prefix, " \t") {
			return prefix
		}
	}
	switch status {
	case http.StatusBadRequest:
		return CodeMalformed
	case http.StatusForbidden:
		return CodeHostNotAllowed
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusTooManyRequests:
		return CodeRateLimit
	case http.StatusBadGateway:
		return CodeBadGateway
	case http.StatusGatewayTimeout:
		return CodeTimeout
	default:
		return CodeError
	}
}
