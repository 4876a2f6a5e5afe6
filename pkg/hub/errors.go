package hub

import (
	"fmt"

	"github.com/neira-project/neira/pkg/ratelimit"
)

// Error codes surfaced to the HTTP boundary.
const (
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodePaused       = "paused"
	CodeRateLimited  = "rate_limited"
	CodeBadRequest   = "bad_request"
	CodeNotFound     = "not_found"
	CodeValidation   = "validation"
	CodeWatchdogHard = "watchdog_hard"
	CodeCancelled    = "cancelled"
	CodeInternal     = "internal"
)

// Error is a structured hub error with a short code. The API layer
// maps codes to HTTP statuses.
type Error struct {
	Code    string
	Message string
	// RateLimit carries the window state for rate_limited errors so
	// the response headers stay accurate even on rejection.
	RateLimit *ratelimit.Result
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errUnauthorized() *Error {
	return &Error{Code: CodeUnauthorized, Message: "unknown token"}
}

func errForbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

func errPaused(reason string) *Error {
	return &Error{Code: CodePaused, Message: fmt.Sprintf("system paused: %s", reason)}
}

func errRateLimited(r ratelimit.Result) *Error {
	return &Error{Code: CodeRateLimited, Message: "rate limited", RateLimit: &r}
}

func errBadRequest(msg string) *Error {
	return &Error{Code: CodeBadRequest, Message: msg}
}

func errNotFound(what string) *Error {
	return &Error{Code: CodeNotFound, Message: what}
}

func errInternal(err error) *Error {
	return &Error{Code: CodeInternal, Message: err.Error()}
}
