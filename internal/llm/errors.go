package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailReason categorizes why a model request failed. The router uses it to
// decide between retrying the same model and failing over to the fallback.
type FailReason string

const (
	// FailAuth indicates authentication failure (HTTP 401, 403).
	FailAuth FailReason = "auth"

	// FailBilling indicates payment or quota exhaustion (HTTP 402).
	FailBilling FailReason = "billing"

	// FailRateLimit indicates rate limiting (HTTP 429).
	FailRateLimit FailReason = "rate_limit"

	// FailTimeout indicates the request timed out.
	FailTimeout FailReason = "timeout"

	// FailServerError indicates provider-side issues (HTTP 5xx).
	FailServerError FailReason = "server_error"

	// FailInvalidRequest indicates a client-side issue (HTTP 400). These are
	// programming errors and never trigger failover.
	FailInvalidRequest FailReason = "invalid_request"

	// FailUnavailable indicates the model or provider cannot be reached.
	FailUnavailable FailReason = "unavailable"

	// FailUnsupported indicates the model lacks the requested capability,
	// such as embeddings on a chat-only model.
	FailUnsupported FailReason = "unsupported"

	// FailUnknown indicates an unclassified error.
	FailUnknown FailReason = "unknown"
)

// IsRetryable reports whether retrying the same model may succeed.
func (r FailReason) IsRetryable() bool {
	switch r {
	case FailRateLimit, FailTimeout, FailServerError:
		return true
	default:
		return false
	}
}

// ShouldFailover reports whether the error warrants trying the fallback
// model. Invalid requests would fail identically anywhere, so they do not.
func (r FailReason) ShouldFailover() bool {
	switch r {
	case FailInvalidRequest:
		return false
	default:
		return true
	}
}

// Error is a structured model failure.
type Error struct {
	Reason   FailReason
	Provider string
	Model    string
	Status   int
	Cause    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s/%s", e.Reason, e.Provider, e.Model)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// ReasonOf extracts the failure reason from an error chain.
func ReasonOf(err error) FailReason {
	var me *Error
	if errors.As(err, &me) {
		return me.Reason
	}
	return FailUnknown
}

// wrapError builds a structured error, classifying by status code first and
// error text second.
func wrapError(provider, model string, status int, err error) *Error {
	reason := classifyStatus(status)
	if reason == FailUnknown {
		reason = classifyText(err)
	}
	return &Error{Reason: reason, Provider: provider, Model: model, Status: status, Cause: err}
}

func classifyStatus(status int) FailReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailAuth
	case status == http.StatusPaymentRequired:
		return FailBilling
	case status == http.StatusTooManyRequests:
		return FailRateLimit
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return FailInvalidRequest
	case status == http.StatusNotFound:
		return FailUnavailable
	case status >= 500:
		return FailServerError
	default:
		return FailUnknown
	}
}

func classifyText(err error) FailReason {
	if err == nil {
		return FailUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return FailRateLimit
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return FailTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return FailUnavailable
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "api key"):
		return FailAuth
	default:
		return FailUnknown
	}
}
