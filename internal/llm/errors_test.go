package llm

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   FailReason
	}{
		{401, FailAuth},
		{403, FailAuth},
		{402, FailBilling},
		{429, FailRateLimit},
		{400, FailInvalidRequest},
		{404, FailUnavailable},
		{500, FailServerError},
		{503, FailServerError},
		{200, FailUnknown},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestClassifyText(t *testing.T) {
	tests := []struct {
		err  error
		want FailReason
	}{
		{fmt.Errorf("rate limit exceeded"), FailRateLimit},
		{fmt.Errorf("context deadline exceeded"), FailTimeout},
		{fmt.Errorf("dial tcp: connection refused"), FailUnavailable},
		{fmt.Errorf("invalid api key"), FailAuth},
		{fmt.Errorf("something odd"), FailUnknown},
	}
	for _, tt := range tests {
		if got := classifyText(tt.err); got != tt.want {
			t.Errorf("classifyText(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestReasonRetryAndFailover(t *testing.T) {
	if !FailRateLimit.IsRetryable() || !FailServerError.IsRetryable() || !FailTimeout.IsRetryable() {
		t.Error("transient reasons must be retryable")
	}
	if FailAuth.IsRetryable() || FailInvalidRequest.IsRetryable() {
		t.Error("permanent reasons must not be retryable")
	}
	if FailInvalidRequest.ShouldFailover() {
		t.Error("invalid requests must not fail over")
	}
	if !FailAuth.ShouldFailover() || !FailUnavailable.ShouldFailover() {
		t.Error("provider failures must fail over")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := wrapError("openai", "gpt-4o-mini", 500, cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause lost")
	}
	if ReasonOf(err) != FailServerError {
		t.Errorf("reason = %s", ReasonOf(err))
	}
	if ReasonOf(fmt.Errorf("plain")) != FailUnknown {
		t.Error("plain errors must classify as unknown")
	}
}

func TestCountTokensFallback(t *testing.T) {
	if CountTokens("") != 0 {
		t.Error("empty text must count zero")
	}
	n := CountTokens("hello world, this is a token counting test")
	if n <= 0 {
		t.Errorf("count = %d, want positive", n)
	}
}
