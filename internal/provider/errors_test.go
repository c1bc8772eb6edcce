package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsContextWindowExceeded_TypedError(t *testing.T) {
	err := &ProviderError{Code: ErrCodeContextWindowExceeded, Message: "some message"}
	assert.True(t, IsContextWindowExceeded(err))
	assert.True(t, IsContextWindowExceeded(fmt.Errorf("outer: %w", err)))
}

func TestIsContextWindowExceeded_KeywordFallback(t *testing.T) {
	keywords := []string{
		"context window exceeded",
		"context length exceeded",
		"maximum context length",
		"token limit exceeded",
		"too many tokens",
	}
	for _, kw := range keywords {
		err := errors.New("provider error: " + kw + " for this model")
		assert.True(t, IsContextWindowExceeded(err), kw)
	}
}

func TestIsContextWindowExceeded_NegativeCases(t *testing.T) {
	cases := []error{
		errors.New("invalid request"),
		&ProviderError{Code: ErrCodeRateLimited, Message: "rate limited"},
		nil,
	}
	for _, err := range cases {
		assert.False(t, IsContextWindowExceeded(err), "%v", err)
	}
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(&ProviderError{Code: ErrCodeTimeout}))
	assert.True(t, IsTimeout(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.False(t, IsTimeout(&ProviderError{Code: ErrCodeAuthFailed}))
	assert.False(t, IsTimeout(errors.New("boom")))
	assert.False(t, IsTimeout(nil))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeRateLimited, CodeOf(fmt.Errorf("x: %w", NewProviderError(ErrCodeRateLimited, "slow down", "openai", true))))
	assert.Equal(t, ErrCodeTimeout, CodeOf(context.DeadlineExceeded))
	assert.Equal(t, ErrCodeUnknown, CodeOf(errors.New("boom")))
}

func TestProviderError_Error(t *testing.T) {
	err := NewProviderError(ErrCodeAuthFailed, "bad key", "openai", false)
	assert.Equal(t, "[openai] AUTH_FAILED: bad key", err.Error())
	assert.True(t, err.IsUserRecoverable())
	assert.False(t, NewProviderError(ErrCodeTimeout, "slow", "openai", true).IsUserRecoverable())
}
