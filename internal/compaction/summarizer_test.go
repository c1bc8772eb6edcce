package compaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"cassandra/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockProvider implements provider.Provider for testing.
type mockProvider struct {
	chatFunc func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error)
}

func (m *mockProvider) Name() string {
	return "mock"
}

func (m *mockProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	if m.chatFunc != nil {
		return m.chatFunc(ctx, req)
	}
	return &provider.ChatResponse{Content: "Summary of the conversation."}, nil
}

func (m *mockProvider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	return nil, errors.New("not implemented")
}

func TestLLMSummarizer_Request(t *testing.T) {
	var got provider.ChatRequest
	var deadline time.Time
	p := &mockProvider{chatFunc: func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
		got = req
		deadline, _ = ctx.Deadline()
		return &provider.ChatResponse{Content: "  the user likes jazz  \n"}, nil
	}}

	s := NewLLMSummarizer(p, SummarizerConfig{Model: "gpt-5-nano", ServiceTier: "flex", Timeout: 5 * time.Second})
	summary, err := s.Summarize(context.Background(), "user: jazz please")
	require.NoError(t, err)

	assert.Equal(t, "the user likes jazz", summary)
	assert.Equal(t, "gpt-5-nano", got.Model)
	assert.Equal(t, "flex", got.ServiceTier)
	assert.Equal(t, 0.0, got.Temperature)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, provider.RoleSystem, got.Messages[0].Role)
	assert.Equal(t, DefaultSummaryPrompt, got.Messages[0].Content)
	assert.Equal(t, provider.RoleUser, got.Messages[1].Role)
	assert.Equal(t, "user: jazz please", got.Messages[1].Content)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)
}

func TestLLMSummarizer_Failures(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error)
		wantErr error
	}{
		{
			name: "provider error",
			fn: func(context.Context, provider.ChatRequest) (*provider.ChatResponse, error) {
				return nil, provider.NewProviderError(provider.ErrCodeTimeout, "slow", "mock", true)
			},
			wantErr: ErrSummaryFailed,
		},
		{
			name: "empty summary",
			fn: func(context.Context, provider.ChatRequest) (*provider.ChatResponse, error) {
				return &provider.ChatResponse{Content: "   "}, nil
			},
			wantErr: ErrEmptySummary,
		},
		{
			name: "nil response",
			fn: func(context.Context, provider.ChatRequest) (*provider.ChatResponse, error) {
				return nil, nil
			},
			wantErr: ErrSummaryFailed,
		},
		{
			name: "panic",
			fn: func(context.Context, provider.ChatRequest) (*provider.ChatResponse, error) {
				panic("provider exploded")
			},
			wantErr: ErrSummaryFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewLLMSummarizer(&mockProvider{chatFunc: tt.fn}, SummarizerConfig{})
			var summary string
			var err error
			require.NotPanics(t, func() {
				summary, err = s.Summarize(context.Background(), "user: hi")
			})
			assert.Empty(t, summary)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLLMSummarizer_TimeoutBoundsCall(t *testing.T) {
	calls := 0
	p := &mockProvider{chatFunc: func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
		calls++
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	s := NewLLMSummarizer(p, SummarizerConfig{Timeout: 20 * time.Millisecond})
	start := time.Now()
	_, err := s.Summarize(context.Background(), "user: hi")

	assert.ErrorIs(t, err, ErrSummaryFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, calls, "no retries")
}

func TestLLMSummarizer_NoProvider(t *testing.T) {
	s := NewLLMSummarizer(nil, SummarizerConfig{})
	_, err := s.Summarize(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoProvider)
}
