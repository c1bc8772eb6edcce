package compaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cassandra/internal/provider"
)

// Summarizer turns serialized history into a summary.
type Summarizer interface {
	Summarize(ctx context.Context, historyText string) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, historyText string) (string, error)

// Summarize calls f.
func (f SummarizerFunc) Summarize(ctx context.Context, historyText string) (string, error) {
	return f(ctx, historyText)
}

// LLMSummarizer summarizes through a provider at temperature 0, with one
// attempt bounded by a timeout.
type LLMSummarizer struct {
	provider provider.Provider
	config   SummarizerConfig
}

// NewLLMSummarizer creates a summarizer backed by prov.
func NewLLMSummarizer(prov provider.Provider, cfg SummarizerConfig) *LLMSummarizer {
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultSummaryPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &LLMSummarizer{provider: prov, config: cfg}
}

// Summarize implements Summarizer. Every failure, including a panic in the
// provider, is returned as an error wrapping ErrSummaryFailed.
func (s *LLMSummarizer) Summarize(ctx context.Context, historyText string) (summary string, err error) {
	if s.provider == nil {
		return "", ErrNoProvider
	}

	defer func() {
		if r := recover(); r != nil {
			summary = ""
			err = fmt.Errorf("%w: panic: %v", ErrSummaryFailed, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	resp, err := s.provider.Chat(ctx, provider.ChatRequest{
		Model: s.config.Model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: s.config.Prompt},
			{Role: provider.RoleUser, Content: historyText},
		},
		Temperature: 0,
		MaxTokens:   s.config.MaxTokens,
		ServiceTier: s.config.ServiceTier,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSummaryFailed, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: %w", ErrSummaryFailed, ErrEmptySummary)
	}

	summary = strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("%w: %w", ErrSummaryFailed, ErrEmptySummary)
	}
	return summary, nil
}
