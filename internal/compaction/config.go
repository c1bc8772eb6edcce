package compaction

import (
	"fmt"
	"time"
)

// DefaultSummaryPrompt is the system instruction sent with the serialized head.
const DefaultSummaryPrompt = "Summarize the following chat history into a concise form, preserving important context."

// FailurePolicy decides what happens to the running summary when a
// recomputation fails.
type FailurePolicy string

const (
	// KeepStale keeps the last good summary.
	KeepStale FailurePolicy = "keep"
	// ResetEmpty clears the summary.
	ResetEmpty FailurePolicy = "reset"
)

// ParseFailurePolicy maps a config string to a policy. Empty means KeepStale.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", KeepStale:
		return KeepStale, nil
	case ResetEmpty:
		return ResetEmpty, nil
	default:
		return "", fmt.Errorf("compaction: unknown failure policy %q", s)
	}
}

// Config holds configuration for history reduction.
type Config struct {
	// Threshold is the log length above which the head is summarized.
	// Default: 20
	Threshold int `json:"threshold"`

	// Tail is the number of most recent turns always sent verbatim.
	// Default: 4
	Tail int `json:"tail"`

	// OnFailure is applied when the summarizer fails.
	// Default: KeepStale
	OnFailure FailurePolicy `json:"on_failure"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Threshold: 20,
		Tail:      4,
		OnFailure: KeepStale,
	}
}

// SummarizerConfig configures LLMSummarizer.
type SummarizerConfig struct {
	Model       string
	Prompt      string
	MaxTokens   int
	ServiceTier string
	// Timeout bounds one summarization call. Default: 30s
	Timeout time.Duration
}
