package compaction

import (
	"cassandra/internal/history"
)

// TokenCounter estimates token counts for text and history entries.
type TokenCounter struct{}

// NewTokenCounter creates a new TokenCounter.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// EstimateText estimates the token count for a given text.
// This uses a simple heuristic: approximately 3 bytes per token.
func (tc *TokenCounter) EstimateText(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 2) / 3
}

// EstimateEntries estimates the total token count for reduced history,
// adding ~4 tokens of role overhead per entry.
func (tc *TokenCounter) EstimateEntries(entries []history.Entry) int {
	total := 0
	for _, e := range entries {
		total += tc.EstimateText(e.Content) + 4
	}
	return total
}

// EstimateTurns estimates the token count for log turns.
func (tc *TokenCounter) EstimateTurns(turns []history.Turn) int {
	total := 0
	for _, t := range turns {
		total += tc.EstimateText(t.Content) + 4
	}
	return total
}
