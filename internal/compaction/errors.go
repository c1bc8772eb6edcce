// Package compaction collapses older conversation turns into a running
// summary so the history sent to the model stays bounded.
package compaction

import "errors"

// Compaction errors.
var (
	// ErrSummaryFailed indicates that summary generation failed.
	ErrSummaryFailed = errors.New("compaction: summary generation failed")

	// ErrEmptySummary indicates that the model returned no summary text.
	ErrEmptySummary = errors.New("compaction: empty summary")

	// ErrNoProvider indicates that no provider is configured for summarization.
	ErrNoProvider = errors.New("compaction: provider not configured")
)
