package compaction

import (
	"testing"

	"cassandra/internal/history"
)

func TestTokenCounter_EstimateText(t *testing.T) {
	tc := NewTokenCounter()

	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{name: "empty text", text: "", expected: 0},
		{name: "short English text", text: "hello", expected: 2},
		{name: "English sentence", text: "Hello, how are you?", expected: 7},
		{name: "multibyte text", text: "Ólafur Arnalds", expected: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tc.EstimateText(tt.text)
			if got != tt.expected {
				t.Errorf("EstimateText(%q) = %d, want %d", tt.text, got, tt.expected)
			}
		})
	}
}

func TestTokenCounter_EstimateEntries(t *testing.T) {
	tc := NewTokenCounter()

	tests := []struct {
		name     string
		entries  []history.Entry
		expected int
	}{
		{name: "empty", entries: nil, expected: 0},
		{
			name:     "single entry",
			entries:  []history.Entry{{Role: history.EntryHuman, Content: "hello"}},
			expected: 6,
		},
		{
			name: "summary plus tail",
			entries: []history.Entry{
				{Role: history.EntrySystem, Content: "You are a helpful assistant."},
				{Role: history.EntryHuman, Content: "What is 2+2?"},
				{Role: history.EntryAssistant, Content: "2+2 equals 4."},
			},
			expected: 31,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tc.EstimateEntries(tt.entries)
			if got != tt.expected {
				t.Errorf("EstimateEntries() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestTokenCounter_EstimateTurns(t *testing.T) {
	tc := NewTokenCounter()
	got := tc.EstimateTurns([]history.Turn{
		{Role: history.RoleUser, Content: "hello"},
		{Role: history.RoleAssistant, Content: "Hi there!"},
	})
	if got != 13 {
		t.Errorf("EstimateTurns() = %d, want 13", got)
	}
}
