package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"cassandra/internal/history"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSummarizer counts calls and records the text it was given.
type recordingSummarizer struct {
	calls  int
	inputs []string
	fn     func(call int, text string) (string, error)
}

func (r *recordingSummarizer) Summarize(_ context.Context, text string) (string, error) {
	r.calls++
	r.inputs = append(r.inputs, text)
	if r.fn != nil {
		return r.fn(r.calls, text)
	}
	return fmt.Sprintf("summary-%d", r.calls), nil
}

func makeTurns(n int) []history.Turn {
	turns := make([]history.Turn, n)
	for i := range turns {
		role := history.RoleUser
		if i%2 == 1 {
			role = history.RoleAssistant
		}
		turns[i] = history.Turn{Role: role, Content: fmt.Sprintf("turn %d", i+1)}
	}
	return turns
}

func TestReduce_PassThroughAtOrBelowThreshold(t *testing.T) {
	s := &recordingSummarizer{}
	r := NewReducer(DefaultConfig(), s)

	for _, n := range []int{1, 5, 20} {
		st := NewState()
		turns := makeTurns(n)
		reduced := r.Reduce(context.Background(), st, turns)

		require.Len(t, reduced, n)
		for i, e := range reduced {
			assert.NotEqual(t, history.EntrySystem, e.Role)
			assert.Equal(t, turns[i].Content, e.Content)
		}
	}
	assert.Equal(t, 0, s.calls)
}

func TestReduce_CollapseAboveThreshold(t *testing.T) {
	s := &recordingSummarizer{}
	r := NewReducer(DefaultConfig(), s)
	st := NewState()

	turns := makeTurns(25)
	reduced := r.Reduce(context.Background(), st, turns)

	require.Equal(t, 1, s.calls)
	assert.Equal(t, history.Serialize(turns[:21]), s.inputs[0])
	assert.True(t, strings.HasPrefix(s.inputs[0], "user: turn 1\nassistant: turn 2\n"))
	assert.True(t, strings.HasSuffix(s.inputs[0], "user: turn 21"))

	require.Len(t, reduced, 5)
	assert.Equal(t, history.Entry{Role: history.EntrySystem, Content: "Conversation summary: summary-1"}, reduced[0])
	assert.Equal(t, history.ToEntries(turns[21:]), reduced[1:])

	systemCount := 0
	for _, e := range reduced {
		if e.Role == history.EntrySystem {
			systemCount++
		}
	}
	assert.Equal(t, 1, systemCount)

	summary, covered, version := st.Summary()
	assert.Equal(t, "summary-1", summary)
	assert.Equal(t, 21, covered)
	assert.Equal(t, 1, version)
}

func TestReduce_MemoizedOnLength(t *testing.T) {
	s := &recordingSummarizer{}
	r := NewReducer(DefaultConfig(), s)
	st := NewState()

	turns := makeTurns(22)
	first := r.Reduce(context.Background(), st, turns)
	second := r.Reduce(context.Background(), st, turns)

	assert.Equal(t, 1, s.calls, "unchanged length must not re-summarize")
	assert.Equal(t, first, second)

	first[0].Content = "mutated"
	third := r.Reduce(context.Background(), st, turns)
	assert.Equal(t, "Conversation summary: summary-1", third[0].Content, "callers get a copy")

	turns = append(turns, history.Turn{Role: history.RoleUser, Content: "one more"})
	r.Reduce(context.Background(), st, turns)
	assert.Equal(t, 2, s.calls)
}

func TestReduce_SummaryReplacedNotAppended(t *testing.T) {
	s := &recordingSummarizer{}
	r := NewReducer(DefaultConfig(), s)
	st := NewState()

	r.Reduce(context.Background(), st, makeTurns(21))
	reduced := r.Reduce(context.Background(), st, makeTurns(22))

	assert.Equal(t, "Conversation summary: summary-2", reduced[0].Content)
}

func TestReduce_FailureKeepsStaleSummary(t *testing.T) {
	s := &recordingSummarizer{fn: func(call int, _ string) (string, error) {
		if call == 2 {
			return "", ErrSummaryFailed
		}
		return "good summary", nil
	}}
	r := NewReducer(DefaultConfig(), s)
	st := NewState()

	r.Reduce(context.Background(), st, makeTurns(21))
	reduced := r.Reduce(context.Background(), st, makeTurns(23))

	require.Len(t, reduced, 5)
	assert.Equal(t, "Conversation summary: good summary", reduced[0].Content)
	summary, covered, version := st.Summary()
	assert.Equal(t, "good summary", summary)
	assert.Equal(t, 17, covered)
	assert.Equal(t, 1, version)
}

func TestReduce_FailureResetPolicy(t *testing.T) {
	s := &recordingSummarizer{fn: func(call int, _ string) (string, error) {
		if call == 2 {
			return "", errors.New("timeout")
		}
		return "good summary", nil
	}}
	cfg := DefaultConfig()
	cfg.OnFailure = ResetEmpty
	r := NewReducer(cfg, s)
	st := NewState()

	r.Reduce(context.Background(), st, makeTurns(21))
	reduced := r.Reduce(context.Background(), st, makeTurns(23))

	assert.Equal(t, "Conversation summary: ", reduced[0].Content)
	assert.Len(t, reduced, 5)
	summary, _, _ := st.Summary()
	assert.Empty(t, summary)
}

func TestReduce_SummarizerPanicIsContained(t *testing.T) {
	s := SummarizerFunc(func(context.Context, string) (string, error) {
		panic("boom")
	})
	r := NewReducer(DefaultConfig(), s)
	st := NewState()

	var reduced []history.Entry
	require.NotPanics(t, func() {
		reduced = r.Reduce(context.Background(), st, makeTurns(21))
	})
	assert.Len(t, reduced, 5)
	assert.Equal(t, history.EntrySystem, reduced[0].Role)
}

func TestReduce_RestoredStateSkipsCoveredPrefix(t *testing.T) {
	s := &recordingSummarizer{}
	r := NewReducer(DefaultConfig(), s)

	st := RestoreState("persisted", 21, 3)
	reduced := r.Reduce(context.Background(), st, makeTurns(25))
	assert.Equal(t, 0, s.calls)
	assert.Equal(t, "Conversation summary: persisted", reduced[0].Content)

	r.Reduce(context.Background(), st, makeTurns(26))
	assert.Equal(t, 1, s.calls)
	_, covered, version := st.Summary()
	assert.Equal(t, 22, covered)
	assert.Equal(t, 4, version)
}

func TestReduce_CustomThresholdAndTail(t *testing.T) {
	s := &recordingSummarizer{}
	r := NewReducer(Config{Threshold: 4, Tail: 2}, s)
	st := NewState()

	reduced := r.Reduce(context.Background(), st, makeTurns(5))
	require.Len(t, reduced, 3)
	assert.Equal(t, "user: turn 1\nassistant: turn 2\nuser: turn 3", s.inputs[0])
	assert.Equal(t, KeepStale, r.Config().OnFailure)
}

func TestReduce_NilSummarizer(t *testing.T) {
	r := NewReducer(DefaultConfig(), nil)
	st := NewState()
	reduced := r.Reduce(context.Background(), st, makeTurns(21))
	assert.Len(t, reduced, 5)
	assert.Equal(t, "Conversation summary: ", reduced[0].Content)
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, KeepStale, p)

	p, err = ParseFailurePolicy("reset")
	require.NoError(t, err)
	assert.Equal(t, ResetEmpty, p)

	_, err = ParseFailurePolicy("retry")
	assert.Error(t, err)
}
