package compaction

import (
	"context"
	"fmt"
	"sync"

	"cassandra/internal/history"
	"cassandra/pkg/logger"
)

// State is the per-session derived history: the running summary and the
// reduced history cached against the log length it was derived from.
type State struct {
	mu sync.Mutex

	summary string
	// covered is the number of leading turns the summary reflects.
	covered int
	// version increments on every successful recomputation.
	version int

	memoLen int
	memo    []history.Entry
}

// NewState returns an empty state. The first Reduce always derives.
func NewState() *State {
	return &State{memoLen: -1}
}

// RestoreState rebuilds state from a persisted summary. The memo is left
// empty so the next Reduce derives again; it only calls the summarizer if the
// log has grown past the covered prefix.
func RestoreState(summary string, covered, version int) *State {
	return &State{summary: summary, covered: covered, version: version, memoLen: -1}
}

// Summary returns the current summary, the number of turns it covers and its version.
func (s *State) Summary() (summary string, covered, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary, s.covered, s.version
}

// Reducer applies the threshold policy. It is stateless and may be shared
// between sessions; all per-session data lives in State.
type Reducer struct {
	config     Config
	summarizer Summarizer
	counter    *TokenCounter
}

// NewReducer creates a Reducer.
func NewReducer(cfg Config, s Summarizer) *Reducer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.Tail < 0 {
		cfg.Tail = 0
	}
	if cfg.OnFailure == "" {
		cfg.OnFailure = KeepStale
	}
	return &Reducer{config: cfg, summarizer: s, counter: NewTokenCounter()}
}

// Config returns the reducer configuration.
func (r *Reducer) Config() Config {
	return r.config
}

// NeedsSummary reports whether a log of length n is collapsed.
func (r *Reducer) NeedsSummary(n int) bool {
	return n > r.config.Threshold
}

// Reduce returns the history to send to the model for turns.
//
// With len(turns) <= Threshold every turn is passed through. Above it, the
// head (all but the last Tail turns) is summarized, the summary replaces the
// previous one, and the result is one system summary entry followed by the
// tail. The result is memoized on len(turns): calling again with the same
// length returns the cached slice without contacting the summarizer.
//
// Summarizer failures never escape; OnFailure decides whether the previous
// summary is kept or cleared.
func (r *Reducer) Reduce(ctx context.Context, st *State, turns []history.Turn) []history.Entry {
	st.mu.Lock()
	defer st.mu.Unlock()

	n := len(turns)
	if st.memoLen == n && st.memo != nil {
		return cloneEntries(st.memo)
	}

	var reduced []history.Entry
	if !r.NeedsSummary(n) {
		reduced = history.ToEntries(turns)
	} else {
		head, tail := history.Split(turns, r.config.Tail)
		r.refreshSummary(ctx, st, head)

		reduced = make([]history.Entry, 0, len(tail)+1)
		reduced = append(reduced, history.SummaryEntry(st.summary))
		reduced = append(reduced, history.ToEntries(tail)...)
	}

	st.memoLen = n
	st.memo = reduced

	logger.Debug().
		Int("turns", n).
		Int("entries", len(reduced)).
		Int("est_tokens", r.counter.EstimateEntries(reduced)).
		Msg("history reduced")

	return cloneEntries(reduced)
}

// refreshSummary recomputes the summary over head. Caller holds st.mu.
func (r *Reducer) refreshSummary(ctx context.Context, st *State, head []history.Turn) {
	if st.covered == len(head) && st.version > 0 {
		// restored state already reflects exactly this prefix
		return
	}

	summary, err := r.safeSummarize(ctx, history.Serialize(head))
	if err != nil {
		l := logger.Component("compaction")
		l.Warn().Err(err).
			Int("head_turns", len(head)).
			Str("policy", string(r.config.OnFailure)).
			Msg("summary recomputation failed")
		if r.config.OnFailure == ResetEmpty {
			st.summary = ""
			st.covered = 0
		}
		return
	}

	st.summary = summary
	st.covered = len(head)
	st.version++
}

func (r *Reducer) safeSummarize(ctx context.Context, text string) (summary string, err error) {
	if r.summarizer == nil {
		return "", ErrNoProvider
	}
	defer func() {
		if rec := recover(); rec != nil {
			summary = ""
			err = fmt.Errorf("%w: panic: %v", ErrSummaryFailed, rec)
		}
	}()
	return r.summarizer.Summarize(ctx, text)
}

func cloneEntries(in []history.Entry) []history.Entry {
	out := make([]history.Entry, len(in))
	copy(out, in)
	return out
}
