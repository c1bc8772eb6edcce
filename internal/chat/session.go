// Package chat runs conversation turns: it records the user's input,
// derives the history to send, calls the completion client and records the
// reply.
package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"cassandra/internal/compaction"
	"cassandra/internal/history"
)

// Phase is the controller state of a session.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseAwaitingInput
	PhaseReducing
	PhaseAwaitingCompletion
	PhaseDisplaying
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingInput:
		return "awaiting_input"
	case PhaseReducing:
		return "reducing"
	case PhaseAwaitingCompletion:
		return "awaiting_completion"
	case PhaseDisplaying:
		return "displaying"
	default:
		return "unknown"
	}
}

// Session is the state of one conversation: the visible log and the derived
// summary state. A session runs at most one turn at a time.
type Session struct {
	ID        string
	CreatedAt time.Time

	Log   *history.Log
	State *compaction.State

	turnMu sync.Mutex
	phase  atomic.Int32
}

// NewSession creates an empty session.
func NewSession(id string) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		Log:       history.NewLog(),
		State:     compaction.NewState(),
	}
}

// RestoreSession rebuilds a session from stored turns and summary.
func RestoreSession(id string, createdAt time.Time, turns []history.Turn, summary string, covered, version int) *Session {
	return &Session{
		ID:        id,
		CreatedAt: createdAt,
		Log:       history.NewLog(turns...),
		State:     compaction.RestoreState(summary, covered, version),
	}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	return Phase(s.phase.Load())
}

// Busy reports whether a turn is in flight.
func (s *Session) Busy() bool {
	return s.Phase() != PhaseIdle
}

// Summary returns the current running summary.
func (s *Session) Summary() string {
	summary, _, _ := s.State.Summary()
	return summary
}
