// Package history holds the visible conversation log and the entry types
// sent to the model.
package history

import (
	"fmt"
	"strings"
	"sync"
)

// Role identifies who produced a Turn.
type Role string

// Turn roles. Only these two appear in the log.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one entry in the visible conversation log.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// String renders the turn as "role: content".
func (t Turn) String() string {
	return fmt.Sprintf("%s: %s", t.Role, t.Content)
}

// Serialize renders turns one per line as "role: content".
func Serialize(turns []Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = t.String()
	}
	return strings.Join(lines, "\n")
}

// Log is the ordered, append-only record of a conversation.
// It is safe for concurrent use.
type Log struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewLog returns a log seeded with turns, in order.
func NewLog(turns ...Turn) *Log {
	l := &Log{turns: make([]Turn, 0, len(turns))}
	l.turns = append(l.turns, turns...)
	return l
}

// Append adds a turn to the end of the log and returns the new length.
func (l *Log) Append(t Turn) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, t)
	return len(l.turns)
}

// Len returns the number of turns.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Turns returns a copy of all turns.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Last returns the most recent turn.
func (l *Log) Last() (Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.turns) == 0 {
		return Turn{}, false
	}
	return l.turns[len(l.turns)-1], true
}

// Split divides turns into the head and the last k turns.
// With k >= len(turns) the head is empty.
func Split(turns []Turn, k int) (head, tail []Turn) {
	if k < 0 {
		k = 0
	}
	if k >= len(turns) {
		return nil, turns
	}
	cut := len(turns) - k
	return turns[:cut], turns[cut:]
}
