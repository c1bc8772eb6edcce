package storage

import (
	"context"
	"errors"
	"fmt"

	"cassandra/internal/chat"
	"cassandra/internal/history"
)

// SessionStore adapts DB to chat.Store and rebuilds sessions from disk.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a SessionStore.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// DB returns the underlying database.
func (s *SessionStore) DB() *DB {
	return s.db
}

// AppendTurn implements chat.Store.
func (s *SessionStore) AppendTurn(ctx context.Context, sessionID string, t history.Turn) error {
	_, err := s.db.AppendMessage(ctx, sessionID, string(t.Role), t.Content)
	return err
}

// SaveSummary implements chat.Store.
func (s *SessionStore) SaveSummary(ctx context.Context, sessionID, summary string, covered, version int) error {
	_, err := s.db.SaveSummary(ctx, sessionID, summary, covered, version)
	return err
}

// Create starts a new persisted session. An empty id generates one.
func (s *SessionStore) Create(ctx context.Context, id string) (*chat.Session, error) {
	var (
		rec *Session
		err error
	)
	if id == "" {
		rec, err = s.db.CreateSession(ctx, nil)
	} else {
		rec, err = s.db.CreateSessionWithID(ctx, id, nil)
	}
	if err != nil {
		return nil, err
	}
	return chat.RestoreSession(rec.ID, rec.CreatedAt, nil, "", 0, 0), nil
}

// Load rebuilds a session with its turns and latest summary.
func (s *SessionStore) Load(ctx context.Context, id string) (*chat.Session, error) {
	rec, err := s.db.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	msgs, err := s.db.GetMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load messages for %s: %w", id, err)
	}
	turns := make([]history.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := history.Role(m.Role)
		if !role.Valid() {
			return nil, fmt.Errorf("session %s message %d: unknown role %q", id, m.Seq, m.Role)
		}
		turns = append(turns, history.Turn{Role: role, Content: m.Content})
	}

	var summary string
	var covered, version int
	sum, err := s.db.GetLatestSummary(ctx, id)
	switch {
	case err == nil:
		summary, covered, version = sum.Summary, sum.CoveredTurns, sum.Version
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("load summary for %s: %w", id, err)
	}

	return chat.RestoreSession(rec.ID, rec.CreatedAt, turns, summary, covered, version), nil
}

// LoadOrCreate loads id, creating it when it does not exist.
func (s *SessionStore) LoadOrCreate(ctx context.Context, id string) (*chat.Session, error) {
	sess, err := s.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return s.Create(ctx, id)
	}
	return sess, err
}

// DeleteSession removes a session with its turns and summaries.
func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	return s.db.DeleteSession(ctx, id)
}

var _ chat.Store = (*SessionStore)(nil)
