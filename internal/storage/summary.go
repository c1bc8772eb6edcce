package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Summary is one persisted rolling summary of a session's older turns.
type Summary struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Version      int       `json:"version"`
	Summary      string    `json:"summary"`
	CoveredTurns int       `json:"covered_turns"`
	CreatedAt    time.Time `json:"created_at"`
}

// SaveSummary 保存摘要。同一版本重复保存时覆盖
func (db *DB) SaveSummary(ctx context.Context, sessionID, summary string, covered, version int) (*Summary, error) {
	s := &Summary{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		Version:      version,
		Summary:      summary,
		CoveredTurns: covered,
		CreatedAt:    fromMillis(toMillis(time.Now())),
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO summaries (id, session_id, version, summary, covered_turns, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, version) DO UPDATE SET
			summary = excluded.summary,
			covered_turns = excluded.covered_turns,
			created_at = excluded.created_at`,
		s.ID, sessionID, version, summary, covered, toMillis(s.CreatedAt))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetLatestSummary 获取最新版本的摘要
func (db *DB) GetLatestSummary(ctx context.Context, sessionID string) (*Summary, error) {
	var s Summary
	var created int64
	err := db.QueryRowContext(ctx, `
		SELECT id, session_id, version, summary, covered_turns, created_at
		FROM summaries WHERE session_id = ? ORDER BY version DESC LIMIT 1`, sessionID,
	).Scan(&s.ID, &s.SessionID, &s.Version, &s.Summary, &s.CoveredTurns, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.CreatedAt = fromMillis(created)
	return &s, nil
}
