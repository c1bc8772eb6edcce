package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound 表示记录不存在
var ErrNotFound = errors.New("not found")

// ErrExists is returned when creating a session whose id is taken.
var ErrExists = errors.New("already exists")

// Session 会话实体
type Session struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Metadata  json.RawMessage `json:"metadata"`
}

// CreateSession 创建新会话
func (db *DB) CreateSession(ctx context.Context, metadata json.RawMessage) (*Session, error) {
	return db.CreateSessionWithID(ctx, uuid.New().String(), metadata)
}

// CreateSessionWithID 使用指定 ID 创建新会话
func (db *DB) CreateSessionWithID(ctx context.Context, id string, metadata json.RawMessage) (*Session, error) {
	now := time.Now()
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}

	_, err := db.ExecContext(ctx,
		"INSERT INTO sessions (id, title, metadata, created_at, updated_at) VALUES (?, '', ?, ?, ?)",
		id, string(metadata), toMillis(now), toMillis(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("session %s: %w", id, ErrExists)
		}
		return nil, fmt.Errorf("insert session %s: %w", id, err)
	}

	return &Session{
		ID:        id,
		CreatedAt: fromMillis(toMillis(now)),
		UpdatedAt: fromMillis(toMillis(now)),
		Metadata:  metadata,
	}, nil
}

// GetSession 获取会话
func (db *DB) GetSession(ctx context.Context, id string) (*Session, error) {
	row := db.QueryRowContext(ctx,
		"SELECT id, title, metadata, created_at, updated_at FROM sessions WHERE id = ?", id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ListSessions 列出会话，按更新时间倒序
func (db *DB) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		"SELECT id, title, metadata, created_at, updated_at FROM sessions ORDER BY updated_at DESC, id LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// CountSessions 返回会话总数
func (db *DB) CountSessions(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&n)
	return n, err
}

// DeleteSession 删除会话，消息和摘要级联删除
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// TouchSession 更新会话的更新时间
func (db *DB) TouchSession(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", toMillis(time.Now()), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// SetSessionTitle 设置会话标题
func (db *DB) SetSessionTitle(ctx context.Context, id, title string) error {
	res, err := db.ExecContext(ctx, "UPDATE sessions SET title = ? WHERE id = ?", title, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteSessionsBefore removes sessions idle since before cutoff and returns
// their ids.
func (db *DB) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := db.QueryContext(ctx, "DELETE FROM sessions WHERE updated_at < ? RETURNING id", toMillis(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var s Session
	var metadata string
	var created, updated int64
	if err := row.Scan(&s.ID, &s.Title, &metadata, &created, &updated); err != nil {
		return nil, err
	}
	s.Metadata = json.RawMessage(metadata)
	s.CreatedAt = fromMillis(created)
	s.UpdatedAt = fromMillis(updated)
	return &s, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
