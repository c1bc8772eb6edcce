package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message 消息实体，对应会话中的一个 turn
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendMessage 添加消息，seq 在会话内递增
func (db *DB) AppendMessage(ctx context.Context, sessionID, role, content string) (*Message, error) {
	msg := &Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: fromMillis(toMillis(time.Now())),
	}

	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?", sessionID,
		).Scan(&msg.Seq); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO messages (id, session_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			msg.ID, sessionID, msg.Seq, role, content, toMillis(msg.CreatedAt),
		); err != nil {
			return err
		}

		// 更新会话的 updated_at
		_, err := tx.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", toMillis(msg.CreatedAt), sessionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("append message to %s: %w", sessionID, err)
	}
	return msg, nil
}

// GetMessages 获取会话的全部消息，按 seq 升序
func (db *DB) GetMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, session_id, seq, role, content, created_at FROM messages WHERE session_id = ? ORDER BY seq",
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		var created int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = fromMillis(created)
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// CountMessages 返回会话的消息数
func (db *DB) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID).Scan(&n)
	return n, err
}
