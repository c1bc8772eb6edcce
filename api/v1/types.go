package v1

import "time"

// ChatRequest is the body of POST /chat and /chat/stream.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"` // optional, a new session is started if empty
	Message   string `json:"message"`
}

// ChatResponse is the reply to a batch chat request.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Turns     int    `json:"turns"`
}

// ChatStreamEvent is the data payload of every SSE event on /chat/stream.
// Type is one of the event names below. Content events carry the new Delta
// and the reply so far in Text; done events carry the final Message.
type ChatStreamEvent struct {
	Type      string `json:"type"`
	Delta     string `json:"delta,omitempty"`
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Turns     int    `json:"turns,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SSE event names.
const (
	EventContent = "content"
	EventDone    = "done"
	EventError   = "error"
)

// CreateSessionRequest is the optional body of POST /sessions.
type CreateSessionRequest struct {
	ID string `json:"id,omitempty"`
}

// SessionResponse describes one session.
type SessionResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// SessionsListResponse is a page of sessions, most recently updated first.
type SessionsListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// MessageView is one turn of a session. HTML is set only for ?format=html.
type MessageView struct {
	Seq       int       `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	HTML      string    `json:"html,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MessagesResponse lists a session's turns in order.
type MessagesResponse struct {
	SessionID string        `json:"session_id"`
	Messages  []MessageView `json:"messages"`
}

// SummaryResponse is the latest rolling summary of a session. Version 0
// means the session has never been summarized.
type SummaryResponse struct {
	SessionID    string     `json:"session_id"`
	Summary      string     `json:"summary"`
	CoveredTurns int        `json:"covered_turns"`
	Version      int        `json:"version"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
}
