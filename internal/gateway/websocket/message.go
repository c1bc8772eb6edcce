// Package websocket provides the WebSocket hub and client management for
// browser chat sessions.
package websocket

import "encoding/json"

// WSMessage represents a WebSocket frame in either direction. On stream
// frames Text is the cumulative reply so far; on done frames it is the final
// reply and HTML its rendering.
type WSMessage struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`
	Delta   string `json:"delta,omitempty"`
	Phase   string `json:"phase,omitempty"`
	Path    string `json:"path,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Encode marshals the frame. WSMessage has no fields that can fail to encode.
func (m WSMessage) Encode() []byte {
	data, _ := json.Marshal(m)
	return data
}

// BroadcastMessage wraps a message with its target session.
type BroadcastMessage struct {
	Session string
	Data    []byte
}

// Message types.
const (
	// client -> server
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
	TypeChat        = "chat"

	// server -> client
	TypePong   = "pong"
	TypeUser   = "user"
	TypePhase  = "phase"
	TypeStream = "stream"
	TypeDone   = "done"
	TypeReload = "reload"
	TypeError  = "error"
)

// Error codes sent in error frames.
const (
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeChatError      = "CHAT_ERROR"
)
