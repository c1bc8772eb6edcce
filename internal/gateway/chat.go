package gateway

import (
	"context"
	"strings"

	"cassandra/internal/chat"
	"cassandra/internal/gateway/websocket"
	"cassandra/internal/scheduler"
	"cassandra/internal/ui"
	"cassandra/pkg/logger"
)

// PhaseObserver forwards controller phase changes to the session's
// subscribers.
func PhaseObserver(hub *websocket.Hub) chat.Observer {
	return func(sessionID string, p chat.Phase) {
		hub.Send(websocket.WSMessage{Type: websocket.TypePhase, Session: sessionID, Phase: p.String()})
	}
}

// hubDisplay shows a turn to every client subscribed to the session.
// Stream frames carry the cumulative text, so a dropped frame is repaired by
// the next one.
type hubDisplay struct {
	hub       *websocket.Hub
	sessionID string
	shown     string
}

func (d *hubDisplay) ShowUser(text string) {
	d.hub.Send(websocket.WSMessage{Type: websocket.TypeUser, Session: d.sessionID, Text: text})
}

func (d *hubDisplay) ShowPartial(text string) {
	delta := strings.TrimPrefix(text, d.shown)
	d.shown = text
	d.hub.Send(websocket.WSMessage{Type: websocket.TypeStream, Session: d.sessionID, Text: text, Delta: delta})
}

func (d *hubDisplay) ShowAssistant(text string) {
	msg := websocket.WSMessage{Type: websocket.TypeDone, Session: d.sessionID, Text: text}
	if html, err := ui.RenderMarkdown(text); err == nil {
		msg.HTML = html
	} else {
		logger.Warn().Err(err).Str("session_id", d.sessionID).Msg("failed to render reply")
	}
	d.hub.Send(msg)
}

// chatHandler returns the hub's handler for chat frames. Turns are queued and
// run in the background; their output reaches the client via the hub.
func chatHandler(hub *websocket.Hub, d *scheduler.Dispatcher) websocket.ChatHandler {
	return func(sessionID, message string) error {
		disp := &hubDisplay{hub: hub, sessionID: sessionID}
		_, err := d.Submit(context.Background(), sessionID, strings.TrimSpace(message), disp, func(_ scheduler.TurnResult, err error) {
			if err != nil {
				logger.Warn().Err(err).Str("session_id", sessionID).Msg("queued turn dropped")
				hub.Send(websocket.WSMessage{
					Type:    websocket.TypeError,
					Session: sessionID,
					Code:    websocket.CodeChatError,
					Message: err.Error(),
				})
			}
		})
		return err
	}
}
