package v1

import (
	"net/http"
	"strings"

	"cassandra/internal/chat"
	"cassandra/internal/gateway/handlers"
	"cassandra/pkg/logger"
)

// HandleChat runs a turn and returns the whole reply.
func (r *Router) HandleChat(w http.ResponseWriter, req *http.Request) {
	var chatReq ChatRequest
	if err := handlers.DecodeJSON(req, &chatReq); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, err.Error())
		return
	}
	if !r.ready(w) {
		return
	}

	res, err := r.dispatcher.Run(req.Context(), chatReq.SessionID, strings.TrimSpace(chatReq.Message), nil)
	if err != nil {
		sendTurnError(w, err)
		return
	}

	handlers.SendJSON(w, http.StatusOK, ChatResponse{
		SessionID: res.SessionID,
		Message:   res.Reply,
		Turns:     res.Turns,
	})
}

// HandleChatStream runs a turn and streams the reply as server-sent events:
// content events while it arrives, then one done event carrying the final
// text. When the reply fails midway the done event carries the apology, which
// replaces whatever was streamed.
func (r *Router) HandleChatStream(w http.ResponseWriter, req *http.Request) {
	var chatReq ChatRequest
	if err := handlers.DecodeJSON(req, &chatReq); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, err.Error())
		return
	}
	if !r.ready(w) {
		return
	}
	message := strings.TrimSpace(chatReq.Message)
	if err := r.dispatcher.Controller().Validate(message); err != nil {
		sendTurnError(w, err)
		return
	}

	sse, err := handlers.NewSSEWriter(w)
	if err != nil {
		handlers.SendError(w, http.StatusInternalServerError, handlers.ErrCodeInternalError, err.Error())
		return
	}

	// the turn keeps running if the client goes away; stop writing once a
	// write fails
	gone := false
	send := func(event string, data ChatStreamEvent) {
		if gone {
			return
		}
		if err := sse.Send(event, data); err != nil {
			gone = true
			logger.Debug().Err(err).Msg("SSE client went away")
		}
	}

	shown := ""
	disp := chat.DisplayFuncs{
		Partial: func(text string) {
			delta := strings.TrimPrefix(text, shown)
			shown = text
			send(EventContent, ChatStreamEvent{Type: EventContent, Delta: delta, Text: text})
		},
	}

	res, err := r.dispatcher.Run(req.Context(), chatReq.SessionID, message, disp)
	if err != nil {
		send(EventError, ChatStreamEvent{Type: EventError, Code: turnErrorCode(err), Error: err.Error()})
		return
	}
	send(EventDone, ChatStreamEvent{
		Type:      EventDone,
		SessionID: res.SessionID,
		Message:   res.Reply,
		Turns:     res.Turns,
	})
}
