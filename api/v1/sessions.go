package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"cassandra/internal/gateway/handlers"
	"cassandra/internal/scheduler"
	"cassandra/internal/storage"
	"cassandra/internal/ui"
	"cassandra/pkg/logger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// HandleListSessions returns a page of sessions.
func (r *Router) HandleListSessions(w http.ResponseWriter, req *http.Request) {
	if !r.ready(w) {
		return
	}
	limit, offset, ok := pagination(w, req)
	if !ok {
		return
	}

	ctx := req.Context()
	sessions, err := r.db.ListSessions(ctx, limit, offset)
	if err != nil {
		r.internalError(w, err, "failed to list sessions")
		return
	}
	total, err := r.db.CountSessions(ctx)
	if err != nil {
		r.internalError(w, err, "failed to count sessions")
		return
	}

	resp := SessionsListResponse{
		Sessions: make([]SessionResponse, 0, len(sessions)),
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}
	for _, s := range sessions {
		count, err := r.db.CountMessages(ctx, s.ID)
		if err != nil {
			r.internalError(w, err, "failed to count messages")
			return
		}
		resp.Sessions = append(resp.Sessions, sessionResponse(s, count))
	}
	handlers.SendJSON(w, http.StatusOK, resp)
}

// HandleCreateSession creates an empty session. The body is optional; an id
// in it is used instead of a generated one.
func (r *Router) HandleCreateSession(w http.ResponseWriter, req *http.Request) {
	if !r.ready(w) {
		return
	}
	var body CreateSessionRequest
	if err := handlers.DecodeJSON(req, &body); err != nil && !errors.Is(err, handlers.ErrEmptyBody) {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, err.Error())
		return
	}

	sess, err := r.dispatcher.Sessions().Create(req.Context(), body.ID)
	if err != nil {
		if errors.Is(err, storage.ErrExists) {
			handlers.SendError(w, http.StatusConflict, handlers.ErrCodeConflict, "session already exists")
			return
		}
		r.internalError(w, err, "failed to create session")
		return
	}

	handlers.SendJSON(w, http.StatusCreated, SessionResponse{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.CreatedAt,
	})
}

// HandleGetSession returns one session.
func (r *Router) HandleGetSession(w http.ResponseWriter, req *http.Request) {
	if !r.ready(w) {
		return
	}
	s, ok := r.lookupSession(w, req)
	if !ok {
		return
	}
	count, err := r.db.CountMessages(req.Context(), s.ID)
	if err != nil {
		r.internalError(w, err, "failed to count messages")
		return
	}
	handlers.SendJSON(w, http.StatusOK, sessionResponse(s, count))
}

// HandleDeleteSession deletes a session with its turns and summaries.
func (r *Router) HandleDeleteSession(w http.ResponseWriter, req *http.Request) {
	if !r.ready(w) {
		return
	}
	err := r.dispatcher.Delete(req.Context(), mux.Vars(req)["id"])
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, scheduler.ErrSessionNotFound):
		handlers.SendError(w, http.StatusNotFound, handlers.ErrCodeNotFound, "session not found")
	case errors.Is(err, scheduler.ErrSessionBusy):
		handlers.SendError(w, http.StatusConflict, handlers.ErrCodeConflict, "session has a reply in progress")
	default:
		r.internalError(w, err, "failed to delete session")
	}
}

// HandleGetMessages lists a session's turns. With ?format=html each turn also
// carries its markdown rendered to HTML.
func (r *Router) HandleGetMessages(w http.ResponseWriter, req *http.Request) {
	if !r.ready(w) {
		return
	}
	format := req.URL.Query().Get("format")
	if format != "" && format != "html" && format != "text" {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "format must be text or html")
		return
	}
	s, ok := r.lookupSession(w, req)
	if !ok {
		return
	}

	msgs, err := r.db.GetMessages(req.Context(), s.ID)
	if err != nil {
		r.internalError(w, err, "failed to get messages")
		return
	}

	resp := MessagesResponse{SessionID: s.ID, Messages: make([]MessageView, 0, len(msgs))}
	for _, m := range msgs {
		v := MessageView{Seq: m.Seq, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
		if format == "html" {
			html, err := ui.RenderMarkdown(m.Content)
			if err != nil {
				r.internalError(w, err, "failed to render message")
				return
			}
			v.HTML = html
		}
		resp.Messages = append(resp.Messages, v)
	}
	handlers.SendJSON(w, http.StatusOK, resp)
}

// HandleGetSummary returns the latest rolling summary of a session.
func (r *Router) HandleGetSummary(w http.ResponseWriter, req *http.Request) {
	if !r.ready(w) {
		return
	}
	s, ok := r.lookupSession(w, req)
	if !ok {
		return
	}

	resp := SummaryResponse{SessionID: s.ID}
	sum, err := r.db.GetLatestSummary(req.Context(), s.ID)
	switch {
	case err == nil:
		resp.Summary = sum.Summary
		resp.CoveredTurns = sum.CoveredTurns
		resp.Version = sum.Version
		resp.CreatedAt = &sum.CreatedAt
	case errors.Is(err, storage.ErrNotFound):
	default:
		r.internalError(w, err, "failed to get summary")
		return
	}
	handlers.SendJSON(w, http.StatusOK, resp)
}

func (r *Router) lookupSession(w http.ResponseWriter, req *http.Request) (*storage.Session, bool) {
	s, err := r.db.GetSession(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			handlers.SendError(w, http.StatusNotFound, handlers.ErrCodeNotFound, "session not found")
		} else {
			r.internalError(w, err, "failed to get session")
		}
		return nil, false
	}
	return s, true
}

func (r *Router) internalError(w http.ResponseWriter, err error, msg string) {
	logger.Error().Err(err).Msg(msg)
	handlers.SendError(w, http.StatusInternalServerError, handlers.ErrCodeInternalError, msg)
}

func pagination(w http.ResponseWriter, req *http.Request) (limit, offset int, ok bool) {
	limit, offset = defaultPageSize, 0
	q := req.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "limit must be a positive integer")
			return 0, 0, false
		}
		limit = min(n, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func sessionResponse(s *storage.Session, messageCount int) SessionResponse {
	return SessionResponse{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: messageCount,
	}
}
