// Package v1 is the JSON and SSE HTTP API under /api/v1.
package v1

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"cassandra/internal/chat"
	"cassandra/internal/gateway/handlers"
	"cassandra/internal/scheduler"
	"cassandra/internal/storage"
	"cassandra/pkg/logger"
)

// RouterDeps holds dependencies for the v1 API router.
type RouterDeps struct {
	Dispatcher *scheduler.Dispatcher
	DB         *storage.DB
	Version    string
	Model      string
}

// Router wraps v1 API dependencies.
type Router struct {
	dispatcher *scheduler.Dispatcher
	db         *storage.DB
	version    string
	model      string
}

// NewRouter creates a new v1 API router.
func NewRouter(deps *RouterDeps) *Router {
	if deps == nil {
		deps = &RouterDeps{}
	}
	return &Router{
		dispatcher: deps.Dispatcher,
		db:         deps.DB,
		version:    deps.Version,
		model:      deps.Model,
	}
}

// RegisterRoutes mounts the API on router.
func (r *Router) RegisterRoutes(router *mux.Router) {
	v1 := router.PathPrefix("/api/v1").Subrouter()

	// Health
	v1.HandleFunc("/health", r.HandleHealth).Methods(http.MethodGet)

	// Chat
	v1.HandleFunc("/chat", r.HandleChat).Methods(http.MethodPost)
	v1.HandleFunc("/chat/stream", r.HandleChatStream).Methods(http.MethodPost)

	// Sessions
	v1.HandleFunc("/sessions", r.HandleListSessions).Methods(http.MethodGet)
	v1.HandleFunc("/sessions", r.HandleCreateSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}", r.HandleGetSession).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}", r.HandleDeleteSession).Methods(http.MethodDelete)
	v1.HandleFunc("/sessions/{id}/messages", r.HandleGetMessages).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/summary", r.HandleGetSummary).Methods(http.MethodGet)
}

// HandleHealth reports liveness and whether the database answers.
func (r *Router) HandleHealth(w http.ResponseWriter, req *http.Request) {
	deps := map[string]handlers.Pinger{}
	if r.db != nil {
		deps["database"] = r.db
	}
	handlers.HealthHandler(r.version, r.model, deps)(w, req)
}

func (r *Router) ready(w http.ResponseWriter) bool {
	if r.dispatcher == nil || r.db == nil {
		handlers.SendError(w, http.StatusServiceUnavailable, handlers.ErrCodeServiceUnavailable, "chat service not available")
		return false
	}
	return true
}

// sendTurnError maps a refused or failed turn to an HTTP error.
func sendTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyInput):
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "message is required")
	case errors.Is(err, chat.ErrInputTooLong):
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInputTooLong, err.Error())
	case errors.Is(err, scheduler.ErrQueueFull):
		handlers.SendError(w, http.StatusTooManyRequests, handlers.ErrCodeRateLimited, "too many pending messages for this session")
	case errors.Is(err, scheduler.ErrSessionClosed), errors.Is(err, scheduler.ErrRunCancelled):
		handlers.SendError(w, http.StatusConflict, handlers.ErrCodeConflict, "session is being closed")
	default:
		logger.Error().Err(err).Msg("chat request failed")
		handlers.SendError(w, http.StatusInternalServerError, handlers.ErrCodeInternalError, "chat request failed")
	}
}

// turnErrorCode is the error code sent in an SSE error event.
func turnErrorCode(err error) string {
	switch {
	case errors.Is(err, scheduler.ErrQueueFull):
		return handlers.ErrCodeRateLimited
	case errors.Is(err, scheduler.ErrSessionClosed), errors.Is(err, scheduler.ErrRunCancelled):
		return handlers.ErrCodeConflict
	default:
		return handlers.ErrCodeInternalError
	}
}
