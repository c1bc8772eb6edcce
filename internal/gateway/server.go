// Package gateway provides the HTTP gateway server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"

	v1 "cassandra/api/v1"
	"cassandra/internal/config"
	"cassandra/internal/gateway/handlers"
	"cassandra/internal/gateway/middleware"
	"cassandra/internal/gateway/websocket"
	"cassandra/internal/scheduler"
	"cassandra/internal/storage"
	"cassandra/internal/ui"
	"cassandra/pkg/logger"
)

// Deps are the services the gateway exposes.
type Deps struct {
	Dispatcher *scheduler.Dispatcher
	DB         *storage.DB
	Version    string
}

// Server represents the HTTP gateway server.
type Server struct {
	httpServer  *http.Server
	router      *mux.Router
	hub         *websocket.Hub
	watcher     *Watcher
	config      *config.Config
	rateLimiter *middleware.RateLimiter
	apiRouter   *v1.Router
	static      *ui.StaticServer

	hubOnce  sync.Once
	stopOnce sync.Once
}

// NewServer creates a new gateway server with all routes mounted.
func NewServer(cfg *config.Config, hub *websocket.Hub, deps Deps) *Server {
	router := mux.NewRouter()
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigFrom(cfg.Gateway.RateLimit))

	// Recovery -> Logging -> CORS -> RateLimit
	handler := middleware.Recovery(
		middleware.Logging(
			middleware.CORS(
				rateLimiter.RateLimit(router),
			),
		),
	)

	uiDir := cfg.Gateway.UIDir
	if uiDir != "" {
		if expanded, err := config.ExpandPath(uiDir); err == nil {
			uiDir = expanded
		}
	}

	s := &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      0, // SSE replies last as long as the model takes
			IdleTimeout:       120 * time.Second,
		},
		router:      router,
		hub:         hub,
		config:      cfg,
		rateLimiter: rateLimiter,
		static:      ui.NewStaticServer(uiDir, ui.EmbedFS()),
		apiRouter: v1.NewRouter(&v1.RouterDeps{
			Dispatcher: deps.Dispatcher,
			DB:         deps.DB,
			Version:    deps.Version,
			Model:      cfg.Model.Model,
		}),
	}

	if deps.Dispatcher != nil {
		hub.SetChatHandler(chatHandler(hub, deps.Dispatcher))
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the server routes.
func (s *Server) setupRoutes() {
	s.apiRouter.RegisterRoutes(s.router)

	s.router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(s.hub, w, r)
	})

	// everything else is the chat page
	s.router.PathPrefix("/").Handler(s.static)
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Gateway.Host, fmt.Sprint(s.config.Gateway.Port))
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It starts the hub and, when a UI
// directory is configured, the reload watcher.
func (s *Server) Serve(ln net.Listener) error {
	handlers.InitStartTime()
	s.runHub()
	s.startWatcher()

	logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway server")

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) runHub() {
	s.hubOnce.Do(func() { go s.hub.Run() })
}

func (s *Server) startWatcher() {
	dir := s.static.UserDir()
	if dir == "" {
		return
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		logger.Warn().Str("ui_dir", dir).Msg("UI directory not found, serving built-in page without reload")
		return
	}
	w, err := NewWatcher(s.hub, dir)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to create UI watcher")
		return
	}
	if err := w.Start(); err != nil {
		logger.Warn().Err(err).Str("ui_dir", dir).Msg("Failed to watch UI directory")
		w.Stop()
		return
	}
	s.watcher = w
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info().Msg("Shutting down gateway server")

	var err error
	s.stopOnce.Do(func() {
		if s.watcher != nil {
			s.watcher.Stop()
		}
		s.rateLimiter.Stop()

		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if e := s.httpServer.Shutdown(shutdownCtx); e != nil {
			err = fmt.Errorf("shutdown error: %w", e)
		}
		s.hub.Stop()
	})
	return err
}

// Router returns the underlying router for testing.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}
