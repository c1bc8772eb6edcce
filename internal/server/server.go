// Package server assembles the hosted chat service: storage, the turn
// pipeline, the HTTP gateway and the retention job.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cassandra/internal/chat"
	"cassandra/internal/config"
	"cassandra/internal/gateway"
	"cassandra/internal/gateway/websocket"
	"cassandra/internal/retention"
	"cassandra/internal/storage"
	"cassandra/pkg/logger"
)

// cached sessions idle this long are dropped from memory
const sessionIdleTTL = 30 * time.Minute

// Server is the hosted chat service.
type Server struct {
	cfg      *config.Config
	logger   zerolog.Logger
	version  string
	db       *storage.DB
	services *Services
	hub      *websocket.Hub
	gateway  *gateway.Server
	pruner   *retention.Pruner
	listener net.Listener

	errChan   chan error
	stopEvict chan struct{}
	mu        sync.Mutex
	running   bool
	closed    bool
	startedAt time.Time
}

// ServerConfig holds what NewServer needs besides the loaded config.
type ServerConfig struct {
	Config      *config.Config
	StoragePath string // overrides storage.path when set
	Version     string
}

// NewServer opens storage and builds every component. Nothing listens until
// Start.
func NewServer(sc ServerConfig) (*Server, error) {
	cfg := sc.Config
	if cfg == nil {
		return nil, errors.New("server: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	storagePath := sc.StoragePath
	if storagePath == "" {
		storagePath = cfg.Storage.Path
	}
	db, err := storage.Open(storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	hub := websocket.NewHub()
	services, err := NewServices(cfg, db, chat.WithObserver(gateway.PhaseObserver(hub)))
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger.Component("server"),
		version:   sc.Version,
		db:        db,
		services:  services,
		hub:       hub,
		errChan:   make(chan error, 1),
		stopEvict: make(chan struct{}),
	}
	s.gateway = gateway.NewServer(cfg, hub, gateway.Deps{
		Dispatcher: services.Dispatcher,
		DB:         db,
		Version:    sc.Version,
	})

	if cfg.Retention.Enabled {
		s.pruner, err = retention.NewPruner(retention.Config{
			Schedule: cfg.Retention.Schedule,
			MaxAge:   cfg.Retention.MaxAge,
		}, db, services.Sessions)
		if err != nil {
			_ = services.Close(context.Background())
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Services returns the chat components.
func (s *Server) Services() *Services {
	return s.services
}

// ErrorChan reports a gateway that stopped serving on its own.
func (s *Server) ErrorChan() <-chan error {
	return s.errChan
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("server: already stopped")
	}
	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.gateway.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.gateway.Addr(), err)
	}
	s.listener = ln

	if s.pruner != nil {
		if err := s.pruner.Start(); err != nil {
			ln.Close()
			return err
		}
		s.logger.Info().Time("next_run", s.pruner.Next()).Dur("max_age", s.cfg.Retention.MaxAge).Msg("Session retention enabled")
	}

	go s.evictLoop()
	go func() {
		if err := s.gateway.Serve(ln); err != nil {
			s.logger.Error().Err(err).Msg("Server error")
			s.errChan <- err
		}
	}()

	s.running = true
	s.startedAt = time.Now()
	s.logger.Info().Str("address", "http://"+ln.Addr().String()).Str("model", s.cfg.Model.Model).Msg("Cassandra server started")
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.gateway.Addr()
}

// StartedAt returns when Start last succeeded.
func (s *Server) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *Server) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopEvict:
			return
		case now := <-ticker.C:
			if n := s.services.Sessions.Evict(now.Add(-sessionIdleTTL)); n > 0 {
				s.logger.Debug().Int("evicted", n).Msg("Dropped idle sessions from cache")
			}
		}
	}
}

// Stop shuts the gateway down, waits for turns in flight and closes storage.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	wasRunning := s.running
	s.running = false
	s.closed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if wasRunning {
		close(s.stopEvict)
		if s.pruner != nil {
			<-s.pruner.Stop().Done()
		}
		if err := s.gateway.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.services.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for turns: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info().Msg("Cassandra server stopped")
	return errors.Join(errs...)
}
