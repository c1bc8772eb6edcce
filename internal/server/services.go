package server

import (
	"context"
	"fmt"
	"time"

	"cassandra/internal/chat"
	"cassandra/internal/compaction"
	"cassandra/internal/completion"
	"cassandra/internal/config"
	"cassandra/internal/provider/openai"
	"cassandra/internal/scheduler"
	"cassandra/internal/storage"
)

const (
	sessionCacheSize = 256
	sessionQueueSize = 16
	queueIdleTimeout = time.Minute
)

// Services are the chat components shared by the gateway and the local
// chat command.
type Services struct {
	Config     *config.Config
	DB         *storage.DB
	Store      *storage.SessionStore
	Sessions   *scheduler.SessionManager
	Queue      *scheduler.RunQueue
	Controller *chat.Controller
	Dispatcher *scheduler.Dispatcher
}

// NewServices wires providers, the reducer and the controller on top of an
// open database. opts are applied after the store option.
func NewServices(cfg *config.Config, db *storage.DB, opts ...chat.Option) (*Services, error) {
	persona, err := config.LoadPersona(cfg)
	if err != nil {
		return nil, fmt.Errorf("load persona (run `cassandra init` to create one): %w", err)
	}
	policy, err := compaction.ParseFailurePolicy(cfg.History.OnSummaryFailure)
	if err != nil {
		return nil, err
	}

	chatProvider := openai.New(openai.Config{
		Name:        "openai",
		APIKey:      cfg.Model.APIKey,
		Endpoint:    cfg.Model.Endpoint,
		Model:       cfg.Model.Model,
		MaxTokens:   cfg.Model.MaxTokens,
		ServiceTier: cfg.Model.ServiceTier,
		Timeout:     cfg.Model.Timeout,
	})
	summaryProvider := openai.New(openai.Config{
		Name:        "openai-summarizer",
		APIKey:      cfg.Model.APIKey,
		Endpoint:    cfg.SummarizerEndpoint(),
		Model:       cfg.SummarizerModel(),
		MaxTokens:   cfg.Summarizer.MaxTokens,
		ServiceTier: cfg.SummarizerServiceTier(),
		Timeout:     cfg.Summarizer.Timeout,
	})

	summarizer := compaction.NewLLMSummarizer(summaryProvider, compaction.SummarizerConfig{
		Model:       cfg.SummarizerModel(),
		MaxTokens:   cfg.Summarizer.MaxTokens,
		ServiceTier: cfg.SummarizerServiceTier(),
		Timeout:     cfg.Summarizer.Timeout,
	})
	reducer := compaction.NewReducer(compaction.Config{
		Threshold: cfg.History.Threshold,
		Tail:      cfg.History.Tail,
		OnFailure: policy,
	}, summarizer)

	client := completion.NewClient(chatProvider, completion.Config{
		Persona:     persona,
		Model:       cfg.Model.Model,
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxTokens,
		ServiceTier: cfg.Model.ServiceTier,
		Stream:      cfg.Model.Stream,
		Timeout:     cfg.Model.Timeout,
	})

	store := storage.NewSessionStore(db)
	ctrl := chat.NewController(reducer, client, append([]chat.Option{chat.WithStore(store)}, opts...)...)
	sessions := scheduler.NewSessionManager(store, sessionCacheSize)
	queue := scheduler.NewRunQueue(sessionQueueSize, queueIdleTimeout)

	return &Services{
		Config:     cfg,
		DB:         db,
		Store:      store,
		Sessions:   sessions,
		Queue:      queue,
		Controller: ctrl,
		Dispatcher: scheduler.NewDispatcher(ctrl, sessions, queue),
	}, nil
}

// Close lets running turns finish and drops queued ones. The database is
// left open.
func (s *Services) Close(ctx context.Context) error {
	return s.Queue.Shutdown(ctx)
}
