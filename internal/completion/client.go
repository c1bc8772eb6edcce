// Package completion sends the persona, the reduced history and the user's
// input to the completion endpoint and returns the reply as a whole text or
// as a stream of fragments.
package completion

import (
	"context"
	"errors"
	"time"

	"cassandra/internal/history"
	"cassandra/internal/provider"
	"cassandra/pkg/logger"
)

// ErrNoProvider is returned when the client has no provider.
var ErrNoProvider = errors.New("completion: provider not configured")

// Config configures a Client.
type Config struct {
	// Persona is the system prompt, used verbatim.
	Persona     string
	Model       string
	Temperature float64
	MaxTokens   int
	ServiceTier string
	// Stream selects streaming replies.
	Stream bool
	// Timeout bounds a batch request, and the wait for each event of a stream.
	Timeout time.Duration
}

// Client calls the completion endpoint. It does not retry.
type Client struct {
	provider provider.Provider
	config   Config
}

// NewClient creates a completion client.
func NewClient(prov provider.Provider, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{provider: prov, config: cfg}
}

// Streaming reports whether the client returns streams.
func (c *Client) Streaming() bool {
	return c.config.Stream
}

// Persona returns the system prompt.
func (c *Client) Persona() string {
	return c.config.Persona
}

// Complete requests a reply to input given the reduced history. Faults are
// returned as errors; the caller decides what to show.
func (c *Client) Complete(ctx context.Context, reduced []history.Entry, input string) (Result, error) {
	if c.provider == nil {
		return Result{}, ErrNoProvider
	}

	req := provider.ChatRequest{
		Model:       c.config.Model,
		Messages:    BuildMessages(c.config.Persona, reduced, input),
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
		ServiceTier: c.config.ServiceTier,
		Stream:      c.config.Stream,
	}

	if !c.config.Stream {
		ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()

		resp, err := c.provider.Chat(ctx, req)
		if err != nil {
			return Result{}, err
		}
		if resp.Usage != nil {
			logger.Debug().Int("total_tokens", resp.Usage.TotalTokens).Msg("completion usage")
		}
		return Complete(resp.Content), nil
	}

	ctx, cancel := context.WithCancel(ctx)
	events, err := c.provider.Stream(ctx, req)
	if err != nil {
		cancel()
		return Result{}, err
	}
	return Streaming(NewStream(events, cancel, c.config.Timeout)), nil
}

// BuildMessages assembles the request: persona, reduced history, then input.
func BuildMessages(persona string, reduced []history.Entry, input string) []provider.Message {
	msgs := make([]provider.Message, 0, len(reduced)+2)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: persona})
	for _, e := range reduced {
		msgs = append(msgs, provider.Message{Role: wireRole(e.Role), Content: e.Content})
	}
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: input})
	return msgs
}

func wireRole(r history.EntryRole) string {
	switch r {
	case history.EntrySystem:
		return provider.RoleSystem
	case history.EntryHuman:
		return provider.RoleUser
	default:
		return provider.RoleAssistant
	}
}
