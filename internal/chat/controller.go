package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"cassandra/internal/compaction"
	"cassandra/internal/completion"
	"cassandra/internal/history"
	"cassandra/pkg/logger"
)

// Apology is shown and recorded in place of a reply when completion fails.
const Apology = "Apologies, something went wrong. Please try again."

// DefaultMaxInputChars bounds a single user message.
const DefaultMaxInputChars = 300

var (
	// ErrEmptyInput is returned for blank input. Nothing is recorded.
	ErrEmptyInput = errors.New("chat: empty input")
	// ErrInputTooLong is returned for input over the character limit. Nothing is recorded.
	ErrInputTooLong = errors.New("chat: input too long")
)

// Completer produces a reply for the reduced history and the new input.
type Completer interface {
	Complete(ctx context.Context, reduced []history.Entry, input string) (completion.Result, error)
}

// Store persists turns and summaries. Implementations must be safe for
// concurrent use across sessions.
type Store interface {
	AppendTurn(ctx context.Context, sessionID string, t history.Turn) error
	SaveSummary(ctx context.Context, sessionID, summary string, covered, version int) error
}

// Observer is notified of phase changes.
type Observer func(sessionID string, p Phase)

// Controller runs turns. It is stateless between turns; all conversation
// state lives in the Session passed to Turn.
type Controller struct {
	reducer   *compaction.Reducer
	completer Completer
	store     Store
	observer  Observer
	maxInput  int
}

// Option configures a Controller.
type Option func(*Controller)

// WithStore persists every turn and summary change.
func WithStore(s Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithObserver reports phase changes.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithMaxInputChars overrides the input limit. Zero or less disables it.
func WithMaxInputChars(n int) Option {
	return func(c *Controller) { c.maxInput = n }
}

// NewController creates a Controller.
func NewController(reducer *compaction.Reducer, completer Completer, opts ...Option) *Controller {
	c := &Controller{
		reducer:   reducer,
		completer: completer,
		maxInput:  DefaultMaxInputChars,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxInputChars returns the input limit.
func (c *Controller) MaxInputChars() int {
	return c.maxInput
}

// Validate checks input without recording it.
func (c *Controller) Validate(input string) error {
	if strings.TrimSpace(input) == "" {
		return ErrEmptyInput
	}
	if c.maxInput > 0 && utf8.RuneCountInString(input) > c.maxInput {
		return fmt.Errorf("%w: %d characters, limit %d", ErrInputTooLong, utf8.RuneCountInString(input), c.maxInput)
	}
	return nil
}

// Turn runs one conversation turn and returns the recorded assistant text.
//
// The user turn is appended before anything else. Completion faults never
// escape: the apology is displayed and recorded instead. The returned error is
// non-nil only for invalid input, a context already done on entry, or a
// persistence failure; in the last case the turn itself still completed.
func (c *Controller) Turn(ctx context.Context, sess *Session, input string, disp Display) (string, error) {
	if err := c.Validate(input); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if disp == nil {
		disp = NopDisplay
	}

	sess.turnMu.Lock()
	defer sess.turnMu.Unlock()
	defer c.setPhase(sess, PhaseIdle)

	log := logger.Get().With().Str("session_id", sess.ID).Logger()
	var persistErrs []error

	c.setPhase(sess, PhaseAwaitingInput)
	userTurn := history.Turn{Role: history.RoleUser, Content: input}
	sess.Log.Append(userTurn)
	disp.ShowUser(input)
	if err := c.persistTurn(ctx, sess.ID, userTurn); err != nil {
		persistErrs = append(persistErrs, err)
	}

	turns := sess.Log.Turns()
	_, _, before := sess.State.Summary()
	if c.reducer.NeedsSummary(len(turns)) {
		c.setPhase(sess, PhaseReducing)
	}
	reduced := c.reducer.Reduce(ctx, sess.State, turns)
	if summary, covered, version := sess.State.Summary(); version != before {
		if err := c.persistSummary(ctx, sess.ID, summary, covered, version); err != nil {
			persistErrs = append(persistErrs, err)
		}
	}

	c.setPhase(sess, PhaseAwaitingCompletion)
	text := c.complete(ctx, sess, reduced, input, disp)

	assistantTurn := history.Turn{Role: history.RoleAssistant, Content: text}
	sess.Log.Append(assistantTurn)
	disp.ShowAssistant(text)
	if err := c.persistTurn(ctx, sess.ID, assistantTurn); err != nil {
		persistErrs = append(persistErrs, err)
	}

	log.Debug().Int("log_len", sess.Log.Len()).Msg("turn complete")
	return text, errors.Join(persistErrs...)
}

// complete calls the completer and resolves the result to the text to record.
func (c *Controller) complete(ctx context.Context, sess *Session, reduced []history.Entry, input string, disp Display) string {
	log := logger.Get().With().Str("session_id", sess.ID).Logger()

	res, err := c.safeComplete(ctx, reduced, input)
	if err != nil {
		log.Error().Err(err).Msg("completion failed")
		return Apology
	}

	switch res.Kind {
	case completion.KindComplete:
		return res.Text
	case completion.KindStream:
		if res.Stream == nil {
			log.Error().Msg("completion returned an empty stream result")
			return Apology
		}
		c.setPhase(sess, PhaseDisplaying)
		text, err := completion.Accumulate(ctx, res.Stream, disp.ShowPartial)
		if err != nil {
			log.Error().Err(err).Int("partial_len", len(text)).Msg("completion stream failed")
			return Apology
		}
		return text
	default:
		log.Error().Int("kind", int(res.Kind)).Msg("unknown completion result")
		return Apology
	}
}

func (c *Controller) safeComplete(ctx context.Context, reduced []history.Entry, input string) (res completion.Result, err error) {
	if c.completer == nil {
		return completion.Result{}, completion.ErrNoProvider
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("completion panic: %v", r)
		}
	}()
	return c.completer.Complete(ctx, reduced, input)
}

func (c *Controller) persistTurn(ctx context.Context, sessionID string, t history.Turn) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.AppendTurn(ctx, sessionID, t); err != nil {
		logger.Error().Err(err).Str("session_id", sessionID).Str("role", string(t.Role)).Msg("failed to persist turn")
		return fmt.Errorf("persist %s turn: %w", t.Role, err)
	}
	return nil
}

func (c *Controller) persistSummary(ctx context.Context, sessionID, summary string, covered, version int) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.SaveSummary(ctx, sessionID, summary, covered, version); err != nil {
		logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to persist summary")
		return fmt.Errorf("persist summary: %w", err)
	}
	return nil
}

func (c *Controller) setPhase(sess *Session, p Phase) {
	sess.phase.Store(int32(p))
	if c.observer != nil {
		c.observer(sess.ID, p)
	}
}
