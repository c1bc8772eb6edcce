package scheduler

import (
	"context"
	"errors"

	"cassandra/internal/chat"
	"cassandra/pkg/logger"
)

// TurnResult is the outcome of one dispatched turn.
type TurnResult struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
	Turns     int    `json:"turns"`
}

// Dispatcher runs turns on hosted sessions, at most one per session at a
// time. Turns are detached from the caller's cancellation: once accepted, a
// turn runs to completion even if the client goes away.
type Dispatcher struct {
	controller *chat.Controller
	sessions   *SessionManager
	queue      *RunQueue
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(controller *chat.Controller, sessions *SessionManager, queue *RunQueue) *Dispatcher {
	return &Dispatcher{controller: controller, sessions: sessions, queue: queue}
}

// Sessions returns the session manager.
func (d *Dispatcher) Sessions() *SessionManager {
	return d.sessions
}

// Controller returns the turn controller.
func (d *Dispatcher) Controller() *chat.Controller {
	return d.controller
}

// Run executes a turn and waits for it. An empty sessionID starts a new
// session. Invalid input is rejected before anything is recorded.
func (d *Dispatcher) Run(ctx context.Context, sessionID, input string, disp chat.Display) (TurnResult, error) {
	sess, err := d.prepare(ctx, sessionID, input)
	if err != nil {
		return TurnResult{}, err
	}

	var res TurnResult
	err = d.queue.Do(context.WithoutCancel(ctx), sess.ID, func(ctx context.Context) error {
		res = d.turn(ctx, sess, input, disp)
		return nil
	})
	return res, err
}

// Submit accepts a turn and returns without waiting. done, if not nil, is
// called with the result once the turn finishes or is dropped.
func (d *Dispatcher) Submit(ctx context.Context, sessionID, input string, disp chat.Display, done func(TurnResult, error)) (string, error) {
	sess, err := d.prepare(ctx, sessionID, input)
	if err != nil {
		return "", err
	}

	var res TurnResult
	result, err := d.queue.Enqueue(context.WithoutCancel(ctx), sess.ID, func(ctx context.Context) error {
		res = d.turn(ctx, sess, input, disp)
		return nil
	})
	if err != nil {
		return "", err
	}

	go func() {
		err := <-result
		if done != nil {
			done(res, err)
		}
	}()
	return sess.ID, nil
}

// Delete removes a session and drops its queued turns. A session with a turn
// in flight is left alone.
func (d *Dispatcher) Delete(ctx context.Context, sessionID string) error {
	if sess, ok := d.sessions.lookup(sessionID); ok && sess.Busy() {
		return ErrSessionBusy
	}
	d.queue.Cancel(sessionID)
	return d.sessions.Delete(ctx, sessionID)
}

func (d *Dispatcher) prepare(ctx context.Context, sessionID, input string) (*chat.Session, error) {
	if err := d.controller.Validate(input); err != nil {
		return nil, err
	}
	return d.sessions.GetOrCreate(ctx, sessionID)
}

// turn runs the controller. Persistence failures are logged by the
// controller; the reply is still delivered.
func (d *Dispatcher) turn(ctx context.Context, sess *chat.Session, input string, disp chat.Display) TurnResult {
	reply, err := d.controller.Turn(ctx, sess, input, disp)
	if err != nil {
		if reply == "" {
			// validated up front, so only cancellation lands here
			logger.Warn().Err(err).Str("session_id", sess.ID).Msg("turn not started")
		} else {
			logger.Warn().Err(err).Str("session_id", sess.ID).Msg("turn completed with persistence errors")
		}
	}
	return TurnResult{SessionID: sess.ID, Reply: reply, Turns: sess.Log.Len()}
}

// IsRejected reports whether err means the turn was refused before anything
// was recorded.
func IsRejected(err error) bool {
	return errors.Is(err, chat.ErrEmptyInput) ||
		errors.Is(err, chat.ErrInputTooLong) ||
		errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrSessionClosed)
}
