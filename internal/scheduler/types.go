// Package scheduler hosts live sessions and serializes the turns run on them.
package scheduler

import "errors"

// Sentinel errors for the scheduler package.
var (
	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when enqueueing on a queue being torn down.
	ErrSessionClosed = errors.New("session closed")

	// ErrQueueFull is returned when the run queue is at capacity or shut down.
	ErrQueueFull = errors.New("run queue full")

	// ErrSessionBusy is returned when deleting a session with a turn in flight.
	ErrSessionBusy = errors.New("session busy")

	// ErrRunCancelled is delivered to tasks dropped by Cancel or Shutdown.
	ErrRunCancelled = errors.New("run cancelled")
)
