package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cassandra/pkg/logger"
)

// Task represents a unit of work to be executed.
type Task struct {
	SessionID string
	Fn        func(context.Context) error
	Ctx       context.Context
	Cancel    context.CancelFunc
	Result    chan error
}

func (t *Task) finish(err error) {
	t.Cancel()
	t.Result <- err
	close(t.Result)
}

// sessionQueue manages the task queue for a single session.
type sessionQueue struct {
	tasks     chan *Task
	closed    atomic.Bool
	closeCh   chan struct{}
	closeOnce sync.Once
}

func (sq *sessionQueue) close() {
	sq.closed.Store(true)
	sq.closeOnce.Do(func() { close(sq.closeCh) })
}

// RunQueue provides per-session FIFO execution queues.
// Tasks for the same session are executed serially, while different sessions can run in parallel.
type RunQueue struct {
	queues      map[string]*sessionQueue
	wg          sync.WaitGroup
	closed      atomic.Bool
	mu          sync.Mutex
	idleTimeout time.Duration
	queueSize   int
}

// NewRunQueue creates a new RunQueue.
func NewRunQueue(queueSize int, idleTimeout time.Duration) *RunQueue {
	if queueSize <= 0 {
		queueSize = 100
	}
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Second
	}
	return &RunQueue{
		queues:      make(map[string]*sessionQueue),
		queueSize:   queueSize,
		idleTimeout: idleTimeout,
	}
}

// Enqueue adds a task to the session's queue and returns a channel for the result.
// Tasks for the same session are executed serially in FIFO order.
func (rq *RunQueue) Enqueue(ctx context.Context, sessionID string, fn func(context.Context) error) (<-chan error, error) {
	if rq.closed.Load() {
		return nil, ErrQueueFull
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	taskCtx, cancel := context.WithCancel(ctx)
	task := &Task{
		SessionID: sessionID,
		Fn:        fn,
		Ctx:       taskCtx,
		Cancel:    cancel,
		Result:    make(chan error, 1),
	}

	// the send happens under mu so an idle worker cannot exit between
	// lookup and send
	rq.mu.Lock()
	defer rq.mu.Unlock()

	sq := rq.getOrCreateQueue(sessionID)
	if sq.closed.Load() {
		cancel()
		return nil, ErrSessionClosed
	}

	select {
	case sq.tasks <- task:
		return task.Result, nil
	default:
		cancel()
		return nil, ErrQueueFull
	}
}

// Do enqueues fn and waits for its result.
func (rq *RunQueue) Do(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	result, err := rq.Enqueue(ctx, sessionID, fn)
	if err != nil {
		return err
	}
	return <-result
}

// getOrCreateQueue gets an existing session queue or creates a new one.
// Caller holds mu.
func (rq *RunQueue) getOrCreateQueue(sessionID string) *sessionQueue {
	if sq, ok := rq.queues[sessionID]; ok {
		return sq
	}

	sq := &sessionQueue{
		tasks:   make(chan *Task, rq.queueSize),
		closeCh: make(chan struct{}),
	}
	rq.queues[sessionID] = sq

	rq.wg.Add(1)
	go rq.worker(sessionID, sq)

	return sq
}

// worker processes tasks for a session queue.
func (rq *RunQueue) worker(sessionID string, sq *sessionQueue) {
	defer rq.wg.Done()

	idleTimer := time.NewTimer(rq.idleTimeout)
	defer idleTimer.Stop()

	for {
		select {
		case task := <-sq.tasks:
			if sq.closed.Load() {
				task.finish(ErrRunCancelled)
				continue
			}
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			rq.execute(task)
			idleTimer.Reset(rq.idleTimeout)

		case <-idleTimer.C:
			rq.mu.Lock()
			if len(sq.tasks) > 0 {
				rq.mu.Unlock()
				idleTimer.Reset(rq.idleTimeout)
				continue
			}
			sq.close()
			rq.remove(sessionID, sq)
			rq.mu.Unlock()
			return

		case <-sq.closeCh:
			rq.mu.Lock()
			rq.remove(sessionID, sq)
			rq.mu.Unlock()
			drain(sq)
			return
		}
	}
}

func (rq *RunQueue) execute(task *Task) {
	if err := task.Ctx.Err(); err != nil {
		task.finish(err)
		return
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Str("session_id", task.SessionID).Interface("panic", r).Msg("run panicked")
				err = fmt.Errorf("run panic: %v", r)
			}
		}()
		err = task.Fn(task.Ctx)
	}()
	task.finish(err)
}

// remove deletes sq if it is still the registered queue. Caller holds mu.
func (rq *RunQueue) remove(sessionID string, sq *sessionQueue) {
	if cur, ok := rq.queues[sessionID]; ok && cur == sq {
		delete(rq.queues, sessionID)
	}
}

// drain fails every task still waiting in sq.
func drain(sq *sessionQueue) {
	for {
		select {
		case task := <-sq.tasks:
			task.finish(ErrRunCancelled)
		default:
			return
		}
	}
}

// Cancel drops pending tasks for a session and stops its worker once the
// running task returns. The running task itself is not interrupted.
func (rq *RunQueue) Cancel(sessionID string) {
	rq.mu.Lock()
	sq, ok := rq.queues[sessionID]
	rq.mu.Unlock()
	if ok {
		sq.close()
	}
}

// Pending returns the number of pending tasks for a session.
func (rq *RunQueue) Pending(sessionID string) int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	if sq, ok := rq.queues[sessionID]; ok {
		return len(sq.tasks)
	}
	return 0
}

// ActiveSessions returns the number of sessions with active workers.
func (rq *RunQueue) ActiveSessions() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return len(rq.queues)
}

// Shutdown stops accepting tasks, lets running tasks finish and fails the
// pending ones.
func (rq *RunQueue) Shutdown(ctx context.Context) error {
	rq.closed.Store(true)

	rq.mu.Lock()
	for _, sq := range rq.queues {
		sq.close()
	}
	rq.mu.Unlock()

	done := make(chan struct{})
	go func() {
		rq.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
