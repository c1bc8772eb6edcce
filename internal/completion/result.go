package completion

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"cassandra/internal/provider"
)

// ErrStreamConsumed is returned when accumulating a stream that has already
// been read to the end.
var ErrStreamConsumed = errors.New("completion: stream already consumed")

// Kind tags a Result.
type Kind int

const (
	// KindComplete carries the whole response text.
	KindComplete Kind = iota + 1
	// KindStream carries a lazy sequence of fragments.
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindComplete:
		return "complete"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Result is either a complete text or a stream of fragments.
type Result struct {
	Kind   Kind
	Text   string
	Stream *Stream
}

// Complete wraps a full response.
func Complete(text string) Result {
	return Result{Kind: KindComplete, Text: text}
}

// Streaming wraps a stream.
func Streaming(s *Stream) Result {
	return Result{Kind: KindStream, Stream: s}
}

// Stream is a finite, one-shot sequence of text fragments. It cannot be
// restarted; fragments consumed before a failure stay available through
// Partial.
type Stream struct {
	events <-chan provider.ChatEvent
	cancel context.CancelFunc
	idle   time.Duration

	mu       sync.Mutex
	partial  strings.Builder
	finished bool
	err      error
	usage    *provider.Usage
}

// NewStream wraps a provider event channel. idle bounds the wait for each
// event; zero disables it. cancel, if non-nil, is called once the stream ends.
func NewStream(events <-chan provider.ChatEvent, cancel context.CancelFunc, idle time.Duration) *Stream {
	return &Stream{events: events, cancel: cancel, idle: idle}
}

// Next returns the next non-empty fragment. It returns io.EOF after the last
// fragment and keeps returning io.EOF (or the terminal error) afterwards.
// Next is meant for a single consumer.
func (s *Stream) Next(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		if s.finished {
			err := s.err
			s.mu.Unlock()
			if err != nil {
				return "", err
			}
			return "", io.EOF
		}
		s.mu.Unlock()

		ev, ok, err := s.wait(ctx)

		s.mu.Lock()
		switch {
		case s.finished:
			// closed while waiting
		case err != nil:
			s.finish(err)
		case !ok:
			s.finish(nil)
		case ev.Type == provider.EventTypeContent && ev.Delta != "":
			s.partial.WriteString(ev.Delta)
			s.mu.Unlock()
			return ev.Delta, nil
		case ev.Type == provider.EventTypeDone:
			s.usage = ev.Usage
			s.finish(nil)
		case ev.Type == provider.EventTypeError:
			if ev.Error == nil {
				ev.Error = errors.New("completion: stream error")
			}
			s.finish(ev.Error)
		}
		s.mu.Unlock()
	}
}

// wait receives one event, bounded by the idle timeout and ctx.
func (s *Stream) wait(ctx context.Context) (provider.ChatEvent, bool, error) {
	var timeout <-chan time.Time
	if s.idle > 0 {
		timer := time.NewTimer(s.idle)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ev, ok := <-s.events:
		return ev, ok, nil
	case <-timeout:
		return provider.ChatEvent{}, false, provider.NewProviderError(provider.ErrCodeTimeout,
			"no stream data within "+s.idle.String(), "completion", true)
	case <-ctx.Done():
		return provider.ChatEvent{}, false, ctx.Err()
	}
}

// finish records the terminal state. Caller holds s.mu.
func (s *Stream) finish(err error) {
	s.finished = true
	s.err = err
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Partial returns the text of all fragments consumed so far.
func (s *Stream) Partial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial.String()
}

// Err returns the terminal error, if the stream failed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done reports whether the stream has ended.
func (s *Stream) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Usage returns token usage reported at the end of the stream, if any.
func (s *Stream) Usage() *provider.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Close abandons the stream and releases the underlying request.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.finish(context.Canceled)
	}
}

// Accumulate reads s to the end, calling show with the cumulative text after
// every fragment. On failure it returns the text accumulated so far and the
// error.
func Accumulate(ctx context.Context, s *Stream, show func(string)) (string, error) {
	if s.Done() {
		return s.Partial(), ErrStreamConsumed
	}
	var sb strings.Builder
	for {
		frag, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(frag)
		if show != nil {
			show(sb.String())
		}
	}
}
