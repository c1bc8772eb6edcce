// Package retention prunes sessions that have been idle longer than the
// configured age, on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"cassandra/pkg/logger"
)

// Store deletes idle sessions and reports which ones it removed.
type Store interface {
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Cache forgets sessions that no longer exist in the store.
type Cache interface {
	Invalidate(sessionID string)
}

// Config configures the pruner.
type Config struct {
	Schedule string
	MaxAge   time.Duration
	Location *time.Location
}

// Pruner runs the retention job.
type Pruner struct {
	cron   *cron.Cron
	store  Store
	cache  Cache
	maxAge time.Duration
	sched  string
	now    func() time.Time
	log    zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewPruner validates the schedule and builds a pruner. cache may be nil.
func NewPruner(cfg Config, store Store, cache Cache) (*Pruner, error) {
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("retention: max age must be positive, got %s", cfg.MaxAge)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	if _, err := ParseSchedule(cfg.Schedule); err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	log := logger.Component("retention")
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	return &Pruner{
		cron:   c,
		store:  store,
		cache:  cache,
		maxAge: cfg.MaxAge,
		sched:  cfg.Schedule,
		now:    time.Now,
		log:    log,
	}, nil
}

// parser accepts both 5-field and 6-field (with seconds) expressions plus
// descriptors like @daily.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("retention: invalid schedule %q: %w", expr, err)
	}
	return s, nil
}

// Start registers the job and starts the scheduler.
func (p *Pruner) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("retention: already running")
	}
	if _, err := p.cron.AddFunc(p.sched, func() {
		if _, err := p.RunOnce(context.Background()); err != nil {
			p.log.Error().Err(err).Msg("retention run failed")
		}
	}); err != nil {
		return fmt.Errorf("retention: register job: %w", err)
	}

	p.cron.Start()
	p.running = true
	p.log.Info().Str("schedule", p.sched).Dur("max_age", p.maxAge).Msg("retention started")
	return nil
}

// Stop stops the scheduler and returns a context done when a running prune
// has finished.
func (p *Pruner) Stop() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	p.running = false
	return p.cron.Stop()
}

// Next returns the next scheduled run, or zero when not running.
func (p *Pruner) Next() time.Time {
	entries := p.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunOnce deletes every session idle longer than the max age and drops it
// from the cache.
func (p *Pruner) RunOnce(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.maxAge)
	ids, err := p.store.DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention: delete sessions before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if p.cache != nil {
		for _, id := range ids {
			p.cache.Invalidate(id)
		}
	}
	if len(ids) > 0 {
		p.log.Info().Int("deleted", len(ids)).Time("cutoff", cutoff).Msg("pruned idle sessions")
	}
	return len(ids), nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
