// Package scheduler runs background refreshers on a fixed interval and on
// demand. Each refresher runs in its own goroutine so a slow archive never
// delays an occupancy push.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Refresher recomputes some derived state. Refresh must honour ctx.
type Refresher interface {
	Name() string
	Refresh(ctx context.Context) error
}

type funcRefresher struct {
	name string
	fn   func(ctx context.Context) error
}

func (f funcRefresher) Name() string                      { return f.name }
func (f funcRefresher) Refresh(ctx context.Context) error { return f.fn(ctx) }

// Func adapts a function to Refresher.
func Func(name string, fn func(ctx context.Context) error) Refresher {
	return funcRefresher{name: name, fn: fn}
}

type job struct {
	refresher Refresher
	interval  time.Duration
	trigger   chan struct{}
}

type Scheduler struct {
	logger  zerolog.Logger
	timeout time.Duration
	observe func(name string, err error)
	mu      sync.RWMutex
	jobs    map[string]*job
	started bool
}

// New returns a scheduler whose refreshes each run under timeout.
func New(logger zerolog.Logger, timeout time.Duration) *Scheduler {
	return &Scheduler{
		logger:  logger.With().Str("component", "scheduler").Logger(),
		timeout: timeout,
		jobs:    make(map[string]*job),
	}
}

// OnResult registers a callback invoked after every refresh.
func (s *Scheduler) OnResult(fn func(name string, err error)) {
	s.observe = fn
}

// Add registers r to run every interval. It must be called before Start.
func (s *Scheduler) Add(r Refresher, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if interval <= 0 {
		return fmt.Errorf("refresher %s: interval must be positive", r.Name())
	}
	if _, ok := s.jobs[r.Name()]; ok {
		return fmt.Errorf("refresher %s already registered", r.Name())
	}
	s.jobs[r.Name()] = &job{refresher: r, interval: interval, trigger: make(chan struct{}, 1)}
	return nil
}

// Trigger asks the named refresher to run as soon as possible. Triggers that
// arrive while one is already pending collapse into a single run. It reports
// whether the name is registered.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case j.trigger <- struct{}{}:
	default:
	}
	return true
}

// Start runs every refresher once, then on its ticker and on Trigger. It
// blocks until ctx is cancelled and all refreshers have returned, so callers
// run it in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j *job) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	s.run(ctx, j.refresher)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, j.refresher)
		case <-j.trigger:
			s.run(ctx, j.refresher)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, r Refresher) {
	if ctx.Err() != nil {
		return
	}
	rctx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := r.Refresh(rctx)
	if err != nil {
		s.logger.Error().Err(err).Str("refresher", r.Name()).Dur("took", time.Since(start)).Msg("refresh failed")
	} else {
		s.logger.Debug().Str("refresher", r.Name()).Dur("took", time.Since(start)).Msg("refreshed")
	}
	if s.observe != nil {
		s.observe(r.Name(), err)
	}
}
