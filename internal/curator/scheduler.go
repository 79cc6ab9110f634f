package curator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Cycler runs one curation cycle.
type Cycler interface {
	SiteID() string
	RunCycle(ctx context.Context, lookback time.Duration) (*CycleResult, error)
}

// Source lists the cyclers to run on each tick. It is called per tick so
// sites provisioned after Start are picked up.
type Source func(ctx context.Context) []Cycler

// Scheduler runs curation cycles for every registered site on a fixed
// interval. Sites run in parallel; the per-site lease keeps any one site
// to a single cycle at a time.
//
// Start and Stop are safe for concurrent use.
type Scheduler struct {
	interval    time.Duration
	lookback    time.Duration
	timeout     time.Duration
	parallelism int
	source      Source

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}

	logger *zap.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the time between cycles. Defaults to 6 hours.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = d }
}

// WithLookback sets the interaction window of each cycle. Defaults to 24 hours.
func WithLookback(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lookback = d }
}

// WithCycleTimeout bounds each site's cycle. Defaults to 10 minutes.
func WithCycleTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.timeout = d }
}

// WithParallelism caps how many sites run at once. Defaults to 4.
func WithParallelism(n int) SchedulerOption {
	return func(s *Scheduler) { s.parallelism = n }
}

// NewScheduler creates a scheduler. It does not start until Start is called.
func NewScheduler(source Source, logger *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	s := &Scheduler{
		interval:    6 * time.Hour,
		lookback:    24 * time.Hour,
		timeout:     10 * time.Minute,
		parallelism: 4,
		source:      source,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 || s.lookback <= 0 || s.timeout <= 0 || s.parallelism <= 0 {
		return nil, fmt.Errorf("interval, lookback, timeout and parallelism must be > 0")
	}
	return s, nil
}

// Start launches the background loop. It errors if already running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	s.logger.Info("curator scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("lookback", s.lookback),
	)
	go s.run(s.stopCh, s.done)
	return nil
}

// Stop signals the loop and waits for an in-flight tick to finish.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()
	<-done
	s.logger.Info("curator scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-stop:
			return
		}
	}
}

// RunOnce runs one cycle for every site and returns the results of the
// cycles that completed. A failing or panicking site does not affect the
// others.
func (s *Scheduler) RunOnce(ctx context.Context) []*CycleResult {
	cyclers := s.source(ctx)
	if len(cyclers) == 0 {
		s.logger.Debug("no sites registered, skipping curator tick")
		return nil
	}

	var mu sync.Mutex
	var results []*CycleResult
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, c := range cyclers {
		g.Go(func() error {
			res := s.safeRun(gctx, c)
			if res != nil {
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// safeRun isolates a site's cycle so one panic never takes down the loop.
func (s *Scheduler) safeRun(ctx context.Context, c Cycler) (res *CycleResult) {
	logger := s.logger.With(zap.String("site_id", c.SiteID()))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("curator cycle panicked, continuing scheduler",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			res = nil
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := c.RunCycle(ctx, s.lookback)
	switch {
	case errors.Is(err, ErrCycleRunning):
		logger.Debug("curator cycle already running, skipping")
		return nil
	case err != nil:
		logger.Error("curator cycle failed", zap.Error(err))
		return nil
	}
	return res
}
