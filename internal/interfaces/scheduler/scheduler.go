package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bankrecon/internal/shared/clock"
)

// ScheduleTime represents a specific time of day when ingestion sweeps run.
type ScheduleTime struct {
	Hour   int
	Minute int
}

// String returns the time in HH:MM format.
func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid time format (expected HH:MM): %w", err)
	}
	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}
	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// Config holds scheduler configuration.
type Config struct {
	ScheduleTimes      []string
	WorkerCount        int
	JobDelay           time.Duration
	JobTimeout         time.Duration
	QueueSize          int
	RunOnStartup       bool
	RetrySweepInterval time.Duration
	// BatchLimit caps connections listed per sweep.
	BatchLimit int
}

// Scheduler drives ingestion at fixed times of day and retries ERROR
// connections whose backoff window has opened.
type Scheduler struct {
	workerPool    *WorkerPool
	scheduleTimes []ScheduleTime
	runOnStartup  bool
	retryInterval time.Duration
	batchLimit    int

	lifecycle Lifecycle
	ingester  Ingester
	clock     clock.Clock
	log       zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastRun string
	mu      sync.Mutex
}

func New(cfg Config, lifecycle Lifecycle, ingester Ingester, clk clock.Clock, log zerolog.Logger) (*Scheduler, error) {
	scheduleTimes := make([]ScheduleTime, 0, len(cfg.ScheduleTimes))
	for _, s := range cfg.ScheduleTimes {
		st, err := ParseScheduleTime(s)
		if err != nil {
			return nil, fmt.Errorf("failed to parse schedule time %q: %w", s, err)
		}
		scheduleTimes = append(scheduleTimes, st)
	}
	if len(scheduleTimes) == 0 {
		return nil, fmt.Errorf("at least one schedule time is required")
	}
	if cfg.RetrySweepInterval <= 0 {
		cfg.RetrySweepInterval = time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 500
	}

	log = log.With().Str("component", "scheduler").Logger()
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		workerPool:    NewWorkerPool(cfg.WorkerCount, cfg.JobDelay, cfg.JobTimeout, cfg.QueueSize, log),
		scheduleTimes: scheduleTimes,
		runOnStartup:  cfg.RunOnStartup,
		retryInterval: cfg.RetrySweepInterval,
		batchLimit:    cfg.BatchLimit,
		lifecycle:     lifecycle,
		ingester:      ingester,
		clock:         clk,
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start launches the worker pool, the schedule loop and the retry loop.
func (s *Scheduler) Start() {
	s.workerPool.Start()

	if s.runOnStartup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.SweepIngestions(s.ctx)
		}()
	}

	s.wg.Add(2)
	go s.scheduleLoop()
	go s.retryLoop()

	s.log.Info().
		Strs("schedule", s.scheduleStrings()).
		Dur("retry_interval", s.retryInterval).
		Msg("scheduler started")
}

func (s *Scheduler) scheduleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.shouldRun(s.clock.Now()) {
				s.SweepIngestions(s.ctx)
			}
		}
	}
}

func (s *Scheduler) retryLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.SweepRetries(s.ctx)
		}
	}
}

// shouldRun reports whether now falls on a scheduled minute not yet run.
func (s *Scheduler) shouldRun(now time.Time) bool {
	key := now.Format("2006-01-02T15:04")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRun == key {
		return false
	}
	for _, st := range s.scheduleTimes {
		if now.Hour() == st.Hour && now.Minute() == st.Minute {
			s.lastRun = key
			return true
		}
	}
	return false
}

// SweepIngestions queues an ingestion job for every ACTIVE connection and
// returns how many were queued.
func (s *Scheduler) SweepIngestions(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	conns, err := s.lifecycle.ListActive(ctx, s.batchLimit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list active connections")
		return 0
	}
	if len(conns) == 0 {
		return 0
	}

	jobs := make([]Job, 0, len(conns))
	for _, c := range conns {
		jobs = append(jobs, NewIngestionJob(c.ID, s.ingester, s.lifecycle))
	}
	return s.workerPool.SubmitBatch(jobs)
}

// SweepRetries queues a retry job for every ERROR connection that is due.
func (s *Scheduler) SweepRetries(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	conns, err := s.lifecycle.ListDueForRetry(ctx, s.batchLimit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list connections due for retry")
		return 0
	}
	if len(conns) == 0 {
		return 0
	}

	jobs := make([]Job, 0, len(conns))
	for _, c := range conns {
		jobs = append(jobs, NewRetryJob(c.ID, s.lifecycle))
	}
	return s.workerPool.SubmitBatch(jobs)
}

// EnqueueIngestion queues an immediate ingestion for one connection, e.g.
// right after it becomes ACTIVE.
func (s *Scheduler) EnqueueIngestion(connectionID string) error {
	return s.workerPool.Submit(NewIngestionJob(connectionID, s.ingester, s.lifecycle))
}

// Shutdown stops the loops, then drains the worker pool.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.log.Warn().Msg("timeout waiting for scheduler loops to stop")
	}

	s.workerPool.ShutdownWithTimeout(timeout)
	s.log.Info().Msg("scheduler stopped")
}

// NextScheduledTime returns the first scheduled time strictly after now.
func (s *Scheduler) NextScheduledTime(now time.Time) time.Time {
	var next time.Time
	for _, st := range s.scheduleTimes {
		t := time.Date(now.Year(), now.Month(), now.Day(), st.Hour, st.Minute, 0, 0, now.Location())
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}

func (s *Scheduler) scheduleStrings() []string {
	out := make([]string, len(s.scheduleTimes))
	for i, st := range s.scheduleTimes {
		out[i] = st.String()
	}
	return out
}
