package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"bankrecon/internal/shared/logger"
)

var (
	jobTracer          = otel.Tracer("bankrecon/scheduler")
	jobMeter           = otel.Meter("bankrecon/scheduler")
	jobDuration, _     = jobMeter.Float64Histogram("scheduler.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _        = jobMeter.Int64Counter("scheduler.job.total", metric.WithDescription("Total jobs executed by status"))
	jobQueueDropped, _ = jobMeter.Int64Counter("scheduler.job.queue_dropped", metric.WithDescription("Jobs dropped due to full queue"))
)

// DefaultJobTimeout bounds a single job when the pool is not told otherwise.
const DefaultJobTimeout = 10 * time.Minute

// WorkerPool runs jobs on a fixed number of goroutines fed from a bounded queue.
type WorkerPool struct {
	workerCount int
	jobDelay    time.Duration
	jobTimeout  time.Duration
	jobs        chan Job
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	log         zerolog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWorkerPool creates a pool. jobDelay spaces consecutive jobs on one
// worker so a sweep does not burst the provider.
func NewWorkerPool(workerCount int, jobDelay, jobTimeout time.Duration, queueSize int, log zerolog.Logger) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workerCount: workerCount,
		jobDelay:    jobDelay,
		jobTimeout:  jobTimeout,
		jobs:        make(chan Job, queueSize),
		ctx:         ctx,
		cancel:      cancel,
		log:         log,
		closed:      make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	wp.log.Info().Int("workers", wp.workerCount).Msg("starting worker pool")

	for i := 1; i <= wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return

		case job, ok := <-wp.jobs:
			if !ok {
				return
			}

			wp.processJob(id, job)

			if wp.jobDelay > 0 {
				select {
				case <-time.After(wp.jobDelay):
				case <-wp.ctx.Done():
					return
				}
			}
		}
	}
}

// processJob executes a single job with logging and telemetry. A panicking
// job is logged and counted; the worker survives.
func (wp *WorkerPool) processJob(workerID int, job Job) {
	log := wp.log.With().
		Int("worker_id", workerID).
		Str("connection_id", job.ConnectionID()).
		Str("job", job.Description()).
		Logger()

	ctx, cancel := context.WithTimeout(wp.ctx, wp.jobTimeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	ctx, span := jobTracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.description", job.Description()),
			attribute.String("job.connection_id", job.ConnectionID()),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("job panicked: %v", rec)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "panic")))
			log.Error().Interface("panic", rec).Msg("job panicked")
		}
	}()

	if err := job.Execute(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		jobDuration.Record(ctx, time.Since(start).Seconds())
		log.Error().Err(err).Msg("job failed")
		return
	}

	jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	jobDuration.Record(ctx, time.Since(start).Seconds())
	log.Debug().Dur("took", time.Since(start)).Msg("job completed")
}

// Submit queues a job without blocking. A full queue drops the job and
// returns an error; the next sweep picks the connection up again.
func (wp *WorkerPool) Submit(job Job) (err error) {
	select {
	case <-wp.closed:
		return fmt.Errorf("worker pool is shut down")
	case <-wp.ctx.Done():
		return wp.ctx.Err()
	default:
	}

	defer func() {
		// Shutdown closed the queue between the check above and the send.
		if recover() != nil {
			err = fmt.Errorf("worker pool is shut down")
		}
	}()

	select {
	case wp.jobs <- job:
		return nil
	default:
		jobQueueDropped.Add(context.Background(), 1)
		wp.log.Warn().Str("connection_id", job.ConnectionID()).Msg("job queue full, dropping job")
		return fmt.Errorf("job queue full, dropping job for connection %s", job.ConnectionID())
	}
}

// SubmitBatch queues jobs and returns how many were accepted.
func (wp *WorkerPool) SubmitBatch(jobs []Job) int {
	submitted := 0
	for _, job := range jobs {
		if err := wp.Submit(job); err != nil {
			continue
		}
		submitted++
	}
	wp.log.Info().Int("submitted", submitted).Int("total", len(jobs)).Msg("jobs submitted to worker pool")
	return submitted
}

// ShutdownWithTimeout stops accepting jobs and waits for queued ones. After
// timeout the running jobs' contexts are cancelled.
func (wp *WorkerPool) ShutdownWithTimeout(timeout time.Duration) {
	wp.closeOnce.Do(func() {
		close(wp.closed)
		close(wp.jobs)
	})

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.log.Info().Msg("worker pool drained")
	case <-time.After(timeout):
		wp.log.Warn().Dur("timeout", timeout).Msg("worker pool shutdown timed out, cancelling jobs")
		wp.cancel()
		<-done
	}
	wp.cancel()
}
