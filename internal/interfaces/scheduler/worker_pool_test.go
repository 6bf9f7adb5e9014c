package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type funcJob struct {
	id string
	fn func(ctx context.Context) error
}

func (j funcJob) Execute(ctx context.Context) error { return j.fn(ctx) }
func (j funcJob) ConnectionID() string              { return j.id }
func (j funcJob) Description() string               { return "test job " + j.id }

func TestWorkerPool_RunsAllJobs(t *testing.T) {
	wp := NewWorkerPool(3, 0, time.Second, 20, zerolog.Nop())
	wp.Start()

	var done atomic.Int32
	jobs := make([]Job, 10)
	for i := range jobs {
		jobs[i] = funcJob{id: "c", fn: func(ctx context.Context) error {
			done.Add(1)
			return nil
		}}
	}
	if n := wp.SubmitBatch(jobs); n != 10 {
		t.Fatalf("submitted %d, want 10", n)
	}
	wp.ShutdownWithTimeout(5 * time.Second)

	if done.Load() != 10 {
		t.Errorf("ran %d jobs, want 10", done.Load())
	}
}

func TestWorkerPool_FullQueueDrops(t *testing.T) {
	wp := NewWorkerPool(1, 0, time.Second, 1, zerolog.Nop())
	// Not started: the single slot fills and the next submit is refused.
	noop := funcJob{id: "c", fn: func(ctx context.Context) error { return nil }}

	if err := wp.Submit(noop); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if err := wp.Submit(noop); err == nil {
		t.Error("expected queue-full error")
	}
	wp.Start()
	wp.ShutdownWithTimeout(time.Second)
}

func TestWorkerPool_SurvivesFailingAndPanickingJobs(t *testing.T) {
	wp := NewWorkerPool(1, 0, time.Second, 10, zerolog.Nop())
	wp.Start()

	var after atomic.Bool
	wp.Submit(funcJob{id: "a", fn: func(ctx context.Context) error { return errors.New("boom") }})
	wp.Submit(funcJob{id: "b", fn: func(ctx context.Context) error { panic("bad job") }})
	wp.Submit(funcJob{id: "c", fn: func(ctx context.Context) error {
		after.Store(true)
		return nil
	}})
	wp.ShutdownWithTimeout(5 * time.Second)

	if !after.Load() {
		t.Error("worker died before running the last job")
	}
}

func TestWorkerPool_JobTimeout(t *testing.T) {
	wp := NewWorkerPool(1, 0, 20*time.Millisecond, 1, zerolog.Nop())
	wp.Start()

	var got atomic.Value
	wp.Submit(funcJob{id: "slow", fn: func(ctx context.Context) error {
		<-ctx.Done()
		got.Store(ctx.Err())
		return ctx.Err()
	}})
	wp.ShutdownWithTimeout(5 * time.Second)

	if err, _ := got.Load().(error); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("job ctx error = %v, want deadline exceeded", err)
	}
}
