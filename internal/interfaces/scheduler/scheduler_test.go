package scheduler

import (
	"context"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bankrecon/internal/domain/connection"
	"bankrecon/internal/shared/clock"
)

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		in      string
		want    ScheduleTime
		wantErr bool
	}{
		{"05:00", ScheduleTime{5, 0}, false},
		{"23:59", ScheduleTime{23, 59}, false},
		{"24:00", ScheduleTime{}, true},
		{"12:60", ScheduleTime{}, true},
		{"noon", ScheduleTime{}, true},
	}
	for _, tt := range tests {
		got, err := ParseScheduleTime(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseScheduleTime(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseScheduleTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func newTestScheduler(t *testing.T, lc Lifecycle, ing Ingester) *Scheduler {
	t.Helper()
	s, err := New(Config{
		ScheduleTimes:      []string{"05:00", "14:00"},
		WorkerCount:        2,
		QueueSize:          10,
		RetrySweepInterval: time.Hour,
	}, lc, ing, clock.Fake(time.Date(2026, 1, 15, 4, 0, 0, 0, time.UTC)), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestNew_RequiresScheduleTimes(t *testing.T) {
	if _, err := New(Config{}, &MockLifecycle{}, &MockIngester{}, clock.Real(), zerolog.Nop()); err == nil {
		t.Error("expected error for empty schedule")
	}
	if _, err := New(Config{ScheduleTimes: []string{"5pm"}}, &MockLifecycle{}, &MockIngester{}, clock.Real(), zerolog.Nop()); err == nil {
		t.Error("expected error for malformed time")
	}
}

func TestShouldRun_OncePerMinute(t *testing.T) {
	s := newTestScheduler(t, &MockLifecycle{}, &MockIngester{})
	at := time.Date(2026, 1, 15, 5, 0, 10, 0, time.UTC)

	if !s.shouldRun(at) {
		t.Fatal("expected run at 05:00")
	}
	if s.shouldRun(at.Add(30 * time.Second)) {
		t.Error("second tick in the same minute must not run")
	}
	if s.shouldRun(at.Add(time.Minute)) {
		t.Error("05:01 is not scheduled")
	}
	if !s.shouldRun(at.AddDate(0, 0, 1)) {
		t.Error("expected run at 05:00 the next day")
	}
}

func TestNextScheduledTime(t *testing.T) {
	s := newTestScheduler(t, &MockLifecycle{}, &MockIngester{})

	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2026, 1, 15, 4, 0, 0, 0, time.UTC), time.Date(2026, 1, 15, 5, 0, 0, 0, time.UTC)},
		{time.Date(2026, 1, 15, 5, 0, 0, 0, time.UTC), time.Date(2026, 1, 15, 14, 0, 0, 0, time.UTC)},
		{time.Date(2026, 1, 15, 20, 0, 0, 0, time.UTC), time.Date(2026, 1, 16, 5, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := s.NextScheduledTime(tt.now); !got.Equal(tt.want) {
			t.Errorf("NextScheduledTime(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestSweepIngestions(t *testing.T) {
	lc := &MockLifecycle{
		ListActiveFunc: func(ctx context.Context, limit int) ([]*connection.Connection, error) {
			return []*connection.Connection{{ID: "conn-1"}, {ID: "conn-2"}, {ID: "conn-3"}}, nil
		},
	}
	ing := &MockIngester{}
	s := newTestScheduler(t, lc, ing)
	s.Start()

	if n := s.SweepIngestions(context.Background()); n != 3 {
		t.Errorf("queued %d jobs, want 3", n)
	}
	s.Shutdown(5 * time.Second)

	runs := ing.Runs()
	sort.Strings(runs)
	if len(runs) != 3 || runs[0] != "conn-1" || runs[2] != "conn-3" {
		t.Errorf("runs = %v", runs)
	}
}

func TestSweepRetries(t *testing.T) {
	var listed atomic.Int32
	lc := &MockLifecycle{
		ListDueForRetryFunc: func(ctx context.Context, limit int) ([]*connection.Connection, error) {
			listed.Add(1)
			if limit != 500 {
				t.Errorf("limit = %d, want default 500", limit)
			}
			return []*connection.Connection{{ID: "conn-9", Status: connection.StatusError}}, nil
		},
	}
	s := newTestScheduler(t, lc, &MockIngester{})
	s.Start()

	if n := s.SweepRetries(context.Background()); n != 1 {
		t.Errorf("queued %d jobs, want 1", n)
	}
	s.Shutdown(5 * time.Second)

	if got := lc.Activated(); len(got) != 1 || got[0] != "conn-9" {
		t.Errorf("Activate calls = %v", got)
	}
	if listed.Load() != 1 {
		t.Errorf("listed %d times", listed.Load())
	}
}

func TestEnqueueIngestion_AfterShutdown(t *testing.T) {
	ing := &MockIngester{}
	s := newTestScheduler(t, &MockLifecycle{}, ing)
	s.Start()

	if err := s.EnqueueIngestion("conn-1"); err != nil {
		t.Fatalf("EnqueueIngestion() error = %v", err)
	}
	s.Shutdown(5 * time.Second)

	if err := s.EnqueueIngestion("conn-2"); err == nil {
		t.Error("expected error after shutdown")
	}
	if runs := ing.Runs(); len(runs) != 1 || runs[0] != "conn-1" {
		t.Errorf("runs = %v", runs)
	}
}
