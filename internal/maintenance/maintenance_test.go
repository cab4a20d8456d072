package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/chatrelay/internal/history"
	"github.com/flemzord/chatrelay/internal/history/sqlite"
)

// simpleJob is a minimal Job for scheduler tests.
type simpleJob struct {
	name     string
	schedule string
	runFunc  func(ctx context.Context) error
}

func (j *simpleJob) Name() string     { return j.name }
func (j *simpleJob) Schedule() string { return j.schedule }
func (j *simpleJob) Run(ctx context.Context) error {
	if j.runFunc != nil {
		return j.runFunc(ctx)
	}
	return nil
}

func TestScheduler_RegisterJob_DuplicateName(t *testing.T) {
	t.Parallel()

	s := NewScheduler(slog.Default())

	if err := s.RegisterJob(&simpleJob{name: "test", schedule: "* * * * *"}); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := s.RegisterJob(&simpleJob{name: "test", schedule: "* * * * *"}); err == nil {
		t.Fatal("duplicate registration should fail")
	}
}

func TestScheduler_Start_InvalidSchedule(t *testing.T) {
	t.Parallel()

	s := NewScheduler(slog.Default())
	_ = s.RegisterJob(&simpleJob{name: "bad", schedule: "invalid"})

	if err := s.Start(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()

	s := NewScheduler(slog.Default())
	_ = s.RegisterJob(&simpleJob{name: "noop", schedule: "* * * * *"})

	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	t.Parallel()

	s := NewScheduler(nil)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestScheduler_NoParallelExecution(t *testing.T) {
	t.Parallel()

	var concurrent atomic.Int32
	var maxConcurrent atomic.Int32

	s := NewScheduler(slog.Default())
	_ = s.RegisterJob(&simpleJob{
		name:     "slow",
		schedule: "* * * * *",
		runFunc: func(_ context.Context) error {
			c := concurrent.Add(1)
			for {
				old := maxConcurrent.Load()
				if c <= old || maxConcurrent.CompareAndSwap(old, c) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			concurrent.Add(-1)
			return nil
		},
	})

	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Trigger the tick path concurrently to exercise TryLock.
	lock := s.locks["slow"]
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lock.TryLock() {
				concurrent.Add(1)
				time.Sleep(10 * time.Millisecond)
				concurrent.Add(-1)
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if maxConcurrent.Load() > 1 {
		t.Errorf("max concurrent = %d, want <= 1", maxConcurrent.Load())
	}
}

func TestScheduler_ContainsPanics(t *testing.T) {
	t.Parallel()

	s := NewScheduler(slog.Default())
	job := &simpleJob{
		name:     "panicky",
		schedule: "* * * * *",
		runFunc: func(_ context.Context) error {
			panic("boom")
		},
	}
	_ = s.RegisterJob(job)

	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Run a tick directly; the panic must not escape.
	s.runJob(context.Background(), job)

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestPurgeJob(t *testing.T) {
	t.Parallel()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "history.db"), 100)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	turns := []history.Turn{
		{Role: history.RoleUser, Content: "a", CreatedAt: time.Now().Add(-time.Hour)},
		{Role: history.RoleAssistant, Content: "b", CreatedAt: time.Now().Add(-time.Hour)},
	}
	if err := store.Save(ctx, 1, turns); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Clear(ctx, 1); err != nil {
		t.Fatalf("clear: %v", err)
	}

	job := &PurgeJob{
		Store:   store,
		KeepFor: 24 * time.Hour,
		Logger:  slog.Default(),
	}

	// Rows were deleted just now; a 24h window keeps them.
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := countRows(t, store, 1); n != 2 {
		t.Errorf("rows after first purge = %d, want 2 (within window)", n)
	}

	// Move the clock forward past the window.
	job.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := countRows(t, store, 1); n != 0 {
		t.Errorf("rows after second purge = %d, want 0", n)
	}
}

func countRows(t *testing.T, store *sqlite.Store, userID int64) int {
	t.Helper()

	var n int
	err := store.DB().QueryRow(
		"SELECT COUNT(*) FROM messages WHERE user_id = ?", userID,
	).Scan(&n)
	if err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestSweepJob(t *testing.T) {
	t.Parallel()

	sweeper := &fakeSweeper{expired: 3}
	job := &SweepJob{Cache: sweeper, Logger: slog.Default()}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sweeper.calls != 1 {
		t.Errorf("sweep calls = %d, want 1", sweeper.calls)
	}
}

type fakeSweeper struct {
	expired int
	calls   int
}

func (f *fakeSweeper) SweepCache() int {
	f.calls++
	return f.expired
}

func TestJobDefaults(t *testing.T) {
	t.Parallel()

	purge := &PurgeJob{}
	if purge.Schedule() != "0 3 * * *" {
		t.Errorf("purge schedule = %q", purge.Schedule())
	}
	if purge.Name() != "purge_deleted" {
		t.Errorf("purge name = %q", purge.Name())
	}

	sweep := &SweepJob{ScheduleExpr: "*/5 * * * *"}
	if sweep.Schedule() != "*/5 * * * *" {
		t.Errorf("sweep schedule = %q", sweep.Schedule())
	}

	var errJob Job = &simpleJob{name: "e", schedule: "* * * * *", runFunc: func(_ context.Context) error {
		return errors.New("x")
	}}
	if err := errJob.Run(context.Background()); err == nil {
		t.Error("job error should propagate to the scheduler")
	}
}
