package maintenance

import (
	"context"
	"log/slog"
	"time"
)

// Purger physically removes soft-deleted rows older than cutoff. The
// SQLite store implements it; the in-memory store has nothing to purge.
type Purger interface {
	PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeJob deletes soft-deleted rows that have aged out of the recovery
// window. Core operations never remove rows; this is the only place
// data is physically destroyed.
type PurgeJob struct {
	Store        Purger
	KeepFor      time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 3 * * *"

	now func() time.Time
}

// Compile-time interface check.
var _ Job = (*PurgeJob)(nil)

// Name implements Job.
func (j *PurgeJob) Name() string { return "purge_deleted" }

// Schedule implements Job.
func (j *PurgeJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 3 * * *"
}

// Run purges rows soft-deleted before the retention cutoff.
func (j *PurgeJob) Run(ctx context.Context) error {
	nowFn := j.now
	if nowFn == nil {
		nowFn = time.Now
	}

	cutoff := nowFn().UTC().Add(-j.KeepFor)
	n, err := j.Store.PurgeDeleted(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		j.Logger.Info("maintenance: purged soft-deleted rows", "count", n, "cutoff", cutoff)
	}
	return nil
}

// Sweeper drops expired cache entries and returns the count removed.
type Sweeper interface {
	SweepCache() int
}

// SweepJob evicts expired prompt cache entries so memory is reclaimed
// between reads.
type SweepJob struct {
	Cache        Sweeper
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/10 * * * *"
}

// Compile-time interface check.
var _ Job = (*SweepJob)(nil)

// Name implements Job.
func (j *SweepJob) Name() string { return "cache_sweep" }

// Schedule implements Job.
func (j *SweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/10 * * * *"
}

// Run sweeps the cache.
func (j *SweepJob) Run(_ context.Context) error {
	if n := j.Cache.SweepCache(); n > 0 {
		j.Logger.Debug("maintenance: swept expired cache entries", "count", n)
	}
	return nil
}
