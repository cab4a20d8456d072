package stats

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/chatrelay/internal/cache"
	"github.com/flemzord/chatrelay/internal/history/sqlite"
)

// Bucket layouts used when parsing grouped created_at prefixes back into
// instants.
const (
	hourBucketLayout = "2006-01-02T15"
	dayBucketLayout  = "2006-01-02"
)

// DBConfig tunes the database-backed collector.
type DBConfig struct {
	// CacheTTL bounds how long a period's payload is served from cache.
	CacheTTL time.Duration

	// CacheMaxSize bounds the number of cached payloads.
	CacheMaxSize int

	// RetryAttempts is how many times a failed aggregation is tried.
	RetryAttempts int

	// RetryDelay is the backoff base between attempts.
	RetryDelay time.Duration
}

func (c *DBConfig) defaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Minute
	}
	if c.CacheMaxSize <= 0 {
		c.CacheMaxSize = 100
	}
	if c.RetryAttempts < 1 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
}

// DBCollector aggregates stats straight from the history database with a
// TTL cache in front. Reads only; it never writes through the store.
type DBCollector struct {
	db     *sql.DB
	cfg    DBConfig
	cache  *cache.Cache[Period, Response]
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

var _ Collector = (*DBCollector)(nil)

// DBOption configures optional DBCollector behaviour.
type DBOption func(*DBCollector)

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) DBOption {
	return func(c *DBCollector) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSleep replaces the retry delay function.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) DBOption {
	return func(c *DBCollector) { c.sleep = fn }
}

// NewDBCollector creates a collector over the history database handle.
func NewDBCollector(db *sql.DB, cfg DBConfig, opts ...DBOption) *DBCollector {
	cfg.defaults()

	c := &DBCollector{
		db:     db,
		cfg:    cfg,
		cache:  cache.New[Period, Response](cfg.CacheMaxSize, cfg.CacheTTL),
		logger: slog.New(nopHandler{}),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats returns the period's payload, serving from cache while fresh and
// retrying the aggregation on transient database failures.
func (c *DBCollector) Stats(ctx context.Context, period Period) (Response, error) {
	if err := period.Validate(); err != nil {
		return Response{}, err
	}

	if resp, ok := c.cache.Get(period); ok {
		c.logger.Debug("stats cache hit", "period", string(period))
		return resp, nil
	}

	var resp Response
	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}

		resp, lastErr = c.collect(ctx, period)
		if lastErr == nil {
			c.cache.Set(period, resp)
			return resp, nil
		}

		c.logger.Warn("stats aggregation failed",
			"period", string(period),
			"attempt", attempt+1,
			"attempts", c.cfg.RetryAttempts,
			"error", lastErr,
		)

		if attempt < c.cfg.RetryAttempts-1 {
			if err := c.sleep(ctx, c.cfg.RetryDelay*(1<<attempt)); err != nil {
				return Response{}, err
			}
		}
	}
	return Response{}, fmt.Errorf("stats: aggregation after %d attempts: %w", c.cfg.RetryAttempts, lastErr)
}

func (c *DBCollector) collect(ctx context.Context, period Period) (Response, error) {
	start, end := period.window(c.now().UTC())
	startStr := start.Format(sqlite.TimeLayout)
	endStr := end.Format(sqlite.TimeLayout)

	summary, err := c.summary(ctx, startStr, endStr)
	if err != nil {
		return Response{}, err
	}
	timeline, err := c.timeline(ctx, period, startStr, endStr)
	if err != nil {
		return Response{}, err
	}
	dialogs, err := c.recentDialogs(ctx, startStr, endStr)
	if err != nil {
		return Response{}, err
	}
	top, err := c.topUsers(ctx, startStr, endStr)
	if err != nil {
		return Response{}, err
	}

	return Response{
		Summary:          summary,
		ActivityTimeline: timeline,
		RecentDialogs:    dialogs,
		TopUsers:         top,
	}, nil
}

func (c *DBCollector) summary(ctx context.Context, start, end string) (Summary, error) {
	var s Summary

	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE created_at <= ?", end,
	).Scan(&s.TotalUsers)
	if err != nil {
		return Summary{}, fmt.Errorf("stats: count users: %w", err)
	}

	err = c.db.QueryRowContext(ctx, `
		SELECT COUNT(id), COUNT(DISTINCT user_id)
		FROM messages
		WHERE created_at >= ? AND created_at <= ? AND deleted_at IS NULL`,
		start, end,
	).Scan(&s.TotalMessages, &s.ActiveDialogs)
	if err != nil {
		return Summary{}, fmt.Errorf("stats: count messages: %w", err)
	}

	return s, nil
}

// timeline groups messages into hourly buckets for the day period and
// daily buckets otherwise. Bucketing is done on the created_at text
// prefix, which is safe because the layout is fixed width.
func (c *DBCollector) timeline(ctx context.Context, period Period, start, end string) ([]ActivityPoint, error) {
	prefixLen, layout := 10, dayBucketLayout
	if period == PeriodDay {
		prefixLen, layout = 13, hourBucketLayout
	}

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT substr(created_at, 1, %d) AS bucket, COUNT(id), COUNT(DISTINCT user_id)
		FROM messages
		WHERE created_at >= ? AND created_at <= ? AND deleted_at IS NULL
		GROUP BY bucket
		ORDER BY bucket ASC`, prefixLen),
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("stats: timeline: %w", err)
	}
	defer func() { _ = rows.Close() }()

	points := []ActivityPoint{}
	for rows.Next() {
		var bucket string
		var p ActivityPoint
		if err := rows.Scan(&bucket, &p.MessageCount, &p.ActiveUsers); err != nil {
			return nil, fmt.Errorf("stats: scan timeline: %w", err)
		}
		ts, err := time.Parse(layout, bucket)
		if err != nil {
			return nil, fmt.Errorf("stats: parse bucket %q: %w", bucket, err)
		}
		p.Timestamp = ts.UTC()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats: timeline rows: %w", err)
	}
	return points, nil
}

func (c *DBCollector) recentDialogs(ctx context.Context, start, end string) ([]RecentDialog, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT user_id, COUNT(id), MAX(created_at), MIN(created_at)
		FROM messages
		WHERE created_at >= ? AND created_at <= ? AND deleted_at IS NULL
		GROUP BY user_id
		ORDER BY MAX(created_at) DESC
		LIMIT ?`,
		start, end, recentDialogLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("stats: recent dialogs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	dialogs := []RecentDialog{}
	for rows.Next() {
		var d RecentDialog
		var last, first string
		if err := rows.Scan(&d.UserID, &d.MessageCount, &last, &first); err != nil {
			return nil, fmt.Errorf("stats: scan dialog: %w", err)
		}

		lastAt, err := time.Parse(sqlite.TimeLayout, last)
		if err != nil {
			return nil, fmt.Errorf("stats: parse last message time: %w", err)
		}
		firstAt, err := time.Parse(sqlite.TimeLayout, first)
		if err != nil {
			return nil, fmt.Errorf("stats: parse first message time: %w", err)
		}

		d.LastMessageAt = lastAt
		d.DurationMinutes = int(lastAt.Sub(firstAt).Minutes())
		if d.DurationMinutes < 1 {
			d.DurationMinutes = 1
		}
		dialogs = append(dialogs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats: dialog rows: %w", err)
	}
	return dialogs, nil
}

func (c *DBCollector) topUsers(ctx context.Context, start, end string) ([]TopUser, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT user_id, COUNT(id), COUNT(DISTINCT substr(created_at, 1, 10)), MAX(created_at)
		FROM messages
		WHERE created_at >= ? AND created_at <= ? AND deleted_at IS NULL
		GROUP BY user_id
		ORDER BY COUNT(id) DESC
		LIMIT ?`,
		start, end, topUserLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("stats: top users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	users := []TopUser{}
	for rows.Next() {
		var u TopUser
		var last string
		if err := rows.Scan(&u.UserID, &u.TotalMessages, &u.DialogCount, &last); err != nil {
			return nil, fmt.Errorf("stats: scan top user: %w", err)
		}
		lastAt, err := time.Parse(sqlite.TimeLayout, last)
		if err != nil {
			return nil, fmt.Errorf("stats: parse last activity: %w", err)
		}
		u.LastActivity = lastAt
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats: top user rows: %w", err)
	}
	return users, nil
}

// sleepContext pauses for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// nopHandler discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
