// Package stats aggregates conversation activity for the dashboard API.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPeriod is returned for an unknown reporting period.
var ErrInvalidPeriod = errors.New("stats: invalid period")

// Period selects the reporting window.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Validate checks the period value.
func (p Period) Validate() error {
	switch p {
	case PeriodDay, PeriodWeek, PeriodMonth:
		return nil
	}
	return fmt.Errorf("%w: %q (must be day, week or month)", ErrInvalidPeriod, string(p))
}

// window returns the period's [start, end] bounds ending now.
func (p Period) window(now time.Time) (time.Time, time.Time) {
	switch p {
	case PeriodDay:
		return now.Add(-24 * time.Hour), now
	case PeriodWeek:
		return now.AddDate(0, 0, -7), now
	default:
		return now.AddDate(0, 0, -30), now
	}
}

// Summary is the aggregate headline for a period.
type Summary struct {
	TotalUsers    int `json:"total_users"`
	TotalMessages int `json:"total_messages"`
	ActiveDialogs int `json:"active_dialogs"`
}

// ActivityPoint is one bucket on the activity timeline: hourly for the
// day period, daily otherwise.
type ActivityPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	MessageCount int       `json:"message_count"`
	ActiveUsers  int       `json:"active_users"`
}

// RecentDialog summarises one user's latest conversation in the period.
type RecentDialog struct {
	UserID          int64     `json:"user_id"`
	MessageCount    int       `json:"message_count"`
	LastMessageAt   time.Time `json:"last_message_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

// TopUser ranks a user by message volume in the period.
type TopUser struct {
	UserID        int64     `json:"user_id"`
	TotalMessages int       `json:"total_messages"`
	DialogCount   int       `json:"dialog_count"`
	LastActivity  time.Time `json:"last_activity"`
}

// Response is the full stats payload for one period.
type Response struct {
	Summary          Summary         `json:"summary"`
	ActivityTimeline []ActivityPoint `json:"activity_timeline"`
	RecentDialogs    []RecentDialog  `json:"recent_dialogs"`
	TopUsers         []TopUser       `json:"top_users"`
}

// Collector produces the stats payload for a period.
type Collector interface {
	Stats(ctx context.Context, period Period) (Response, error)
}

// Result row limits, matching the dashboard's display.
const (
	recentDialogLimit = 15
	topUserLimit      = 10
)
