package stats

import (
	"context"
	"math/rand"
	"time"
)

// MockCollector generates plausible data from a fixed seed so dashboard
// work needs no populated database. The same seed always yields the same
// shapes for a given period.
type MockCollector struct {
	seed int64
	now  func() time.Time
}

var _ Collector = (*MockCollector)(nil)

// NewMockCollector creates a deterministic mock collector.
func NewMockCollector(seed int64) *MockCollector {
	return &MockCollector{seed: seed, now: time.Now}
}

// Stats generates the period's payload.
func (m *MockCollector) Stats(_ context.Context, period Period) (Response, error) {
	if err := period.Validate(); err != nil {
		return Response{}, err
	}

	rng := rand.New(rand.NewSource(m.seed))
	now := m.now().UTC()

	multiplier := map[Period]float64{PeriodDay: 1, PeriodWeek: 3.5, PeriodMonth: 15}[period]

	resp := Response{
		Summary: Summary{
			TotalUsers:    int(float64(100+rng.Intn(100)) * multiplier),
			TotalMessages: int(float64(1000+rng.Intn(2000)) * multiplier),
			ActiveDialogs: int(float64(50+rng.Intn(100)) * multiplier),
		},
		ActivityTimeline: m.timeline(rng, period, now),
		RecentDialogs:    m.recentDialogs(rng, now),
		TopUsers:         m.topUsers(rng, now),
	}
	return resp, nil
}

func (m *MockCollector) timeline(rng *rand.Rand, period Period, now time.Time) []ActivityPoint {
	var count int
	var step time.Duration
	var base int
	switch period {
	case PeriodDay:
		count, step, base = 24, time.Hour, 100
	case PeriodWeek:
		count, step, base = 7, 24*time.Hour, 1000
	default:
		count, step, base = 30, 24*time.Hour, 800
	}

	points := make([]ActivityPoint, count)
	for i := 0; i < count; i++ {
		ts := now.Add(-step * time.Duration(count-i-1))

		// Daytime hours and weekdays trend busier.
		factor := 0.7
		if period == PeriodDay {
			if h := ts.Hour(); h >= 10 && h <= 22 {
				factor = 1.5
			} else {
				factor = 0.5
			}
		} else if wd := ts.Weekday(); wd != time.Saturday && wd != time.Sunday {
			factor = 1.2
		}

		msgs := int(float64(base) * factor * (0.8 + 0.4*rng.Float64()))
		points[i] = ActivityPoint{
			Timestamp:    ts,
			MessageCount: msgs,
			ActiveUsers:  max(1, msgs/(3+rng.Intn(5))),
		}
	}
	return points
}

func (m *MockCollector) recentDialogs(rng *rand.Rand, now time.Time) []RecentDialog {
	dialogs := make([]RecentDialog, recentDialogLimit)
	for i := range dialogs {
		dialogs[i] = RecentDialog{
			UserID:          100000000 + int64(rng.Intn(900000000)),
			MessageCount:    1 + rng.Intn(50),
			LastMessageAt:   now.Add(-time.Duration(i*7+rng.Intn(30)) * time.Minute),
			DurationMinutes: 1 + rng.Intn(120),
		}
	}
	return dialogs
}

func (m *MockCollector) topUsers(rng *rand.Rand, now time.Time) []TopUser {
	users := make([]TopUser, topUserLimit)
	msgs := 500 + rng.Intn(300)
	for i := range users {
		// Descending message counts keep the ranking shape realistic.
		msgs -= rng.Intn(40)
		if msgs < 1 {
			msgs = 1
		}
		users[i] = TopUser{
			UserID:        100000000 + int64(rng.Intn(900000000)),
			TotalMessages: msgs,
			DialogCount:   1 + rng.Intn(30),
			LastActivity:  now.Add(-time.Duration(rng.Intn(600)) * time.Minute),
		}
	}
	return users
}
