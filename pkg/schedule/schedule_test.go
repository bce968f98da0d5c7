package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvery(t *testing.T) {
	s := Every(time.Hour)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	next1 := s.Next(start)
	next2 := s.Next(next1)

	assert.Equal(t, time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC), next1)
	assert.Equal(t, time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC), next2)
}

func TestDaily(t *testing.T) {
	s := Daily(3, 30)

	before := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 3, 30, 0, 0, time.UTC), s.Next(before))

	after := time.Date(2024, 1, 1, 4, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 30, 0, 0, time.UTC), s.Next(after))
}

func TestWeekly(t *testing.T) {
	s := Weekly(time.Sunday, 2, 0)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // Monday

	assert.Equal(t, time.Date(2024, 1, 7, 2, 0, 0, 0, time.UTC), s.Next(from))
	assert.Equal(t, time.Date(2024, 1, 14, 2, 0, 0, 0, time.UTC), s.Next(time.Date(2024, 1, 7, 2, 0, 0, 0, time.UTC)))
}

func TestCron(t *testing.T) {
	s, err := Cron("30 14 * * 1-5") // 2:30 PM on weekdays
	require.NoError(t, err)

	from := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC) // Saturday
	next := s.Next(from)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 14, next.Hour())
	assert.Equal(t, 30, next.Minute())
}

func TestCron_Descriptor(t *testing.T) {
	s, err := Cron("@hourly")
	require.NoError(t, err)

	from := time.Date(2024, 1, 1, 8, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), s.Next(from))
}

func TestCron_InvalidExpression(t *testing.T) {
	_, err := Cron("invalid cron")
	assert.Error(t, err)

	assert.Panics(t, func() {
		MustCron("invalid cron")
	})
}

func TestParse(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s, err := Parse("15m")
	require.NoError(t, err)
	assert.Equal(t, from.Add(15*time.Minute), s.Next(from))

	s, err = Parse("0 3 * * *")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC), s.Next(from))

	for _, bad := range []string{"", "  ", "-5m", "0s", "not a schedule"} {
		_, err := Parse(bad)
		assert.Error(t, err, "spec %q", bad)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_RunsDueTasks(t *testing.T) {
	s := NewScheduler(5*time.Millisecond, quietLogger())

	var fast, slow atomic.Int32
	s.Add("fast", Every(10*time.Millisecond), func(ctx context.Context) error {
		fast.Add(1)
		return nil
	})
	s.Add("slow", Every(time.Hour), func(ctx context.Context) error {
		slow.Add(1)
		return nil
	})
	assert.Equal(t, 2, s.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return fast.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, slow.Load(), "first run waits one full period")
}

func TestScheduler_SurvivesFailingTasks(t *testing.T) {
	s := NewScheduler(5*time.Millisecond, quietLogger())

	var calls atomic.Int32
	s.Add("errors", Every(5*time.Millisecond), func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("database unavailable")
	})
	s.Add("panics", Every(5*time.Millisecond), func(ctx context.Context) error {
		panic("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestScheduleInterface(t *testing.T) {
	var _ Schedule = Every(time.Minute)
	var _ Schedule = Daily(9, 0)
	var _ Schedule = Weekly(time.Monday, 9, 0)
	var _ Schedule = MustCron("* * * * *")
}
