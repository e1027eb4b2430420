package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutMonitorRun(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	tm := NewTimeoutMonitor(logrus.NewEntry(logger))

	require.NoError(t, tm.Run(context.Background(), "fast", time.Second, func(ctx context.Context) error {
		return nil
	}))
	assert.Equal(t, "operation completed", hook.LastEntry().Message)

	err := tm.Run(context.Background(), "slow", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)

	err = tm.Run(context.Background(), "broken", time.Second, func(ctx context.Context) error {
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, "operation failed", hook.LastEntry().Message)

	stats := tm.Stats()
	require.Len(t, stats, 3)
	assert.Equal(t, "broken", stats[0].Operation)
	assert.Equal(t, "slow", stats[2].Operation)
	assert.Equal(t, 1, stats[2].TimeoutCount)
	assert.Equal(t, 100.0, stats[2].TimeoutPercentage)
}

func TestTimeoutTrackerAverages(t *testing.T) {
	tt := NewTimeoutTracker()
	tt.RecordExecution("q", 10*time.Millisecond, false)
	tt.RecordExecution("q", 30*time.Millisecond, true)

	s, ok := tt.Get("q")
	require.True(t, ok)
	assert.Equal(t, 2, s.TotalExecutions)
	assert.Equal(t, 20*time.Millisecond, s.AverageDuration)
	assert.Equal(t, 30*time.Millisecond, s.MaxDuration)
	assert.Equal(t, 50.0, s.TimeoutPercentage)

	_, ok = tt.Get("missing")
	assert.False(t, ok)
}
