package graph

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TimeoutMonitor runs operations under a timeout and warns about the ones
// that come close to it
type TimeoutMonitor struct {
	logger       *logrus.Entry
	warningRatio float64 // warn when execution reaches this share of the timeout
	tracker      *TimeoutTracker
}

// NewTimeoutMonitor creates a monitor that warns at 80% of the timeout
func NewTimeoutMonitor(logger *logrus.Entry) *TimeoutMonitor {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &TimeoutMonitor{
		logger:       logger,
		warningRatio: 0.8,
		tracker:      NewTimeoutTracker(),
	}
}

// Run executes fn with a context bounded by timeout
func (tm *TimeoutMonitor) Run(ctx context.Context, operation string, timeout time.Duration, fn func(context.Context) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(timeoutCtx)
	duration := time.Since(start)

	timedOut := err != nil && stderrors.Is(timeoutCtx.Err(), context.DeadlineExceeded)
	tm.tracker.RecordExecution(operation, duration, timedOut)

	fields := logrus.Fields{
		"operation":        operation,
		"duration_seconds": duration.Seconds(),
		"timeout_seconds":  timeout.Seconds(),
	}
	switch {
	case timedOut:
		tm.logger.WithFields(fields).Error("operation timed out")
	case err != nil:
		tm.logger.WithFields(fields).WithError(err).Warn("operation failed")
	case duration >= time.Duration(float64(timeout)*tm.warningRatio):
		fields["percent_used"] = duration.Seconds() / timeout.Seconds() * 100
		tm.logger.WithFields(fields).Warn("operation approaching timeout")
	default:
		tm.logger.WithFields(fields).Debug("operation completed")
	}
	return err
}

// Stats returns the collected statistics, sorted by operation
func (tm *TimeoutMonitor) Stats() []TimeoutStats {
	return tm.tracker.All()
}

// TimeoutStats summarizes the executions of one operation
type TimeoutStats struct {
	Operation         string        `json:"operation"`
	TotalExecutions   int           `json:"total_executions"`
	TimeoutCount      int           `json:"timeout_count"`
	AverageDuration   time.Duration `json:"average_duration"`
	MaxDuration       time.Duration `json:"max_duration"`
	TimeoutPercentage float64       `json:"timeout_percentage"`
}

// TimeoutTracker collects timeout statistics; safe for concurrent use
type TimeoutTracker struct {
	mu    sync.Mutex
	stats map[string]*TimeoutStats
}

// NewTimeoutTracker creates a new tracker
func NewTimeoutTracker() *TimeoutTracker {
	return &TimeoutTracker{stats: make(map[string]*TimeoutStats)}
}

// RecordExecution records an execution result
func (tt *TimeoutTracker) RecordExecution(operation string, duration time.Duration, timedOut bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	stats := tt.stats[operation]
	if stats == nil {
		stats = &TimeoutStats{Operation: operation}
		tt.stats[operation] = stats
	}
	stats.TotalExecutions++
	if timedOut {
		stats.TimeoutCount++
	}

	// running mean
	n := int64(stats.TotalExecutions)
	stats.AverageDuration = time.Duration((int64(stats.AverageDuration)*(n-1) + int64(duration)) / n)
	if duration > stats.MaxDuration {
		stats.MaxDuration = duration
	}
	stats.TimeoutPercentage = float64(stats.TimeoutCount) / float64(stats.TotalExecutions) * 100
}

// Get returns a copy of the statistics for one operation
func (tt *TimeoutTracker) Get(operation string) (TimeoutStats, bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	s, ok := tt.stats[operation]
	if !ok {
		return TimeoutStats{}, false
	}
	return *s, true
}

// All returns copies of every operation's statistics, sorted by operation
func (tt *TimeoutTracker) All() []TimeoutStats {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	out := make([]TimeoutStats, 0, len(tt.stats))
	for _, s := range tt.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}
