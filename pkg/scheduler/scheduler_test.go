package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestScheduler_RunsJobsOnInterval(t *testing.T) {
	var runs atomic.Int32
	s := New(testLogger())
	s.Add(Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	if runs.Load() < 2 {
		t.Errorf("job ran %d times, want at least 2", runs.Load())
	}
}

func TestScheduler_FailingJobKeepsRunning(t *testing.T) {
	var runs atomic.Int32
	s := New(testLogger())
	s.Add(Job{
		Name:     "flaky",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return errors.New("transient failure")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	if runs.Load() < 2 {
		t.Errorf("a failing job must keep being retried; ran %d times", runs.Load())
	}
}

func TestScheduler_PanickingJobDoesNotKillOthers(t *testing.T) {
	var healthyRuns atomic.Int32
	s := New(testLogger())
	s.Add(Job{
		Name:     "panics",
		Interval: 10 * time.Millisecond,
		Run:      func(context.Context) error { panic("boom") },
	})
	s.Add(Job{
		Name:     "healthy",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			healthyRuns.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	if healthyRuns.Load() < 2 {
		t.Errorf("the healthy job should keep running next to a panicking one; ran %d times", healthyRuns.Load())
	}
}

func TestScheduler_SkipsJobsWithoutInterval(t *testing.T) {
	var runs atomic.Int32
	s := New(testLogger())
	s.Add(Job{
		Name: "no-interval",
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	if runs.Load() != 0 {
		t.Errorf("a job without an interval must never run; ran %d times", runs.Load())
	}
}
