// Package scheduler drives the pipeline's batch stages on fixed
// intervals. Jobs call the stage services in-process; there is no
// HTTP round trip, since the scheduler binary links the same service
// packages the HTTP binaries do.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evalforge/evalforge/pkg/platform/logging"
)

// Job is one periodic invocation target.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each registered job on its own ticker until the
// context is cancelled. A job that returns an error is logged and
// retried at its next tick; a panic in one job does not take the
// others down.
type Scheduler struct {
	jobs   []Job
	logger *logrus.Logger
}

// New builds an empty Scheduler.
func New(logger *logrus.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Add registers a job. Jobs with a non-positive interval are skipped
// with a logged warning at Start time rather than spinning hot.
func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start runs every job until ctx is cancelled, then waits for
// in-flight runs to finish before returning.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.WithFields(logging.NewFields().Component("scheduler").Custom("job", job.Name).ToLogrus()).
				Warn("job has no interval, skipping")
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.runLoop(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logging.NewFields().Component("scheduler").Custom("job", job.Name).Custom("panic", r).ToLogrus()).
				Error("job panicked")
		}
	}()

	start := time.Now()
	err := job.Run(ctx)
	fields := logging.NewFields().Component("scheduler").Custom("job", job.Name).Duration(time.Since(start))
	if err != nil {
		s.logger.WithFields(fields.Error(err).ToLogrus()).Warn("job failed")
		return
	}
	s.logger.WithFields(fields.ToLogrus()).Info("job completed")
}
