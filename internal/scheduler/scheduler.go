// Package scheduler runs long jobs with cooperative cancellation and repeats
// them on an interval.
//
// Cancellation is only honoured at safe points: between pages, files or
// users. A request that is already in flight completes on a detached context
// so that no file is left half written.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrStopped is returned by a job that ended early at a safe point.
var ErrStopped = errors.New("stopped by interrupt")

// Checkpoint returns ErrStopped once ctx has been cancelled.
func Checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrStopped
	}
	return nil
}

// Detach returns a context that carries the values of ctx but is never
// cancelled. Use it for the unit of work running between two checkpoints.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler runs a job immediately and then on every tick.
type Scheduler struct {
	name string
	job  Job
	log  *slog.Logger
	tick time.Duration
}

// New creates a Scheduler running job every interval.
func New(name string, job Job, every time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		name: name,
		job:  job,
		log:  log,
		tick: every,
	}
}

// Run starts the scheduler loop, blocking until ctx is cancelled. A failed
// run is logged and the next tick proceeds.
func (s *Scheduler) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	s.log.Debug("scheduled run starting", "job", s.name)

	err := s.job(ctx)
	switch {
	case errors.Is(err, ErrStopped):
		s.log.Info("scheduled run interrupted", "job", s.name)
	case err != nil:
		s.log.Error("scheduled run", "job", s.name, "error", err)
	default:
		s.log.Info("scheduled run finished", "job", s.name, "duration", time.Since(start).Round(time.Millisecond))
	}
}
