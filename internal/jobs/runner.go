// Package jobs runs the relay's scheduled work: the frequent retention
// sweep and the hourly bulk-matching pass.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Job is one scheduled task. Run is invoked once immediately on start
// and then every Interval. A run that overlaps its next tick delays it
// rather than running concurrently with itself; a failed run is logged
// and retried on the next tick.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner owns a set of background jobs. Each job runs on its own
// goroutine, serialized with itself.
type Runner struct {
	jobs   []Job
	log    zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRunner(log zerolog.Logger, jobs ...Job) *Runner {
	return &Runner{
		jobs: jobs,
		log:  log.With().Str("component", "jobs").Logger(),
	}
}

// Start launches the job goroutines. Call Stop to cancel and wait.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{}, len(r.jobs))

	for _, job := range r.jobs {
		go func(job Job) {
			defer func() { r.done <- struct{}{} }()

			r.runOnce(ctx, job)

			ticker := time.NewTicker(job.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					r.runOnce(ctx, job)
				}
			}
		}(job)
	}
}

// Stop cancels the jobs and waits for in-flight runs to finish.
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	for range r.jobs {
		<-r.done
	}
}

func (r *Runner) runOnce(ctx context.Context, job Job) {
	runID := uuid.NewString()
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		r.log.Error().Err(err).
			Str("job", job.Name).
			Str("run_id", runID).
			Dur("took", time.Since(start)).
			Msg("background job failed; will retry next tick")
		return
	}
	r.log.Debug().
		Str("job", job.Name).
		Str("run_id", runID).
		Dur("took", time.Since(start)).
		Msg("background job done")
}
