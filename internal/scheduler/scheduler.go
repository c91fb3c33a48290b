package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// failureLogEvery damps repeated-failure logging: after the first failure of
// a tag, only every Nth consecutive failure is logged.
const failureLogEvery = 10

// Job is one tagged periodic task.
type Job struct {
	interval time.Duration
	tag      string
	fn       func() error

	nextRun  time.Time
	failures int
}

// Do sets the job's function.
func (j *Job) Do(fn func() error) *Job {
	j.fn = fn
	return j
}

// Tag names the job for logging.
func (j *Job) Tag(tag string) *Job {
	j.tag = tag
	return j
}

// SafeScheduler runs tagged jobs on their cadences, one at a time on a
// single goroutine. A job that returns an error or panics never terminates
// the scheduler; it is logged and retried on the next tick.
type SafeScheduler struct {
	logger *zap.Logger
	jobs   []*Job
}

// New creates an empty scheduler.
func New(logger *zap.Logger) *SafeScheduler {
	return &SafeScheduler{logger: logger}
}

// Every registers a job with the given cadence and returns it for chaining.
func (s *SafeScheduler) Every(interval time.Duration) *Job {
	job := &Job{interval: interval, nextRun: time.Now().Add(interval)}
	s.jobs = append(s.jobs, job)
	return job
}

// Run drives the jobs until the context is cancelled. An in-flight job is
// drained before Run returns.
func (s *SafeScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case now := <-ticker.C:
			s.RunPending(now)
		}
	}
}

// RunPending executes every job whose next run time has passed.
func (s *SafeScheduler) RunPending(now time.Time) {
	for _, job := range s.jobs {
		if job.fn == nil || now.Before(job.nextRun) {
			continue
		}
		job.nextRun = now.Add(job.interval)
		s.runJob(job)
	}
}

func (s *SafeScheduler) runJob(job *Job) {
	err := s.callSafely(job)
	if err == nil {
		if job.failures > 0 {
			s.logger.Info("Job recovered", zap.String("tag", job.tag),
				zap.Int("after_failures", job.failures))
		}
		job.failures = 0
		return
	}

	job.failures++
	if job.failures == 1 || job.failures%failureLogEvery == 0 {
		s.logger.Error("Job failed",
			zap.String("tag", job.tag),
			zap.Int("consecutive_failures", job.failures),
			zap.Error(err))
	}
}

func (s *SafeScheduler) callSafely(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.tag, r)
		}
	}()
	return job.fn()
}
