// Package scheduler re-runs registered tasks at fixed intervals from a single poll loop.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"shop_automation/internal/clock"

	"github.com/sirupsen/logrus"
)

const (
	DefaultInterval     = time.Minute
	DefaultPollInterval = time.Second
)

// Task is one scheduled unit of work
type Task func(ctx context.Context) error

// Job is a registered task and its timing
type Job struct {
	Name     string
	Interval time.Duration

	task    Task
	nextRun time.Time
	lastRun time.Time
	lastErr error
	runs    int
}

// JobStatus is a snapshot of a job
type JobStatus struct {
	Name     string
	Interval time.Duration
	NextRun  time.Time
	LastRun  time.Time
	LastErr  error
	Runs     int
}

// Scheduler owns its job list. Due jobs run one after another on the loop goroutine,
// so a slow run delays the next check instead of overlapping it.
type Scheduler struct {
	mu     sync.Mutex
	jobs   []*Job
	logger *logrus.Logger
	now    func() time.Time
	sleep  clock.SleepFunc
	poll   time.Duration

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces time.Now and the poll sleep, mostly for tests
func WithClock(now func() time.Time, sleep clock.SleepFunc) Option {
	return func(s *Scheduler) {
		s.now = now
		s.sleep = sleep
	}
}

// WithPollInterval sets how often the loop checks for due jobs
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

// New - creates an empty scheduler
func New(logger *logrus.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: logger,
		now:    time.Now,
		sleep:  clock.Sleep,
		poll:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Every registers task to run every interval, first one interval from now.
// A non-positive interval means DefaultInterval.
func (s *Scheduler) Every(interval time.Duration, name string, task Task) (*Job, error) {
	if task == nil {
		return nil, errors.New("scheduler: nil task")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	job := &Job{Name: name, Interval: interval, task: task}

	s.mu.Lock()
	job.nextRun = s.now().Add(interval)
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{"job": name, "interval": interval}).Info("job scheduled")
	return job, nil
}

// RunPending runs every job that is due and returns how many ran.
// The next run of a job is measured from the moment it finished.
func (s *Scheduler) RunPending(ctx context.Context) int {
	s.mu.Lock()
	now := s.now()
	var due []*Job
	for _, j := range s.jobs {
		if !now.Before(j.nextRun) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	ran := 0
	for _, j := range due {
		if ctx.Err() != nil {
			break
		}
		s.runJob(ctx, j)
		ran++
	}
	return ran
}

func (s *Scheduler) runJob(ctx context.Context, j *Job) {
	log := s.logger.WithField("job", j.Name)
	log.Info("running scheduled job")

	err := s.safeRun(ctx, j)
	if err != nil {
		log.WithError(err).Error("scheduled job failed")
	}

	s.mu.Lock()
	finished := s.now()
	j.lastRun = finished
	j.lastErr = err
	j.runs++
	j.nextRun = finished.Add(j.Interval)
	next := j.nextRun
	s.mu.Unlock()

	log.WithField("next_run", next.Format(time.RFC3339)).Debug("job rescheduled")
}

func (s *Scheduler) safeRun(ctx context.Context, j *Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New("job panicked")
			s.logger.WithFields(logrus.Fields{"job": j.Name, "panic": p}).Error("scheduled job panicked")
		}
	}()
	return j.task(ctx)
}

// Run is the poll loop. It returns when ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		s.RunPending(ctx)
		if err := s.sleep(ctx, s.poll); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// Start runs the loop on its own goroutine until Stop
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
}

// Stop cancels the loop and waits for the job in progress, if any, to return
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Jobs returns a snapshot of every registered job
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobStatus{
			Name:     j.Name,
			Interval: j.Interval,
			NextRun:  j.nextRun,
			LastRun:  j.lastRun,
			LastErr:  j.lastErr,
			Runs:     j.runs,
		})
	}
	return out
}
