package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"stockbridge/internal/metrics"
	"stockbridge/pkg/logger"

	"go.uber.org/zap"
)

// ErrBusy is returned when a run is skipped because the same job is still
// running, here or on another instance.
var ErrBusy = errors.New("job already running")

// Job is a periodic unit of work. A tick that finds the previous run still
// going is skipped, never queued.
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run. Zero means no bound.
	Timeout time.Duration
	Run     func(ctx context.Context) error

	locker   Locker
	observer metrics.BridgeObserver
	running  atomic.Bool
}

func NewJob(name string, interval, timeout time.Duration, locker Locker, observer metrics.BridgeObserver, run func(ctx context.Context) error) *Job {
	if locker == nil {
		locker = NopLocker{}
	}
	if observer == nil {
		observer = metrics.Nop()
	}
	return &Job{
		Name:     name,
		Interval: interval,
		Timeout:  timeout,
		Run:      run,
		locker:   locker,
		observer: observer,
	}
}

// TryRun runs the job's own function under the guard.
func (j *Job) TryRun(ctx context.Context) error {
	return j.Do(ctx, j.Run)
}

// Do runs fn under the job's guard, so manual triggers and ticks never
// overlap. It returns ErrBusy without running fn when the job is active.
func (j *Job) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if !j.running.CompareAndSwap(false, true) {
		j.observer.RecordJobSkipped(j.Name)
		return ErrBusy
	}
	defer j.running.Store(false)

	release, ok, err := j.locker.TryLock(ctx, j.Name)
	if err != nil {
		return fmt.Errorf("lock job %s: %w", j.Name, err)
	}
	if !ok {
		j.observer.RecordJobSkipped(j.Name)
		return ErrBusy
	}
	defer release()

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", zap.String("job", j.Name), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("job %s panicked: %v", j.Name, r)
		}
	}()
	return fn(ctx)
}

// Running reports whether a run is in progress in this process.
func (j *Job) Running() bool { return j.running.Load() }

type Scheduler struct {
	jobs []*Job
	wg   sync.WaitGroup
}

func New(jobs ...*Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

func (s *Scheduler) Add(job *Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches one ticker loop per job and returns. Loops stop when ctx
// is cancelled; Wait blocks until they and their runs are finished.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			logger.Warn("job disabled, no interval", zap.String("job", job.Name))
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	defer s.wg.Done()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	logger.Info("job scheduled", zap.String("job", job.Name), zap.Duration("interval", job.Interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("job stopped", zap.String("job", job.Name))
			return
		case <-ticker.C:
			// Runs in its own goroutine so a slow run cannot leave a tick
			// buffered in the ticker channel.
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.fire(ctx, job)
			}()
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, job *Job) {
	err := job.TryRun(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrBusy):
		logger.Debug("tick skipped, job still running", zap.String("job", job.Name))
	case errors.Is(err, context.Canceled):
	default:
		logger.Error("job failed", zap.String("job", job.Name), zap.Error(err))
	}
}
