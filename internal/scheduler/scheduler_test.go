package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"stockbridge/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitLogger("test")
}

type deniedLocker struct{}

func (deniedLocker) TryLock(context.Context, string) (func(), bool, error) {
	return nil, false, nil
}

func TestJobDo_SkipsWhileRunning(t *testing.T) {
	job := NewJob("dispatch", time.Minute, 0, nil, nil, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- job.Do(context.Background(), func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ran := false
	err := job.Do(context.Background(), func(context.Context) error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrBusy)
	assert.False(t, ran)
	assert.True(t, job.Running())

	close(release)
	require.NoError(t, <-done)
	assert.False(t, job.Running())

	require.NoError(t, job.Do(context.Background(), func(context.Context) error { ran = true; return nil }))
	assert.True(t, ran)
}

func TestJobDo_LockHeldElsewhere(t *testing.T) {
	job := NewJob("sync", time.Minute, 0, deniedLocker{}, nil, func(context.Context) error {
		t.Fatal("must not run")
		return nil
	})
	assert.ErrorIs(t, job.TryRun(context.Background()), ErrBusy)
	assert.False(t, job.Running())
}

func TestJobDo_RecoversPanics(t *testing.T) {
	job := NewJob("sync", time.Minute, 0, nil, nil, func(context.Context) error {
		panic("nil map")
	})
	err := job.TryRun(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil map")
	assert.False(t, job.Running())
}

func TestJobDo_AppliesTimeout(t *testing.T) {
	job := NewJob("sync", time.Minute, 20*time.Millisecond, nil, nil, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.True(t, errors.Is(job.TryRun(context.Background()), context.DeadlineExceeded))
}

func TestScheduler_TicksUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	job := NewJob("tick", 10*time.Millisecond, 0, nil, nil, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := New(job)
	s.Start(ctx)
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()
}
