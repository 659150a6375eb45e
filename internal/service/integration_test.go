package service

import (
	"context"
	"testing"
	"time"

	"stockbridge/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIntegration(t *testing.T, f *fixture, poster *fakePoster, batch int) (*Integration, *scheduler.Job, *scheduler.Job) {
	t.Helper()
	d := NewDispatcher(f.db, f.queue, f.docs, f.audits, f.orders, poster, TerminalPolicy{}, nil, DispatcherOptions{})
	cursors := NewCursorStore(f.cursor, santiagoClock(), 7*24*time.Hour)
	noop := func(context.Context) error { return nil }
	dispatchJob := scheduler.NewJob("dispatch", time.Minute, 0, nil, nil, noop)
	syncJob := scheduler.NewJob("purchase_order_sync", time.Minute, 0, nil, nil, noop)
	return NewIntegration(d, nil, cursors, f.audits, dispatchJob, syncJob, batch), dispatchJob, syncJob
}

// hold keeps job busy until the returned func is called.
func hold(t *testing.T, job *scheduler.Job) func() {
	t.Helper()
	started, release := make(chan struct{}), make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = job.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	return func() {
		close(release)
		<-done
	}
}

func TestIntegration_ManualDispatchSharesTheJobGuard(t *testing.T) {
	f := newFixture(t)
	poster := &fakePoster{}
	integ, dispatchJob, _ := newIntegration(t, f, poster, 1)

	for i := 0; i < 2; i++ {
		f.enqueue(t, goodsEntry("A"))
	}

	release := hold(t, dispatchJob)
	_, err := integ.Dispatch(context.Background(), 0)
	assert.ErrorIs(t, err, scheduler.ErrBusy)
	release()
	assert.Zero(t, poster.calls, "nothing is sent while the scheduled run holds the guard")

	res, err := integ.Dispatch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed, "limit 0 falls back to the batch size")
}

func TestIntegration_CursorResetWaitsForSync(t *testing.T) {
	f := newFixture(t)
	integ, _, syncJob := newIntegration(t, f, &fakePoster{}, 10)
	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	release := hold(t, syncJob)
	assert.ErrorIs(t, integ.ResetCursor(ctx, CursorPurchaseOrders, &ts), scheduler.ErrBusy)
	release()

	require.NoError(t, integ.ResetCursor(ctx, CursorPurchaseOrders, &ts))
	cur, err := integ.Cursor(ctx, CursorPurchaseOrders)
	require.NoError(t, err)
	assert.True(t, cur.Stored)
	assert.True(t, cur.Watermark.Equal(ts))

	require.NoError(t, integ.ResetCursor(ctx, CursorPurchaseOrders, nil))
	cur, err = integ.Cursor(ctx, CursorPurchaseOrders)
	require.NoError(t, err)
	assert.False(t, cur.Stored)

	_, err = integ.SyncPurchaseOrders(ctx)
	assert.Error(t, err, "sync without a source is refused")
	assert.NoError(t, integ.Ping(ctx))
}
