package service

import (
	"context"
	"fmt"
	"time"

	"stockbridge/internal/repository"
	"stockbridge/internal/scheduler"
	v1 "stockbridge/pkg/api/v1"
)

// Integration is the operator surface over the dispatcher and the sync.
// Manual runs share the guards of the scheduled jobs.
type Integration struct {
	dispatcher *Dispatcher
	poSync     *PurchaseOrderSync
	cursors    *CursorStore
	audits     repository.AuditInterface

	dispatchJob *scheduler.Job
	syncJob     *scheduler.Job
	batchSize   int
}

func NewIntegration(dispatcher *Dispatcher, poSync *PurchaseOrderSync, cursors *CursorStore, audits repository.AuditInterface, dispatchJob, syncJob *scheduler.Job, batchSize int) *Integration {
	return &Integration{
		dispatcher:  dispatcher,
		poSync:      poSync,
		cursors:     cursors,
		audits:      audits,
		dispatchJob: dispatchJob,
		syncJob:     syncJob,
		batchSize:   batchSize,
	}
}

// Dispatch runs one batch now. limit <= 0 uses the configured batch size.
func (i *Integration) Dispatch(ctx context.Context, limit int) (*v1.DispatchResult, error) {
	if limit <= 0 {
		limit = i.batchSize
	}
	var result *v1.DispatchResult
	err := i.dispatchJob.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = i.dispatcher.DispatchBatch(ctx, limit)
		return err
	})
	return result, err
}

func (i *Integration) SyncPurchaseOrders(ctx context.Context) (*v1.SyncResult, error) {
	if i.poSync == nil {
		return nil, fmt.Errorf("purchase order sync is not configured")
	}
	var result *v1.SyncResult
	err := i.syncJob.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = i.poSync.SyncOnce(ctx)
		return err
	})
	return result, err
}

func (i *Integration) Requeue(ctx context.Context, queueID int64) error {
	return i.dispatcher.Requeue(ctx, queueID)
}

func (i *Integration) Preview(ctx context.Context, documentID int64) (*v1.PayloadPreview, error) {
	return i.dispatcher.Preview(ctx, documentID)
}

func (i *Integration) Cursor(ctx context.Context, key string) (*v1.Cursor, error) {
	ts, stored, err := i.cursors.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return &v1.Cursor{Key: key, Watermark: ts, Stored: stored}, nil
}

// ResetCursor overwrites or deletes a cursor. It takes the sync guard so a
// running pull cannot write over the reset.
func (i *Integration) ResetCursor(ctx context.Context, key string, ts *time.Time) error {
	return i.syncJob.Do(ctx, func(ctx context.Context) error {
		return i.cursors.Reset(ctx, key, ts)
	})
}

// Ping checks the local database.
func (i *Integration) Ping(ctx context.Context) error {
	return i.audits.PingContext(ctx)
}
