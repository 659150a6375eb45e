package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockbridge/internal/apperr"
	"stockbridge/internal/metrics"
	"stockbridge/internal/model"
	"stockbridge/internal/repository"
	"stockbridge/pkg/logger"

	"go.uber.org/zap"
)

var ErrMissingIdempotencyKey = errors.New("inbox event without idempotency key")

type EventRecord struct {
	Source         string
	EventName      string
	IdempotencyKey string
	Payload        string
}

// RecordResult tells the caller whether the event is new. A duplicate
// carries the id and status of the first delivery.
type RecordResult struct {
	ID       int64
	Inserted bool
	Status   model.InboxStatus
}

// Inbox deduplicates inbound events by idempotency key.
type Inbox struct {
	repo     repository.InboxInterface
	observer metrics.BridgeObserver
	now      func() time.Time
}

func NewInbox(repo repository.InboxInterface, observer metrics.BridgeObserver) *Inbox {
	if observer == nil {
		observer = metrics.Nop()
	}
	return &Inbox{repo: repo, observer: observer, now: time.Now}
}

func (i *Inbox) Record(ctx context.Context, rec EventRecord) (RecordResult, error) {
	if rec.IdempotencyKey == "" {
		return RecordResult{}, ErrMissingIdempotencyKey
	}
	event := &model.InboxEvent{
		Source:         firstNonEmpty(rec.Source, "UNKNOWN"),
		EventName:      firstNonEmpty(rec.EventName, "UNKNOWN"),
		IdempotencyKey: rec.IdempotencyKey,
		Payload:        rec.Payload,
		Status:         model.InboxPending,
	}
	stored, inserted, err := i.repo.Insert(ctx, event)
	if err != nil {
		return RecordResult{}, fmt.Errorf("record inbox event %q: %w", rec.IdempotencyKey, err)
	}
	if !inserted {
		i.observer.RecordInbox("duplicate")
	}
	return RecordResult{ID: stored.ID, Inserted: inserted, Status: stored.Status}, nil
}

func (i *Inbox) MarkDone(ctx context.Context, id int64) error {
	now := i.now()
	return i.repo.UpdateStatus(ctx, id, model.InboxDone, "", &now)
}

func (i *Inbox) MarkFailed(ctx context.Context, id int64, msg string) error {
	now := i.now()
	return i.repo.UpdateStatus(ctx, id, model.InboxFailed, apperr.Truncate(msg), &now)
}

// Process records rec and runs apply unless an earlier delivery already
// finished it. An apply failure marks the event FAILED and is returned so
// the transport can redeliver. skipped reports an idempotent no-op.
func (i *Inbox) Process(ctx context.Context, rec EventRecord, apply func(ctx context.Context) error) (skipped bool, err error) {
	res, err := i.Record(ctx, rec)
	if err != nil {
		return false, err
	}
	if !res.Inserted && res.Status == model.InboxDone {
		logger.Debug("inbox event already processed", zap.String("key", rec.IdempotencyKey), zap.Int64("id", res.ID))
		i.observer.RecordInbox("skipped")
		return true, nil
	}

	if err := apply(ctx); err != nil {
		if markErr := i.MarkFailed(ctx, res.ID, err.Error()); markErr != nil {
			logger.Error("failed to mark inbox event failed", zap.Int64("id", res.ID), zap.Error(markErr))
		}
		i.observer.RecordInbox("failed")
		return false, err
	}
	if err := i.MarkDone(ctx, res.ID); err != nil {
		return false, fmt.Errorf("mark inbox event %d done: %w", res.ID, err)
	}
	i.observer.RecordInbox("done")
	return false, nil
}
