package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockbridge/internal/model"

	"gorm.io/gorm"
)

type InboxInterface interface {
	Insert(ctx context.Context, event *model.InboxEvent) (*model.InboxEvent, bool, error)
	FindByKey(ctx context.Context, key string) (*model.InboxEvent, error)
	UpdateStatus(ctx context.Context, id int64, status model.InboxStatus, msg string, processedAt *time.Time) error
}

type InboxRepository struct {
	db *gorm.DB
}

func NewInboxRepository(db *gorm.DB) *InboxRepository {
	return &InboxRepository{db: db}
}

// Insert stores event, or returns the row already holding its idempotency
// key. The bool reports whether a new row was written.
func (r *InboxRepository) Insert(ctx context.Context, event *model.InboxEvent) (*model.InboxEvent, bool, error) {
	err := r.db.WithContext(ctx).Create(event).Error
	if err == nil {
		return event, true, nil
	}
	if !IsDuplicateKey(err) {
		return nil, false, err
	}

	existing, findErr := r.FindByKey(ctx, event.IdempotencyKey)
	if findErr != nil {
		return nil, false, fmt.Errorf("inbox duplicate %q: %w", event.IdempotencyKey, findErr)
	}
	if existing == nil {
		return nil, false, fmt.Errorf("inbox duplicate %q vanished: %w", event.IdempotencyKey, err)
	}
	return existing, false, nil
}

func (r *InboxRepository) FindByKey(ctx context.Context, key string) (*model.InboxEvent, error) {
	var event model.InboxEvent
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *InboxRepository) UpdateStatus(ctx context.Context, id int64, status model.InboxStatus, msg string, processedAt *time.Time) error {
	return r.db.WithContext(ctx).Model(&model.InboxEvent{}).Where("id = ?", id).Updates(map[string]any{
		"status":        status,
		"error_message": msg,
		"processed_at":  processedAt,
	}).Error
}
