package repository

import (
	"context"
	"time"

	"stockbridge/internal/model"

	"gorm.io/gorm"
)

type QueueInterface interface {
	Create(ctx context.Context, item *model.QueueItem) error
	Get(ctx context.Context, id int64) (*model.QueueItem, error)
	FetchEligible(ctx context.Context, statuses []model.QueueStatus, now time.Time, limit int) ([]model.QueueItem, error)
	Claim(ctx context.Context, item *model.QueueItem, owner string, now time.Time) (bool, error)
	MarkDone(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, status model.QueueStatus, nextRunAt *time.Time, msg string) error
	Requeue(ctx context.Context, id int64, sendingBefore time.Time) (bool, error)
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]model.QueueItem, error)
	WithTx(tx *gorm.DB) QueueInterface
}

type QueueRepository struct {
	db *gorm.DB
}

func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

func (r *QueueRepository) Create(ctx context.Context, item *model.QueueItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *QueueRepository) Get(ctx context.Context, id int64) (*model.QueueItem, error) {
	var item model.QueueItem
	if err := r.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// FetchEligible returns items in one of statuses that are due at now,
// oldest first.
func (r *QueueRepository) FetchEligible(ctx context.Context, statuses []model.QueueStatus, now time.Time, limit int) ([]model.QueueItem, error) {
	var items []model.QueueItem
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Where("next_run_at IS NULL OR next_run_at <= ?", now).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// Claim moves item to SENDING only if nobody changed its status since it
// was read. A false result means another worker got there first.
func (r *QueueRepository) Claim(ctx context.Context, item *model.QueueItem, owner string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.QueueItem{}).
		Where("id = ? AND status = ?", item.ID, item.Status).
		Updates(map[string]any{
			"status":     model.QueueSending,
			"attempts":   gorm.Expr("attempts + 1"),
			"locked_by":  owner,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	item.Status = model.QueueSending
	item.Attempts++
	item.LockedBy = owner
	return true, nil
}

func (r *QueueRepository) MarkDone(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&model.QueueItem{}).Where("id = ?", id).Updates(map[string]any{
		"status":      model.QueueDone,
		"next_run_at": nil,
		"last_error":  "",
		"locked_by":   "",
	}).Error
}

func (r *QueueRepository) MarkFailed(ctx context.Context, id int64, status model.QueueStatus, nextRunAt *time.Time, msg string) error {
	return r.db.WithContext(ctx).Model(&model.QueueItem{}).Where("id = ?", id).Updates(map[string]any{
		"status":      status,
		"next_run_at": nextRunAt,
		"last_error":  msg,
		"locked_by":   "",
	}).Error
}

// Requeue puts a FAILED item, or a SENDING item untouched since
// sendingBefore, back to PENDING.
func (r *QueueRepository) Requeue(ctx context.Context, id int64, sendingBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.QueueItem{}).
		Where("id = ?", id).
		Where(r.db.Where("status = ?", model.QueueFailed).
			Or("status = ? AND updated_at <= ?", model.QueueSending, sendingBefore)).
		Updates(map[string]any{
			"status":      model.QueuePending,
			"next_run_at": nil,
			"locked_by":   "",
		})
	return res.RowsAffected == 1, res.Error
}

// ListStale returns SENDING items untouched since olderThan. Their ERP
// outcome is unknown.
func (r *QueueRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]model.QueueItem, error) {
	var items []model.QueueItem
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at <= ?", model.QueueSending, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *QueueRepository) WithTx(tx *gorm.DB) QueueInterface {
	return &QueueRepository{db: tx}
}
