package repository

import (
	"context"
	"errors"

	"stockbridge/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CursorInterface interface {
	Get(ctx context.Context, key string) (*model.SyncCursor, error)
	Save(ctx context.Context, cursor *model.SyncCursor) error
	Delete(ctx context.Context, key string) error
	WithTx(tx *gorm.DB) CursorInterface
	Transaction(ctx context.Context, fn func(tx CursorInterface) error) error
}

type CursorRepository struct {
	db *gorm.DB
}

func NewCursorRepository(db *gorm.DB) *CursorRepository {
	return &CursorRepository{db: db}
}

// Get returns nil when no cursor exists for key.
func (r *CursorRepository) Get(ctx context.Context, key string) (*model.SyncCursor, error) {
	var c model.SyncCursor
	if err := r.db.WithContext(ctx).Where("`key` = ?", key).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// Save upserts the cursor row.
func (r *CursorRepository) Save(ctx context.Context, cursor *model.SyncCursor) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(cursor).Error
}

func (r *CursorRepository) Delete(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where("`key` = ?", key).Delete(&model.SyncCursor{}).Error
}

func (r *CursorRepository) WithTx(tx *gorm.DB) CursorInterface {
	return &CursorRepository{db: tx}
}

func (r *CursorRepository) Transaction(ctx context.Context, fn func(tx CursorInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}
