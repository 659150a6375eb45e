package repository

import (
	"context"

	"stockbridge/internal/model"

	"gorm.io/gorm"
)

// AuditInterface persists ERP post snapshots. Rows are never updated.
type AuditInterface interface {
	Create(ctx context.Context, audit *model.ErpDocument) error
	ListByDocument(ctx context.Context, documentID int64) ([]model.ErpDocument, error)
	PingContext(ctx context.Context) error
	WithTx(tx *gorm.DB) AuditInterface
}

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, audit *model.ErpDocument) error {
	return r.db.WithContext(ctx).Create(audit).Error
}

func (r *AuditRepository) ListByDocument(ctx context.Context, documentID int64) ([]model.ErpDocument, error) {
	var audits []model.ErpDocument
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC, id DESC").
		Find(&audits).Error
	return audits, err
}

func (r *AuditRepository) WithTx(tx *gorm.DB) AuditInterface {
	return &AuditRepository{db: tx}
}

func (r *AuditRepository) PingContext(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
