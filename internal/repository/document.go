package repository

import (
	"context"
	"errors"

	"stockbridge/internal/apperr"
	"stockbridge/internal/model"

	"gorm.io/gorm"
)

type DocumentInterface interface {
	Create(ctx context.Context, doc *model.Document) error
	GetWithLines(ctx context.Context, id int64) (*model.Document, error)
	MarkPosted(ctx context.Context, id int64, externalID, externalNum *int64) error
	WithTx(tx *gorm.DB) DocumentInterface
}

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts the header and its lines.
func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *DocumentRepository) GetWithLines(ctx context.Context, id int64) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&doc, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &apperr.NotFoundError{Entity: "document", ID: id}
		}
		return nil, err
	}
	return &doc, nil
}

// MarkPosted stores the ERP identifiers. It touches nothing else on the
// ledger-owned row.
func (r *DocumentRepository) MarkPosted(ctx context.Context, id int64, externalID, externalNum *int64) error {
	return r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).Updates(map[string]any{
		"external_doc_id":  externalID,
		"external_doc_num": externalNum,
		"status":           model.DocumentPosted,
	}).Error
}

func (r *DocumentRepository) WithTx(tx *gorm.DB) DocumentInterface {
	return &DocumentRepository{db: tx}
}
