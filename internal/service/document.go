package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"stockbridge/internal/apperr"
	"stockbridge/internal/dto/req"
	"stockbridge/internal/model"
	"stockbridge/internal/repository"
	v1 "stockbridge/pkg/api/v1"
	"stockbridge/pkg/constraints"
	"stockbridge/pkg/logger"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var postingDateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// DocumentService accepts ledger documents and queues them for the ERP.
type DocumentService struct {
	db       *gorm.DB
	docs     repository.DocumentInterface
	queue    repository.QueueInterface
	audits   repository.AuditInterface
	validate *validator.Validate
}

func NewDocumentService(db *gorm.DB, docs repository.DocumentInterface, queue repository.QueueInterface, audits repository.AuditInterface) *DocumentService {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &DocumentService{db: db, docs: docs, queue: queue, audits: audits, validate: v}
}

// Create normalizes raw, validates it and stores the document with a
// PENDING queue item in one transaction. Invalid input never reaches the
// database.
func (s *DocumentService) Create(ctx context.Context, raw map[string]any) (*v1.DocumentCreated, error) {
	request, err := s.Parse(raw)
	if err != nil {
		return nil, err
	}
	doc, err := toDocument(request)
	if err != nil {
		return nil, err
	}

	item := &model.QueueItem{
		DocType: doc.DocType,
		Status:  model.QueuePending,
		TraceID: GetTraceID(ctx),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.docs.WithTx(tx).Create(ctx, doc); err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		item.DocumentID = doc.ID
		if err := s.queue.WithTx(tx).Create(ctx, item); err != nil {
			return fmt.Errorf("enqueue document: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("document queued",
		zap.Int64("document_id", doc.ID),
		zap.Int64("queue_id", item.ID),
		zap.String("doc_type", doc.DocType),
		zap.Int("lines", len(doc.Lines)))
	return &v1.DocumentCreated{DocumentID: doc.ID, QueueID: item.ID, DocType: doc.DocType}, nil
}

// Parse folds field aliases onto canonical names and validates the result.
func (s *DocumentService) Parse(raw map[string]any) (*req.DocumentRequest, error) {
	normalized := NormalizeDocument(raw)
	b, err := json.Marshal(normalized)
	if err != nil {
		return nil, apperr.NewValidation(err.Error())
	}
	var request req.DocumentRequest
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&request); err != nil {
		return nil, apperr.NewValidation(fmt.Sprintf("malformed document: %v", err))
	}

	var problems []string
	if err := s.validate.Struct(&request); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, err
		}
		for _, fe := range fieldErrs {
			problems = append(problems, fmt.Sprintf("%s: failed %s", strings.TrimPrefix(fe.Namespace(), "DocumentRequest."), fe.Tag()))
		}
	}

	docType := constraints.NormalizeDocType(request.DocType)
	if request.DocType != "" && docType == "" {
		return nil, &apperr.UnsupportedDocTypeError{DocType: request.DocType}
	}
	request.DocType = docType
	problems = append(problems, checkDocument(&request)...)
	if len(problems) > 0 {
		return nil, apperr.NewValidation(problems...)
	}
	return &request, nil
}

// NormalizeDocument renames header and line keys through the alias tables.
// Unknown keys are dropped. When an alias and the canonical name are both
// present the canonical one wins.
func NormalizeDocument(raw map[string]any) map[string]any {
	out := renameKeys(raw, constraints.HeaderAliases)
	if lines, ok := out["lines"].([]any); ok {
		normalized := make([]any, 0, len(lines))
		for _, l := range lines {
			if m, ok := l.(map[string]any); ok {
				normalized = append(normalized, renameKeys(m, constraints.LineAliases))
				continue
			}
			normalized = append(normalized, l)
		}
		out["lines"] = normalized
	}
	if meta, ok := out["meta"].(string); ok {
		// metaJson arrives as an encoded string
		var decoded map[string]any
		if err := json.Unmarshal([]byte(meta), &decoded); err == nil {
			out["meta"] = decoded
		} else {
			delete(out, "meta")
		}
	}
	return out
}

// renameKeys keeps the known fields of in under their canonical names.
// Unknown keys and nulls are dropped.
func renameKeys(in map[string]any, aliases []constraints.FieldAliases) map[string]any {
	out := make(map[string]any, len(aliases))
	for _, a := range aliases {
		for _, name := range a.Names {
			if v, ok := in[name]; ok && v != nil {
				out[a.Field] = v
				break
			}
		}
	}
	return out
}

// checkDocument applies the per-type warehouse and line rules.
func checkDocument(r *req.DocumentRequest) []string {
	var problems []string
	delivery := r.DocType == constraints.DocPurchaseDelivery

	for i, l := range r.Lines {
		n := i + 1
		based := delivery && l.BaseDocID != nil && l.BaseLineNum != nil
		if !based && l.ItemSku == "" {
			problems = append(problems, fmt.Sprintf("line %d: itemSku is required", n))
		}
		switch {
		case based && l.Quantity.IsNegative():
			problems = append(problems, fmt.Sprintf("line %d: quantity must not be negative", n))
		case !based && !l.Quantity.IsPositive():
			problems = append(problems, fmt.Sprintf("line %d: quantity must be positive", n))
		}

		from := firstNonEmpty(l.FromWarehouse, r.FromWarehouse)
		to := firstNonEmpty(l.ToWarehouse, r.ToWarehouse)
		switch r.DocType {
		case constraints.DocGoodsEntry:
			if to == "" {
				problems = append(problems, fmt.Sprintf("line %d: goods entry needs a target warehouse", n))
			}
		case constraints.DocGoodsExit:
			if from == "" {
				problems = append(problems, fmt.Sprintf("line %d: goods exit needs a source warehouse", n))
			}
		case constraints.DocTransfer:
			if from == "" || to == "" {
				problems = append(problems, fmt.Sprintf("line %d: transfer needs a source and a target warehouse", n))
			}
		case constraints.DocPurchaseDelivery:
			if !based && to == "" {
				problems = append(problems, fmt.Sprintf("line %d: delivery line needs a purchase order reference or a target warehouse", n))
			}
		}
	}

	if r.PostingDate != "" {
		if _, err := parsePostingDate(r.PostingDate); err != nil {
			problems = append(problems, fmt.Sprintf("postingDate: %v", err))
		}
	}
	return problems
}

func parsePostingDate(s string) (time.Time, error) {
	for _, layout := range postingDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func toDocument(r *req.DocumentRequest) (*model.Document, error) {
	doc := &model.Document{
		DocType:       r.DocType,
		FromWarehouse: r.FromWarehouse,
		ToWarehouse:   r.ToWarehouse,
		Reference:     r.Reference,
		VendorCode:    r.VendorCode,
		ExternalRef:   r.ExternalRef,
		Status:        model.DocumentApplied,
	}
	if r.PostingDate != "" {
		t, err := parsePostingDate(r.PostingDate)
		if err != nil {
			return nil, apperr.NewValidation(err.Error())
		}
		doc.PostingDate = &t
	}
	if len(r.Meta) > 0 && !bytes.Equal(r.Meta, []byte("null")) {
		doc.Meta = datatypes.JSON(r.Meta)
	}
	for _, l := range r.Lines {
		doc.Lines = append(doc.Lines, model.DocumentLine{
			ItemSku:       l.ItemSku,
			FromWarehouse: l.FromWarehouse,
			ToWarehouse:   l.ToWarehouse,
			Quantity:      l.Quantity,
			BaseDocID:     l.BaseDocID,
			BaseLineNum:   l.BaseLineNum,
		})
	}
	return doc, nil
}

// Audits lists the ERP post snapshots of a document, newest first.
func (s *DocumentService) Audits(ctx context.Context, documentID int64) ([]v1.Audit, error) {
	rows, err := s.audits.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]v1.Audit, 0, len(rows))
	for _, r := range rows {
		out = append(out, v1.Audit{
			ID:             r.ID,
			QueueID:        r.QueueItemID,
			DocumentID:     r.DocumentID,
			DocType:        r.DocType,
			ErpObject:      r.ErpObject,
			ExternalDocID:  r.ExternalDocID,
			ExternalDocNum: r.ExternalDocNum,
			Payload:        json.RawMessage(r.Payload),
			Response:       json.RawMessage(r.Response),
			Error:          r.ErrorMessage,
			Operator:       r.Operator,
			CreatedAt:      r.CreatedAt,
		})
	}
	return out, nil
}
