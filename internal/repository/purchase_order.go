package repository

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"stockbridge/internal/model"
	"stockbridge/pkg/constraints"

	"github.com/shopspring/decimal"
	"github.com/zeebo/blake3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PurchaseOrderInterface interface {
	Upsert(ctx context.Context, po *model.PurchaseOrder) (bool, error)
	GetByExternalID(ctx context.Context, externalID int64) (*model.PurchaseOrder, error)
}

type PurchaseOrderRepository struct {
	db *gorm.DB
}

func NewPurchaseOrderRepository(db *gorm.DB) *PurchaseOrderRepository {
	return &PurchaseOrderRepository{db: db}
}

var headerColumns = []string{
	"doc_num", "series", "vendor_code", "vendor_name", "doc_date", "doc_due_date",
	"doc_status", "cancelled", "currency", "doc_total", "comments",
	"source_updated_at", "fingerprint", "updated_at",
}

var lineColumns = []string{
	"item_sku", "warehouse_code", "ordered_qty", "open_qty", "price",
	"currency", "tax_code", "uom_code", "line_status",
}

// Upsert writes po keyed by its ERP DocEntry and reports whether anything
// changed. An order without lines is a header-only update: a closed or
// cancelled header closes the stored lines instead of replacing them.
func (r *PurchaseOrderRepository) Upsert(ctx context.Context, po *model.PurchaseOrder) (bool, error) {
	var changed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findOrder(tx, po.ExternalDocID)
		if err != nil {
			return err
		}
		if len(po.Lines) == 0 {
			changed, err = applyHeaderOnly(tx, po, existing)
			return err
		}

		po.Fingerprint = Fingerprint(po)
		if existing != nil && existing.Fingerprint == po.Fingerprint {
			po.ID = existing.ID
			return nil
		}

		lines := po.Lines
		po.Lines = nil
		defer func() { po.Lines = lines }()

		if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_doc_id"}},
			DoUpdates: clause.AssignmentColumns(headerColumns),
		}).Create(po).Error; err != nil {
			return err
		}
		id, err := orderID(tx, po.ExternalDocID)
		if err != nil {
			return err
		}
		po.ID = id

		nums := make([]int, 0, len(lines))
		for i := range lines {
			lines[i].ID = 0
			lines[i].PurchaseOrderID = id
			lines[i].LineStatus = constraints.NormalizeLineStatus(lines[i].LineStatus)
			nums = append(nums, lines[i].LineNum)
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "purchase_order_id"}, {Name: "line_num"}},
			DoUpdates: clause.AssignmentColumns(lineColumns),
		}).Create(&lines).Error; err != nil {
			return err
		}
		if err := tx.Where("purchase_order_id = ? AND line_num NOT IN ?", id, nums).
			Delete(&model.PurchaseOrderLine{}).Error; err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

func applyHeaderOnly(tx *gorm.DB, po *model.PurchaseOrder, existing *model.PurchaseOrder) (bool, error) {
	if existing == nil {
		if po.DocStatus == "" {
			po.DocStatus = "O"
		}
		if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(po).Error; err != nil {
			return false, err
		}
		id, err := orderID(tx, po.ExternalDocID)
		if err != nil {
			return false, err
		}
		po.ID = id
		return true, nil
	}

	po.ID = existing.ID
	if existing.DocStatus == po.DocStatus && existing.Cancelled == po.Cancelled {
		return false, nil
	}

	updates := map[string]any{
		"doc_status": po.DocStatus,
		"cancelled":  po.Cancelled,
		// forces the next full pull to rewrite the lines
		"fingerprint": "",
	}
	if po.VendorCode != "" {
		updates["vendor_code"] = po.VendorCode
	}
	if po.VendorName != "" {
		updates["vendor_name"] = po.VendorName
	}
	if po.DocNum != nil {
		updates["doc_num"] = po.DocNum
	}
	if po.Comments != "" {
		updates["comments"] = po.Comments
	}
	if err := tx.Model(&model.PurchaseOrder{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
		return false, err
	}

	if po.Closed() {
		if err := tx.Model(&model.PurchaseOrderLine{}).
			Where("purchase_order_id = ?", existing.ID).
			Update("line_status", constraints.LineClosed).Error; err != nil {
			return false, err
		}
	}
	return true, nil
}

func findOrder(tx *gorm.DB, externalID int64) (*model.PurchaseOrder, error) {
	var po model.PurchaseOrder
	err := tx.Where("external_doc_id = ?", externalID).First(&po).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &po, nil
}

func orderID(tx *gorm.DB, externalID int64) (int64, error) {
	var id int64
	err := tx.Model(&model.PurchaseOrder{}).
		Where("external_doc_id = ?", externalID).
		Select("id").
		Scan(&id).Error
	return id, err
}

func (r *PurchaseOrderRepository) GetByExternalID(ctx context.Context, externalID int64) (*model.PurchaseOrder, error) {
	var po model.PurchaseOrder
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_num ASC") }).
		Where("external_doc_id = ?", externalID).
		First(&po).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &po, nil
}

type fingerprintLine struct {
	LineNum    int             `json:"n"`
	ItemSku    string          `json:"i"`
	Warehouse  string          `json:"w"`
	OrderedQty decimal.Decimal `json:"q"`
	OpenQty    decimal.Decimal `json:"o"`
	Price      string          `json:"p"`
	Currency   string          `json:"c"`
	TaxCode    string          `json:"t"`
	UomCode    string          `json:"u"`
	Status     string          `json:"s"`
}

type fingerprintDoc struct {
	DocNum     *int64            `json:"dn"`
	Series     *int              `json:"se"`
	Vendor     string            `json:"v"`
	VendorName string            `json:"vn"`
	DocDate    *time.Time        `json:"d"`
	DueDate    *time.Time        `json:"dd"`
	Status     string            `json:"st"`
	Cancelled  bool              `json:"x"`
	Currency   string            `json:"c"`
	Total      string            `json:"t"`
	Comments   string            `json:"cm"`
	Lines      []fingerprintLine `json:"l"`
}

// Fingerprint hashes the business content of po. Timestamps of the sync
// itself are excluded so an unchanged order hashes the same on every pull.
func Fingerprint(po *model.PurchaseOrder) string {
	doc := fingerprintDoc{
		DocNum:     po.DocNum,
		Series:     po.Series,
		Vendor:     po.VendorCode,
		VendorName: po.VendorName,
		DocDate:    utcPtr(po.DocDate),
		DueDate:    utcPtr(po.DocDueDate),
		Status:     po.DocStatus,
		Cancelled:  po.Cancelled,
		Currency:   po.Currency,
		Total:      nullDecimalString(po.DocTotal),
		Comments:   po.Comments,
	}
	for _, l := range po.Lines {
		doc.Lines = append(doc.Lines, fingerprintLine{
			LineNum:    l.LineNum,
			ItemSku:    l.ItemSku,
			Warehouse:  l.WarehouseCode,
			OrderedQty: l.OrderedQty,
			OpenQty:    l.OpenQty,
			Price:      nullDecimalString(l.Price),
			Currency:   l.Currency,
			TaxCode:    l.TaxCode,
			UomCode:    l.UomCode,
			Status:     constraints.NormalizeLineStatus(l.LineStatus),
		})
	}
	b, _ := json.Marshal(doc)
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func nullDecimalString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
