package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseOrder is the local mirror of an ERP purchase order, keyed by the
// ERP DocEntry.
type PurchaseOrder struct {
	ID              int64               `json:"id" gorm:"primaryKey"`
	ExternalDocID   int64               `json:"external_doc_id" gorm:"uniqueIndex;not null"`
	DocNum          *int64              `json:"doc_num"`
	Series          *int                `json:"series"`
	VendorCode      string              `json:"vendor_code" gorm:"size:32;index"`
	VendorName      string              `json:"vendor_name" gorm:"size:200"`
	DocDate         *time.Time          `json:"doc_date"`
	DocDueDate      *time.Time          `json:"doc_due_date"`
	DocStatus       string              `json:"doc_status" gorm:"size:1;default:O"`
	Cancelled       bool                `json:"cancelled"`
	Currency        string              `json:"currency" gorm:"size:8"`
	DocTotal        decimal.NullDecimal `json:"doc_total" gorm:"type:decimal(19,6)"`
	Comments        string              `json:"comments" gorm:"size:254"`
	SourceUpdatedAt *time.Time          `json:"source_updated_at"`
	Fingerprint     string              `json:"-" gorm:"size:64"`
	Lines           []PurchaseOrderLine `json:"lines" gorm:"foreignKey:PurchaseOrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func (PurchaseOrder) TableName() string { return "purchase_orders" }

// Closed reports whether the order no longer accepts receipts.
func (p PurchaseOrder) Closed() bool {
	return p.Cancelled || p.DocStatus == "C"
}

type PurchaseOrderLine struct {
	ID              int64               `json:"id" gorm:"primaryKey"`
	PurchaseOrderID int64               `json:"purchase_order_id" gorm:"uniqueIndex:idx_po_line;not null"`
	LineNum         int                 `json:"line_num" gorm:"uniqueIndex:idx_po_line"`
	ItemSku         string              `json:"item_sku" gorm:"size:50"`
	WarehouseCode   string              `json:"warehouse_code" gorm:"size:20"`
	OrderedQty      decimal.Decimal     `json:"ordered_qty" gorm:"type:decimal(19,6)"`
	OpenQty         decimal.Decimal     `json:"open_qty" gorm:"type:decimal(19,6)"`
	Price           decimal.NullDecimal `json:"price" gorm:"type:decimal(19,6)"`
	Currency        string              `json:"currency" gorm:"size:8"`
	TaxCode         string              `json:"tax_code" gorm:"size:16"`
	UomCode         string              `json:"uom_code" gorm:"size:20"`
	LineStatus      string              `json:"line_status" gorm:"size:1;default:O"`
}

func (PurchaseOrderLine) TableName() string { return "purchase_order_lines" }

// All tables owned by the bridge, in migration order.
func All() []any {
	return []any{
		&Document{},
		&DocumentLine{},
		&QueueItem{},
		&ErpDocument{},
		&InboxEvent{},
		&SyncCursor{},
		&PurchaseOrder{},
		&PurchaseOrderLine{},
		&IntegrationClient{},
	}
}
