package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	DocumentApplied = "APPLIED"
	DocumentPosted  = "POSTED"
)

// Document is an inventory document owned by the ledger. The bridge only
// writes the posting result fields.
type Document struct {
	ID             int64          `json:"id" gorm:"primaryKey"`
	DocType        string         `json:"doc_type" gorm:"size:32;index"`
	FromWarehouse  string         `json:"from_warehouse" gorm:"size:20"`
	ToWarehouse    string         `json:"to_warehouse" gorm:"size:20"`
	PostingDate    *time.Time     `json:"posting_date"`
	Reference      string         `json:"reference" gorm:"size:254"`
	VendorCode     string         `json:"vendor_code" gorm:"size:32"`
	ExternalRef    string         `json:"external_ref" gorm:"size:100;index"`
	Meta           datatypes.JSON `json:"meta"`
	Status         string         `json:"status" gorm:"size:16;default:APPLIED"`
	ExternalDocID  *int64         `json:"external_doc_id"`
	ExternalDocNum *int64         `json:"external_doc_num"`
	Lines          []DocumentLine `json:"lines" gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (Document) TableName() string { return "inventory_documents" }

type DocumentLine struct {
	ID            int64           `json:"id" gorm:"primaryKey"`
	DocumentID    int64           `json:"document_id" gorm:"index;not null"`
	ItemSku       string          `json:"item_sku" gorm:"size:50;not null"`
	FromWarehouse string          `json:"from_warehouse" gorm:"size:20"`
	ToWarehouse   string          `json:"to_warehouse" gorm:"size:20"`
	Quantity      decimal.Decimal `json:"quantity" gorm:"type:decimal(19,6)"`
	BaseDocID     *int64          `json:"base_doc_id"`
	BaseLineNum   *int            `json:"base_line_num"`
}

func (DocumentLine) TableName() string { return "inventory_document_lines" }

// HasBase reports whether the line references a purchase-order line.
func (l DocumentLine) HasBase() bool {
	return l.BaseDocID != nil && l.BaseLineNum != nil
}
