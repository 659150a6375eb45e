package req

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// DocumentRequest is the canonical intake body, after field aliases have
// been folded onto these names.
type DocumentRequest struct {
	DocType       string                `json:"docType" validate:"required"`
	FromWarehouse string                `json:"fromWarehouse" validate:"max=20"`
	ToWarehouse   string                `json:"toWarehouse" validate:"max=20"`
	PostingDate   string                `json:"postingDate"`
	Reference     string                `json:"reference" validate:"max=254"`
	VendorCode    string                `json:"vendorCode" validate:"max=32"`
	ExternalRef   string                `json:"externalRef" validate:"max=100"`
	Meta          json.RawMessage       `json:"meta"`
	Lines         []DocumentLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type DocumentLineRequest struct {
	ItemSku       string          `json:"itemSku" validate:"max=50"`
	FromWarehouse string          `json:"fromWarehouse" validate:"max=20"`
	ToWarehouse   string          `json:"toWarehouse" validate:"max=20"`
	Quantity      decimal.Decimal `json:"quantity"`
	BaseDocID     *int64          `json:"baseDocId" validate:"omitempty,gt=0"`
	BaseLineNum   *int            `json:"baseLineNum" validate:"omitempty,gte=0"`
}

type RequeueRequest struct {
	ID int64 `uri:"id" binding:"required"`
}

type CursorResetRequest struct {
	// TS is RFC3339. Empty drops the cursor so the lookback default applies.
	TS string `json:"ts"`
}
