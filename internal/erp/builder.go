package erp

import (
	"encoding/json"
	"fmt"
	"time"

	"stockbridge/internal/apperr"
	"stockbridge/internal/model"
	"stockbridge/pkg/constraints"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Payload shapes. Absent values are omitted, never sent as null.

type InventoryDocument struct {
	DocDate           string         `json:"DocDate"`
	DocDueDate        string         `json:"DocDueDate,omitempty"`
	Comments          string         `json:"Comments,omitempty"`
	DocumentSubType   string         `json:"DocumentSubType,omitempty"`
	Series            *int           `json:"Series,omitempty"`
	Indicator         string         `json:"Indicator,omitempty"`
	FolioPrefixString string         `json:"FolioPrefixString,omitempty"`
	FolioNumber       *int           `json:"FolioNumber,omitempty"`
	CardCode          string         `json:"CardCode,omitempty"`
	DocumentLines     []DocumentLine `json:"DocumentLines"`
}

type DocumentLine struct {
	BaseType      *int        `json:"BaseType,omitempty"`
	BaseEntry     *int64      `json:"BaseEntry,omitempty"`
	BaseLine      *int        `json:"BaseLine,omitempty"`
	ItemCode      string      `json:"ItemCode,omitempty"`
	Quantity      json.Number `json:"Quantity,omitempty"`
	WarehouseCode string      `json:"WarehouseCode,omitempty"`
}

type StockTransfer struct {
	DocDate            string         `json:"DocDate"`
	Comments           string         `json:"Comments,omitempty"`
	FromWarehouse      string         `json:"FromWarehouse,omitempty"`
	ToWarehouse        string         `json:"ToWarehouse,omitempty"`
	StockTransferLines []TransferLine `json:"StockTransferLines"`
}

type TransferLine struct {
	ItemCode          string      `json:"ItemCode"`
	Quantity          json.Number `json:"Quantity"`
	FromWarehouseCode string      `json:"FromWarehouseCode,omitempty"`
	WarehouseCode     string      `json:"WarehouseCode,omitempty"`
}

// DocMeta is the optional per-document metadata passed through to the
// ERP header.
type DocMeta struct {
	DocDate           string `json:"DocDate"`
	DocDueDate        string `json:"DocDueDate"`
	DocumentSubType   string `json:"DocumentSubType"`
	Series            *int   `json:"Series"`
	Indicator         string `json:"Indicator"`
	FolioPrefixString string `json:"FolioPrefixString"`
	FolioNumber       *int   `json:"FolioNumber"`
	CardCode          string `json:"CardCode"`
}

// ParseMeta returns the zero DocMeta for empty or malformed input.
func ParseMeta(raw []byte) DocMeta {
	var meta DocMeta
	if len(raw) == 0 {
		return meta
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return DocMeta{}
	}
	return meta
}

// Target binds a document type to its ERP object, resource path and
// builder.
type Target struct {
	DocType string
	Object  string
	Path    string
	build   func(doc *model.Document, now time.Time) (any, error)
}

// Build maps doc to the ERP payload. now only feeds the date fallback, so
// the same inputs always give the same payload.
func (t Target) Build(doc *model.Document, now time.Time) (any, error) {
	if len(doc.Lines) == 0 {
		return nil, apperr.NewValidation(fmt.Sprintf("document %d has no lines", doc.ID))
	}
	return t.build(doc, now)
}

var targets = map[string]Target{
	constraints.DocGoodsEntry: {
		DocType: constraints.DocGoodsEntry,
		Object:  constraints.ObjectGoodsEntry,
		Path:    constraints.PathGoodsEntry,
		build:   buildGoodsEntry,
	},
	constraints.DocGoodsExit: {
		DocType: constraints.DocGoodsExit,
		Object:  constraints.ObjectGoodsExit,
		Path:    constraints.PathGoodsExit,
		build:   buildGoodsExit,
	},
	constraints.DocTransfer: {
		DocType: constraints.DocTransfer,
		Object:  constraints.ObjectTransfer,
		Path:    constraints.PathTransfer,
		build:   buildTransfer,
	},
	constraints.DocPurchaseDelivery: {
		DocType: constraints.DocPurchaseDelivery,
		Object:  constraints.ObjectPurchaseDelivery,
		Path:    constraints.PathPurchaseDelivery,
		build:   buildPurchaseDelivery,
	},
}

func TargetFor(docType string) (Target, error) {
	t, ok := targets[constraints.NormalizeDocType(docType)]
	if !ok {
		return Target{}, &apperr.UnsupportedDocTypeError{DocType: docType}
	}
	return t, nil
}

func buildGoodsEntry(doc *model.Document, now time.Time) (any, error) {
	return buildMovement(doc, now, func(l model.DocumentLine) string {
		return firstNonEmpty(l.ToWarehouse, doc.ToWarehouse)
	})
}

func buildGoodsExit(doc *model.Document, now time.Time) (any, error) {
	return buildMovement(doc, now, func(l model.DocumentLine) string {
		return firstNonEmpty(l.FromWarehouse, doc.FromWarehouse)
	})
}

func buildMovement(doc *model.Document, now time.Time, warehouse func(model.DocumentLine) string) (any, error) {
	meta := ParseMeta(doc.Meta)
	out := InventoryDocument{
		DocDate:  documentDate(meta, doc, now),
		Comments: doc.Reference,
	}
	for i, l := range doc.Lines {
		qty, err := positiveQuantity(i, l.Quantity)
		if err != nil {
			return nil, err
		}
		out.DocumentLines = append(out.DocumentLines, DocumentLine{
			ItemCode:      l.ItemSku,
			Quantity:      qty,
			WarehouseCode: warehouse(l),
		})
	}
	return out, nil
}

func buildTransfer(doc *model.Document, now time.Time) (any, error) {
	out := StockTransfer{
		DocDate:       documentDate(ParseMeta(doc.Meta), doc, now),
		Comments:      doc.Reference,
		FromWarehouse: doc.FromWarehouse,
		ToWarehouse:   doc.ToWarehouse,
	}
	var problems []string
	for i, l := range doc.Lines {
		qty, err := positiveQuantity(i, l.Quantity)
		if err != nil {
			return nil, err
		}
		from := firstNonEmpty(l.FromWarehouse, doc.FromWarehouse)
		to := firstNonEmpty(l.ToWarehouse, doc.ToWarehouse)
		if from == "" || to == "" {
			problems = append(problems, fmt.Sprintf("line %d: transfer needs a source and a target warehouse", i+1))
			continue
		}
		out.StockTransferLines = append(out.StockTransferLines, TransferLine{
			ItemCode:          l.ItemSku,
			Quantity:          qty,
			FromWarehouseCode: from,
			WarehouseCode:     to,
		})
	}
	if len(problems) > 0 {
		return nil, apperr.NewValidation(problems...)
	}
	if out.FromWarehouse == "" {
		out.FromWarehouse = out.StockTransferLines[0].FromWarehouseCode
	}
	if out.ToWarehouse == "" {
		out.ToWarehouse = out.StockTransferLines[0].WarehouseCode
	}
	return out, nil
}

func buildPurchaseDelivery(doc *model.Document, now time.Time) (any, error) {
	meta := ParseMeta(doc.Meta)
	docDate := documentDate(meta, doc, now)
	out := InventoryDocument{
		DocDate:           docDate,
		DocDueDate:        firstNonEmpty(normalizeDate(meta.DocDueDate), docDate),
		Comments:          doc.Reference,
		DocumentSubType:   firstNonEmpty(meta.DocumentSubType, "bost_Normal"),
		Series:            meta.Series,
		Indicator:         meta.Indicator,
		FolioPrefixString: meta.FolioPrefixString,
		FolioNumber:       meta.FolioNumber,
		CardCode:          firstNonEmpty(meta.CardCode, doc.VendorCode),
	}
	for i, l := range doc.Lines {
		if l.HasBase() {
			baseType := constraints.ObjTypePurchaseOrder
			line := DocumentLine{BaseType: &baseType, BaseEntry: l.BaseDocID, BaseLine: l.BaseLineNum}
			// the ERP derives the open quantity when none is sent
			if !l.Quantity.IsZero() {
				qty, err := positiveQuantity(i, l.Quantity)
				if err != nil {
					return nil, err
				}
				line.Quantity = qty
			}
			out.DocumentLines = append(out.DocumentLines, line)
			continue
		}
		qty, err := positiveQuantity(i, l.Quantity)
		if err != nil {
			return nil, err
		}
		out.DocumentLines = append(out.DocumentLines, DocumentLine{
			ItemCode:      l.ItemSku,
			Quantity:      qty,
			WarehouseCode: firstNonEmpty(l.ToWarehouse, doc.ToWarehouse),
		})
	}
	return out, nil
}

func positiveQuantity(i int, q decimal.Decimal) (json.Number, error) {
	if !q.IsPositive() {
		return "", apperr.NewValidation(fmt.Sprintf("line %d: quantity must be positive, got %s", i+1, q.String()))
	}
	return json.Number(q.String()), nil
}

// documentDate prefers meta.DocDate, then the posting date, then now.
func documentDate(meta DocMeta, doc *model.Document, now time.Time) string {
	if d := normalizeDate(meta.DocDate); d != "" {
		return d
	}
	if doc.PostingDate != nil && !doc.PostingDate.IsZero() {
		return doc.PostingDate.UTC().Format(dateLayout)
	}
	return now.UTC().Format(dateLayout)
}

var dateInputLayouts = []string{dateLayout, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

func normalizeDate(s string) string {
	if s == "" {
		return ""
	}
	for _, layout := range dateInputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(dateLayout)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
