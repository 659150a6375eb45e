package repository

import (
	"context"
	"time"

	"stockbridge/internal/apperr"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SourceStamp is a point in the ERP database's local clock: a calendar
// date and an HHMMSS integer, the way the ERP stores change times.
type SourceStamp struct {
	Date string
	Time int
}

// SourceKey orders source rows by change stamp, then DocEntry. A zero
// DocEntry matches every row changed at Stamp.
type SourceKey struct {
	SourceStamp
	DocEntry int64
}

// Before reports whether k sorts before o.
func (k SourceKey) Before(o SourceKey) bool {
	if k.Date != o.Date {
		return k.Date < o.Date
	}
	if k.Time != o.Time {
		return k.Time < o.Time
	}
	return k.DocEntry < o.DocEntry
}

// SourceOrder is one purchase-order header read from the ERP database.
// Column names match the field names.
type SourceOrder struct {
	DocEntry    int64
	DocNum      *int64
	Series      *int
	DocDate     *time.Time
	DocDueDate  *time.Time
	CardCode    string
	CardName    string
	DocCurrency string
	DocTotal    decimal.NullDecimal
	Comments    string
	DocStatus   string
	Canceled    int
	CreateDate  *time.Time
	CreateTS    int
	UpdateDate  *time.Time
	UpdateTS    int
}

// ChangedAt returns the latest of create and update time, read in loc.
func (o SourceOrder) ChangedAt(loc *time.Location) time.Time {
	created := stampTime(o.CreateDate, o.CreateTS, loc)
	updated := stampTime(o.UpdateDate, o.UpdateTS, loc)
	if updated.After(created) {
		return updated
	}
	return created
}

// Key is the row's position in the change order, in source-local form.
func (o SourceOrder) Key() SourceKey {
	date, ts := o.CreateDate, o.CreateTS
	if o.UpdateDate != nil && (date == nil || stampTime(o.UpdateDate, o.UpdateTS, time.UTC).After(stampTime(date, ts, time.UTC))) {
		date, ts = o.UpdateDate, o.UpdateTS
	}
	k := SourceKey{DocEntry: o.DocEntry}
	if date != nil {
		k.Date = date.Format("2006-01-02")
		k.Time = ts
	}
	return k
}

func stampTime(date *time.Time, hhmmss int, loc *time.Location) time.Time {
	if date == nil {
		return time.Time{}
	}
	h, m, s := hhmmss/10000, (hhmmss/100)%100, hhmmss%100
	return time.Date(date.Year(), date.Month(), date.Day(), h, m, s, 0, loc)
}

type SourceOrderLine struct {
	LineNum       int
	ItemCode      string
	WarehouseCode string
	Quantity      decimal.Decimal
	OpenQuantity  decimal.Decimal
	Price         decimal.NullDecimal
	Currency      string
	TaxCode       string
	UoMCode       string
	LineStatus    string
}

// OrderSource reads purchase orders in change order, strictly after a key.
type OrderSource interface {
	ChangedAfter(ctx context.Context, after SourceKey, limit int) ([]SourceOrder, error)
	Lines(ctx context.Context, docEntry int64) ([]SourceOrderLine, error)
}

const changedOrdersSQL = `
SELECT TOP (?)
  P.DocEntry, P.DocNum, P.Series, P.DocDate, P.DocDueDate,
  P.CardCode, C.CardName,
  P.DocCur AS DocCurrency, P.DocTotal, P.Comments,
  P.DocStatus, CASE WHEN P.CANCELED = 'Y' THEN 1 ELSE 0 END AS Canceled,
  P.CreateDate, ISNULL(P.CreateTS, 0) AS CreateTS,
  P.UpdateDate, ISNULL(P.UpdateTS, 0) AS UpdateTS
FROM dbo.OPOR AS P WITH (NOLOCK)
LEFT JOIN dbo.OCRD AS C WITH (NOLOCK) ON C.CardCode = P.CardCode
CROSS APPLY (
  SELECT CASE WHEN P.UpdateDate IS NOT NULL AND (
      P.CreateDate IS NULL OR P.UpdateDate > P.CreateDate
      OR (P.UpdateDate = P.CreateDate AND ISNULL(P.UpdateTS, 0) > ISNULL(P.CreateTS, 0)))
    THEN 1 ELSE 0 END AS Updated
) AS U
CROSS APPLY (
  SELECT CASE WHEN U.Updated = 1 THEN P.UpdateDate ELSE P.CreateDate END AS ChgDate,
    CASE WHEN U.Updated = 1 THEN ISNULL(P.UpdateTS, 0) ELSE ISNULL(P.CreateTS, 0) END AS ChgTS
) AS K
WHERE P.CANCELED = 'N'
  AND (
    K.ChgDate > ?
    OR (K.ChgDate = ? AND K.ChgTS > ?)
    OR (K.ChgDate = ? AND K.ChgTS = ? AND P.DocEntry > ?)
  )
ORDER BY K.ChgDate, K.ChgTS, P.DocEntry`

const orderLinesSQL = `
SELECT LineNum, ItemCode, WhsCode AS WarehouseCode, Quantity,
  OpenQty AS OpenQuantity, Price, Currency, TaxCode, UomCode AS UoMCode, LineStatus
FROM dbo.POR1 WITH (NOLOCK)
WHERE DocEntry = ?
ORDER BY LineNum`

// SQLOrderSource queries the ERP's SQL Server database directly.
type SQLOrderSource struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewSQLOrderSource(db *gorm.DB, timeout time.Duration) *SQLOrderSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SQLOrderSource{db: db, timeout: timeout}
}

func (s *SQLOrderSource) ChangedAfter(ctx context.Context, after SourceKey, limit int) ([]SourceOrder, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []SourceOrder
	err := s.db.WithContext(ctx).Raw(changedOrdersSQL,
		limit,
		after.Date,
		after.Date, after.Time,
		after.Date, after.Time, after.DocEntry,
	).Scan(&rows).Error
	if err != nil {
		return nil, &apperr.TransientError{Op: "source changed orders", Err: err}
	}
	return rows, nil
}

func (s *SQLOrderSource) Lines(ctx context.Context, docEntry int64) ([]SourceOrderLine, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []SourceOrderLine
	if err := s.db.WithContext(ctx).Raw(orderLinesSQL, docEntry).Scan(&rows).Error; err != nil {
		return nil, &apperr.TransientError{Op: "source order lines", Err: err}
	}
	return rows, nil
}
