package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stockbridge/internal/apperr"
	"stockbridge/internal/model"
	"stockbridge/internal/repository"
	"stockbridge/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const CursorPurchaseOrders = "purchase_orders"

// legacyStampLayout is a wall-clock time without zone, as written by the
// ERP side.
const legacyStampLayout = "2006-01-02T15:04:05.999999999"

type cursorValue struct {
	TS       string `json:"ts"`
	AfterDoc int64  `json:"after_doc,omitempty"`
}

// CursorPosition is a stored watermark. A non-zero AfterDoc marks a sync
// that stopped inside a saturated window: rows changed at TS up to and
// including AfterDoc are already applied.
type CursorPosition struct {
	TS       time.Time
	AfterDoc int64
}

// After reports whether p is further along than q. At equal TS a drained
// position is ahead of any resume position.
func (p CursorPosition) After(q CursorPosition) bool {
	if !p.TS.Equal(q.TS) {
		return p.TS.After(q.TS)
	}
	if q.AfterDoc == 0 {
		return false
	}
	return p.AfterDoc == 0 || p.AfterDoc > q.AfterDoc
}

// SourceClock converts between UTC and the ERP database's local time.
type SourceClock struct {
	loc      *time.Location
	degraded bool
}

// NewSourceClock prefers a fixed offset, then a named zone. A zone that
// cannot be loaded falls back to UTC and is reported as degraded.
func NewSourceClock(zone string, offsetMinutes *int) *SourceClock {
	if offsetMinutes != nil {
		name := fmt.Sprintf("UTC%+03d:%02d", *offsetMinutes/60, abs(*offsetMinutes%60))
		return &SourceClock{loc: time.FixedZone(name, *offsetMinutes*60)}
	}
	if zone == "" || strings.EqualFold(zone, "UTC") {
		return &SourceClock{loc: time.UTC}
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		logger.Error("source timezone unavailable, falling back to UTC", zap.String("zone", zone), zap.Error(err))
		return &SourceClock{loc: time.UTC, degraded: true}
	}
	return &SourceClock{loc: loc}
}

func (c *SourceClock) Location() *time.Location { return c.loc }

// Degraded reports that source times are read as UTC because the
// configured zone was missing.
func (c *SourceClock) Degraded() bool { return c.degraded }

// Stamp renders t in source-local date and HHMMSS form.
func (c *SourceClock) Stamp(t time.Time) repository.SourceStamp {
	local := t.In(c.loc)
	return repository.SourceStamp{
		Date: local.Format("2006-01-02"),
		Time: local.Hour()*10000 + local.Minute()*100 + local.Second(),
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// CursorStore persists per-entity watermarks. Values are written in UTC
// and never move backwards except through Reset.
type CursorStore struct {
	repo     repository.CursorInterface
	clock    *SourceClock
	lookback time.Duration
	now      func() time.Time
}

func NewCursorStore(repo repository.CursorInterface, clock *SourceClock, lookback time.Duration) *CursorStore {
	if clock == nil {
		clock = &SourceClock{loc: time.UTC}
	}
	return &CursorStore{repo: repo, clock: clock, lookback: lookback, now: time.Now}
}

// Get returns the watermark for key. Without a stored cursor it returns
// midnight UTC of now minus the lookback window and stored=false.
func (s *CursorStore) Get(ctx context.Context, key string) (time.Time, bool, error) {
	pos, stored, err := s.Position(ctx, key)
	return pos.TS, stored, err
}

// Position is Get including the resume marker.
func (s *CursorStore) Position(ctx context.Context, key string) (CursorPosition, bool, error) {
	c, err := s.repo.Get(ctx, key)
	if err != nil {
		return CursorPosition{}, false, fmt.Errorf("read cursor %s: %w", key, err)
	}
	if c == nil {
		return CursorPosition{TS: s.defaultWatermark()}, false, nil
	}
	pos, err := s.decode(c.Value)
	if err != nil {
		logger.Warn("unreadable cursor, using lookback default", zap.String("key", key), zap.Error(err))
		return CursorPosition{TS: s.defaultWatermark()}, false, nil
	}
	return pos, true, nil
}

// Set advances key to ts. An older ts leaves the stored value untouched.
func (s *CursorStore) Set(ctx context.Context, key string, ts time.Time) error {
	_, err := s.Advance(ctx, key, CursorPosition{TS: ts})
	return err
}

// Advance stores pos if it is after the stored position and reports
// whether it did.
func (s *CursorStore) Advance(ctx context.Context, key string, pos CursorPosition) (bool, error) {
	moved := false
	err := s.repo.Transaction(ctx, func(tx repository.CursorInterface) error {
		current, err := tx.Get(ctx, key)
		if err != nil {
			return err
		}
		if current != nil {
			if prev, err := s.decode(current.Value); err == nil && !pos.After(prev) {
				return nil
			}
		}
		moved = true
		return tx.Save(ctx, s.encode(key, pos))
	})
	return moved, err
}

// Reset overwrites key with ts, or deletes it when ts is nil.
func (s *CursorStore) Reset(ctx context.Context, key string, ts *time.Time) error {
	if key == "" {
		return apperr.NewValidation("cursor key is required")
	}
	if ts == nil {
		logger.Warn("cursor deleted", zap.String("key", key), zap.String("operator", GetOperator(ctx)))
		return s.repo.Delete(ctx, key)
	}
	logger.Warn("cursor reset", zap.String("key", key), zap.Time("ts", ts.UTC()), zap.String("operator", GetOperator(ctx)))
	return s.repo.Save(ctx, s.encode(key, CursorPosition{TS: *ts}))
}

func (s *CursorStore) defaultWatermark() time.Time {
	from := s.now().Add(-s.lookback).UTC()
	return time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *CursorStore) encode(key string, pos CursorPosition) *model.SyncCursor {
	b, _ := json.Marshal(cursorValue{TS: pos.TS.UTC().Format(time.RFC3339Nano), AfterDoc: pos.AfterDoc})
	return &model.SyncCursor{Key: key, Value: datatypes.JSON(b), UpdatedAt: s.now()}
}

// decode reads a stored value. A ts without zone designator is source
// local time.
func (s *CursorStore) decode(raw []byte) (CursorPosition, error) {
	var v cursorValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return CursorPosition{}, err
	}
	if v.TS == "" {
		return CursorPosition{}, fmt.Errorf("cursor value without ts")
	}
	if t, err := time.Parse(time.RFC3339Nano, v.TS); err == nil {
		return CursorPosition{TS: t.UTC(), AfterDoc: v.AfterDoc}, nil
	}
	t, err := time.ParseInLocation(legacyStampLayout, strings.Replace(v.TS, " ", "T", 1), s.clock.Location())
	if err != nil {
		return CursorPosition{}, fmt.Errorf("parse cursor ts %q: %w", v.TS, err)
	}
	return CursorPosition{TS: t.UTC(), AfterDoc: v.AfterDoc}, nil
}
