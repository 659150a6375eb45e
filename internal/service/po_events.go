package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"stockbridge/internal/apperr"
	"stockbridge/internal/model"
	"stockbridge/internal/repository"
	"stockbridge/pkg/constraints"
	"stockbridge/pkg/logger"

	"go.uber.org/zap"
)

const EventPurchaseOrderCancelled = "PurchaseOrder.Cancelled"

var cancelledEventPattern = regexp.MustCompile(`(?i)purchaseorder\.cancelled$`)

// Message is one delivery from the event transport.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

// envelope is what the inbox keeps as payload.
type envelope struct {
	Key       string            `json:"key"`
	Value     string            `json:"value"`
	Headers   map[string]string `json:"headers,omitempty"`
	Topic     string            `json:"topic"`
	Partition int               `json:"partition"`
	Offset    int64             `json:"offset"`
}

type poSupplier struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type poEvent struct {
	Event          string      `json:"event"`
	Source         string      `json:"source"`
	IdempotencyKey string      `json:"idempotencyKey"`
	ObjType        flexID      `json:"objType"`
	DocEntry       flexID      `json:"docEntry"`
	DocNum         flexID      `json:"docNum"`
	Series         flexID      `json:"series"`
	Supplier       *poSupplier `json:"supplier"`
	CardCode       string      `json:"CardCode"`
	CardName       string      `json:"CardName"`
	DocDate        string      `json:"docDate"`
}

// flexID accepts a JSON number or a numeric string.
type flexID struct{ text string }

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		f.text = ""
		return nil
	}
	f.text = strings.Trim(s, `"`)
	return nil
}

func (f flexID) String() string { return f.text }

func (f flexID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(f.text, 10, 64)
	return n, err == nil
}

func (f flexID) ptr64() *int64 {
	if n, ok := f.Int64(); ok {
		return &n
	}
	return nil
}

func (f flexID) ptr() *int {
	if n, ok := f.Int64(); ok {
		v := int(n)
		return &v
	}
	return nil
}

// IsCancelledEvent matches the cancellation event names the ERP emits.
func IsCancelledEvent(name string) bool {
	return name == EventPurchaseOrderCancelled || cancelledEventPattern.MatchString(name)
}

// POEventRouter turns purchase-order events into mirror updates through
// the inbox.
type POEventRouter struct {
	inbox  *Inbox
	orders repository.PurchaseOrderInterface
}

func NewPOEventRouter(inbox *Inbox, orders repository.PurchaseOrderInterface) *POEventRouter {
	return &POEventRouter{inbox: inbox, orders: orders}
}

// Handle routes one message. Unparseable and unhandled messages are only
// recorded. The returned error asks the transport to redeliver.
func (r *POEventRouter) Handle(ctx context.Context, msg Message) error {
	payload := msg.envelope()

	var evt poEvent
	value := bytes.TrimSpace(msg.Value)
	if len(value) == 0 || bytes.Equal(value, []byte("null")) || json.Unmarshal(value, &evt) != nil {
		logger.Warn("unparseable purchase order event", zap.String("topic", msg.Topic), zap.Int64("offset", msg.Offset))
		_, err := r.inbox.Record(ctx, EventRecord{
			Source:         "UNKNOWN",
			EventName:      "UNPARSEABLE",
			IdempotencyKey: fmt.Sprintf("UNPARSEABLE-%s-%d-%d", msg.Topic, msg.Partition, msg.Offset),
			Payload:        string(msg.Value),
		})
		return err
	}

	if IsCancelledEvent(evt.Event) && evt.ObjType.String() == strconv.Itoa(constraints.ObjTypePurchaseOrder) {
		return r.cancelled(ctx, evt, payload)
	}

	_, err := r.inbox.Record(ctx, EventRecord{
		Source:         evt.Source,
		EventName:      evt.Event,
		IdempotencyKey: firstNonEmpty(evt.IdempotencyKey, fmt.Sprintf("UNHANDLED-%s-%d-%d", msg.Topic, msg.Partition, msg.Offset)),
		Payload:        payload,
	})
	return err
}

func (r *POEventRouter) cancelled(ctx context.Context, evt poEvent, payload string) error {
	rec := EventRecord{
		Source:         evt.Source,
		EventName:      evt.Event,
		IdempotencyKey: firstNonEmpty(evt.IdempotencyKey, "PO-CANCELLED-"+evt.DocEntry.String()),
		Payload:        payload,
	}
	skipped, err := r.inbox.Process(ctx, rec, func(ctx context.Context) error {
		po, err := cancelledOrder(evt)
		if err != nil {
			return err
		}
		_, err = r.orders.Upsert(ctx, po)
		return err
	})
	if err != nil {
		return err
	}
	if !skipped {
		logger.Info("purchase order cancelled by event", zap.String("doc_entry", evt.DocEntry.String()), zap.String("key", rec.IdempotencyKey))
	}
	return nil
}

// cancelledOrder builds a header-only update. Without lines the mirror
// closes the stored lines itself.
func cancelledOrder(evt poEvent) (*model.PurchaseOrder, error) {
	docEntry, ok := evt.DocEntry.Int64()
	if !ok || docEntry <= 0 {
		return nil, apperr.NewValidation(fmt.Sprintf("invalid docEntry in event: %q", evt.DocEntry.String()))
	}
	po := &model.PurchaseOrder{
		ExternalDocID: docEntry,
		DocNum:        evt.DocNum.ptr64(),
		Series:        evt.Series.ptr(),
		VendorCode:    evt.CardCode,
		VendorName:    evt.CardName,
		DocStatus:     "C",
		Cancelled:     true,
		Comments:      "Cancelled by event",
	}
	if evt.Supplier != nil {
		po.VendorCode = firstNonEmpty(evt.Supplier.Code, po.VendorCode)
		po.VendorName = firstNonEmpty(evt.Supplier.Name, po.VendorName)
	}
	if t, err := parsePostingDate(evt.DocDate); err == nil {
		po.DocDate = &t
	}
	return po, nil
}

func (m Message) envelope() string {
	b, _ := json.Marshal(envelope{
		Key:       string(m.Key),
		Value:     string(m.Value),
		Headers:   m.Headers,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
	})
	return string(b)
}
