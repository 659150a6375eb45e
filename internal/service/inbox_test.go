package service

import (
	"context"
	"errors"
	"testing"

	"stockbridge/internal/apperr"
	"stockbridge/internal/model"
	"stockbridge/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingOrders counts mirror writes on top of the real repository.
type countingOrders struct {
	repository.PurchaseOrderInterface
	upserts int
}

func (c *countingOrders) Upsert(ctx context.Context, po *model.PurchaseOrder) (bool, error) {
	c.upserts++
	return c.PurchaseOrderInterface.Upsert(ctx, po)
}

func TestInboxRecord_SameKeyReturnsSameRecord(t *testing.T) {
	ctx := context.Background()
	inbox := NewInbox(newFixture(t).inbox, nil)

	first, err := inbox.Record(ctx, EventRecord{Source: "SAP", EventName: "x", IdempotencyKey: "K-1"})
	require.NoError(t, err)
	assert.True(t, first.Inserted)

	second, err := inbox.Record(ctx, EventRecord{Source: "SAP", EventName: "x", IdempotencyKey: "K-1"})
	require.NoError(t, err)
	assert.False(t, second.Inserted)
	assert.Equal(t, first.ID, second.ID)

	_, err = inbox.Record(ctx, EventRecord{})
	assert.ErrorIs(t, err, ErrMissingIdempotencyKey)
}

func TestInboxProcess_FailureIsRecordedAndReturned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inbox := NewInbox(f.inbox, nil)
	rec := EventRecord{Source: "SAP", EventName: "x", IdempotencyKey: "K-2"}

	boom := errors.New("mirror unavailable")
	_, err := inbox.Process(ctx, rec, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	event, err := f.inbox.FindByKey(ctx, "K-2")
	require.NoError(t, err)
	assert.Equal(t, model.InboxFailed, event.Status)
	assert.Equal(t, "mirror unavailable", event.ErrorMessage)
	assert.NotNil(t, event.ProcessedAt)

	// a failed event is applied again on redelivery
	applied := 0
	skipped, err := inbox.Process(ctx, rec, func(context.Context) error { applied++; return nil })
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Equal(t, 1, applied)

	event, err = f.inbox.FindByKey(ctx, "K-2")
	require.NoError(t, err)
	assert.Equal(t, model.InboxDone, event.Status)
	assert.Empty(t, event.ErrorMessage)
}

func TestPOEventRouter_CancellationAppliedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	orders := &countingOrders{PurchaseOrderInterface: f.orders}
	router := NewPOEventRouter(NewInbox(f.inbox, nil), orders)

	value := []byte(`{"event":"PurchaseOrder.Cancelled","objType":22,"docEntry":500,"docNum":"1045","source":"SAP","supplier":{"code":"V1","name":"Acme"}}`)
	require.NoError(t, router.Handle(ctx, Message{Topic: "sap.purchaseorder.cancelled", Offset: 1, Value: value}))
	require.NoError(t, router.Handle(ctx, Message{Topic: "sap.purchaseorder.cancelled", Offset: 2, Value: value}))

	assert.Equal(t, 1, orders.upserts, "one cancellation side effect")

	event, err := f.inbox.FindByKey(ctx, "PO-CANCELLED-500")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, model.InboxDone, event.Status)
	assert.Contains(t, event.Payload, `"offset":1`)

	po, err := f.orders.GetByExternalID(ctx, 500)
	require.NoError(t, err)
	require.NotNil(t, po)
	assert.True(t, po.Cancelled)
	assert.Equal(t, "C", po.DocStatus)
	assert.Equal(t, "V1", po.VendorCode)
	assert.Equal(t, int64(1045), *po.DocNum)
}

func TestPOEventRouter_CancellationClosesMirroredLines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.orders.Upsert(ctx, &model.PurchaseOrder{
		ExternalDocID: 77, DocStatus: "O",
		Lines: []model.PurchaseOrderLine{{LineNum: 0, ItemSku: "A"}, {LineNum: 1, ItemSku: "B"}},
	})
	require.NoError(t, err)

	router := NewPOEventRouter(NewInbox(f.inbox, nil), f.orders)
	require.NoError(t, router.Handle(ctx, Message{Value: []byte(`{"event":"sap.PurchaseOrder.cancelled","objType":"22","docEntry":"77"}`)}))

	po, err := f.orders.GetByExternalID(ctx, 77)
	require.NoError(t, err)
	require.Len(t, po.Lines, 2)
	for _, l := range po.Lines {
		assert.Equal(t, "C", l.LineStatus)
	}
}

func TestPOEventRouter_UnparseableAndUnhandled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	orders := &countingOrders{PurchaseOrderInterface: f.orders}
	router := NewPOEventRouter(NewInbox(f.inbox, nil), orders)

	require.NoError(t, router.Handle(ctx, Message{Topic: "t", Partition: 3, Offset: 9, Value: []byte("{not json")}))
	event, err := f.inbox.FindByKey(ctx, "UNPARSEABLE-t-3-9")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "UNPARSEABLE", event.EventName)

	require.NoError(t, router.Handle(ctx, Message{Topic: "t", Partition: 3, Offset: 10, Value: []byte(`{"event":"PurchaseOrder.Updated","objType":22,"docEntry":5}`)}))
	event, err = f.inbox.FindByKey(ctx, "UNHANDLED-t-3-10")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "PurchaseOrder.Updated", event.EventName)

	// cancellation of another object type is not a purchase order event
	require.NoError(t, router.Handle(ctx, Message{Topic: "t", Partition: 3, Offset: 11, Value: []byte(`{"event":"PurchaseOrder.Cancelled","objType":17,"docEntry":5}`)}))
	assert.Equal(t, 0, orders.upserts)
}

func TestPOEventRouter_InvalidDocEntryFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	router := NewPOEventRouter(NewInbox(f.inbox, nil), f.orders)

	err := router.Handle(ctx, Message{Value: []byte(`{"event":"PurchaseOrder.Cancelled","objType":22,"idempotencyKey":"evt-1","docEntry":"abc"}`)})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	event, err := f.inbox.FindByKey(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, model.InboxFailed, event.Status)
}

func TestIsCancelledEvent(t *testing.T) {
	assert.True(t, IsCancelledEvent("PurchaseOrder.Cancelled"))
	assert.True(t, IsCancelledEvent("sap.purchaseorder.CANCELLED"))
	assert.False(t, IsCancelledEvent("PurchaseOrder.Cancelled.v2"))
	assert.False(t, IsCancelledEvent(""))
}
