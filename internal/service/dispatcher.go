package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stockbridge/internal/apperr"
	"stockbridge/internal/erp"
	"stockbridge/internal/metrics"
	"stockbridge/internal/model"
	"stockbridge/internal/repository"
	v1 "stockbridge/pkg/api/v1"
	"stockbridge/pkg/constraints"
	"stockbridge/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	staleSweepLimit = 100
	// defaultStaleAfter guards manual requeues when the sweep is disabled.
	defaultStaleAfter = 15 * time.Minute
)

// ERPPoster sends one payload to an ERP resource.
type ERPPoster interface {
	Post(ctx context.Context, path string, payload any) (*erp.PostResult, error)
}

type DispatcherOptions struct {
	// Owner is written to claimed items. Defaults to a random instance id.
	Owner string
	// StaleAfter marks SENDING items as outcome-unconfirmed. Zero disables
	// the sweep.
	StaleAfter time.Duration
	// ReclaimUnconfirmed puts stale SENDING items back to PENDING. The ERP
	// may already hold the document, so this can create duplicates.
	ReclaimUnconfirmed bool
}

// Dispatcher pushes queued documents to the ERP, one item at a time.
type Dispatcher struct {
	db       *gorm.DB
	queue    repository.QueueInterface
	docs     repository.DocumentInterface
	audits   repository.AuditInterface
	orders   repository.PurchaseOrderInterface
	poster   ERPPoster
	policy   RetryPolicy
	observer metrics.BridgeObserver
	opts     DispatcherOptions
	now      func() time.Time
}

func NewDispatcher(
	db *gorm.DB,
	queue repository.QueueInterface,
	docs repository.DocumentInterface,
	audits repository.AuditInterface,
	orders repository.PurchaseOrderInterface,
	poster ERPPoster,
	policy RetryPolicy,
	observer metrics.BridgeObserver,
	opts DispatcherOptions,
) *Dispatcher {
	if policy == nil {
		policy = TerminalPolicy{}
	}
	if observer == nil {
		observer = metrics.Nop()
	}
	if opts.Owner == "" {
		opts.Owner = "dispatcher-" + uuid.NewString()
	}
	return &Dispatcher{
		db:       db,
		queue:    queue,
		docs:     docs,
		audits:   audits,
		orders:   orders,
		poster:   poster,
		policy:   policy,
		observer: observer,
		opts:     opts,
		now:      time.Now,
	}
}

// DispatchBatch sends up to limit eligible items, oldest first. Per-item
// failures are recorded on the item and never abort the batch; only a
// failure to read the queue is returned.
func (d *Dispatcher) DispatchBatch(ctx context.Context, limit int) (*v1.DispatchResult, error) {
	now := d.now()
	d.sweepUnconfirmed(ctx, now)

	items, err := d.queue.FetchEligible(ctx, d.policy.Eligible(), now, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch eligible queue items: %w", err)
	}

	result := &v1.DispatchResult{Results: make([]v1.DispatchItemResult, 0, len(items))}
	for i := range items {
		item := &items[i]
		claimed, err := d.queue.Claim(ctx, item, d.opts.Owner, d.now())
		if err != nil {
			logger.Error("failed to claim queue item", zap.Int64("queue_id", item.ID), zap.Error(err))
			continue
		}
		if !claimed {
			logger.Debug("queue item taken by another dispatcher", zap.Int64("queue_id", item.ID))
			continue
		}

		res := d.dispatchOne(ctx, item)
		result.Processed++
		if res.Status == string(model.QueueDone) {
			result.OK++
		} else {
			result.Fail++
		}
		result.Results = append(result.Results, res)
	}

	if result.Processed > 0 {
		logger.Info("dispatch batch finished",
			zap.Int("processed", result.Processed),
			zap.Int("ok", result.OK),
			zap.Int("fail", result.Fail),
			zap.String("policy", d.policy.Name()))
	}
	return result, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, item *model.QueueItem) v1.DispatchItemResult {
	res := v1.DispatchItemResult{QueueID: item.ID, DocumentID: item.DocumentID, DocType: item.DocType}

	doc, err := d.docs.GetWithLines(ctx, item.DocumentID)
	if err != nil {
		if !apperr.IsNotFound(err) {
			err = &apperr.TransientError{Op: "load document", Err: err}
		}
		return d.fail(ctx, item, res, erp.Target{}, nil, err)
	}
	if doc.ExternalDocID != nil {
		// already in the ERP under this document, e.g. a duplicate queue row
		if err := d.queue.MarkDone(ctx, item.ID); err != nil {
			logger.Error("failed to close queue item of posted document", zap.Int64("queue_id", item.ID), zap.Error(err))
		}
		res.Status = string(model.QueueDone)
		res.ExternalDocID, res.ExternalDocNum = doc.ExternalDocID, doc.ExternalDocNum
		return res
	}

	target, err := erp.TargetFor(doc.DocType)
	if err != nil {
		return d.fail(ctx, item, res, target, nil, err)
	}
	res.DocType, res.ErpObject = target.DocType, target.Object

	d.resolveVendor(ctx, doc)
	payload, err := target.Build(doc, d.now())
	if err != nil {
		return d.fail(ctx, item, res, target, nil, err)
	}

	posted, err := d.poster.Post(ctx, target.Path, payload)
	if err != nil {
		return d.fail(ctx, item, res, target, payload, err)
	}
	return d.complete(ctx, item, res, target, payload, posted)
}

// complete records a successful post. The document, queue item and audit
// row are written in one transaction.
func (d *Dispatcher) complete(ctx context.Context, item *model.QueueItem, res v1.DispatchItemResult, target erp.Target, payload any, posted *erp.PostResult) v1.DispatchItemResult {
	audit := d.snapshot(ctx, item, target, payload)
	audit.ExternalDocID, audit.ExternalDocNum = posted.DocEntry, posted.DocNum
	if len(posted.Raw) > 0 {
		audit.Response = datatypes.JSON(posted.Raw)
	}

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := d.docs.WithTx(tx).MarkPosted(ctx, item.DocumentID, posted.DocEntry, posted.DocNum); err != nil {
			return err
		}
		if err := d.queue.WithTx(tx).MarkDone(ctx, item.ID); err != nil {
			return err
		}
		return d.audits.WithTx(tx).Create(ctx, audit)
	})
	if err != nil {
		// The ERP holds the document but nothing local says so. The item
		// stays SENDING until the stale sweep reports it.
		logger.Error("erp accepted document but the outcome was not recorded",
			zap.Int64("queue_id", item.ID),
			zap.Int64("document_id", item.DocumentID),
			zap.Int64p("doc_entry", posted.DocEntry),
			zap.Error(err))
		d.observer.RecordDispatch(target.DocType, "unrecorded")
		res.Status = string(model.QueueSending)
		res.ExternalDocID, res.ExternalDocNum = posted.DocEntry, posted.DocNum
		res.Error = apperr.Truncate(err.Error())
		return res
	}

	d.observer.RecordDispatch(target.DocType, "ok")
	logger.Info("document posted to erp",
		zap.Int64("queue_id", item.ID),
		zap.Int64("document_id", item.DocumentID),
		zap.String("object", target.Object),
		zap.Int64p("doc_entry", posted.DocEntry))

	res.Status = string(model.QueueDone)
	res.ExternalDocID, res.ExternalDocNum = posted.DocEntry, posted.DocNum
	return res
}

func (d *Dispatcher) fail(ctx context.Context, item *model.QueueItem, res v1.DispatchItemResult, target erp.Target, payload any, cause error) v1.DispatchItemResult {
	status, next := model.QueueFailed, (*time.Time)(nil)
	if !apperr.IsTerminal(cause) {
		status, next = d.policy.OnFailure(item, cause, d.now())
	}
	msg := apperr.Truncate(cause.Error())

	if err := d.queue.MarkFailed(ctx, item.ID, status, next, msg); err != nil {
		logger.Error("failed to record dispatch failure", zap.Int64("queue_id", item.ID), zap.Error(err))
	}

	audit := d.snapshot(ctx, item, target, payload)
	audit.ErrorMessage = msg
	if err := d.audits.Create(ctx, audit); err != nil {
		logger.Error("failed to write failure audit", zap.Int64("queue_id", item.ID), zap.Error(err))
	}

	d.observer.RecordDispatch(res.DocType, string(status))
	logger.Warn("dispatch failed",
		zap.Int64("queue_id", item.ID),
		zap.Int64("document_id", item.DocumentID),
		zap.Int("attempts", item.Attempts),
		zap.String("next_status", string(status)),
		zap.Error(cause))

	res.Status = string(status)
	res.Error = msg
	return res
}

func (d *Dispatcher) snapshot(ctx context.Context, item *model.QueueItem, target erp.Target, payload any) *model.ErpDocument {
	queueID := item.ID
	audit := &model.ErpDocument{
		QueueItemID: &queueID,
		DocumentID:  item.DocumentID,
		DocType:     firstNonEmpty(target.DocType, item.DocType),
		ErpObject:   target.Object,
		Operator:    GetOperator(ctx),
		TraceID:     firstNonEmpty(GetTraceID(ctx), item.TraceID),
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			audit.Payload = datatypes.JSON(b)
		}
	}
	return audit
}

// resolveVendor fills the vendor of a purchase delivery from the mirrored
// purchase order of its first base-linked line.
func (d *Dispatcher) resolveVendor(ctx context.Context, doc *model.Document) {
	if d.orders == nil || doc.VendorCode != "" {
		return
	}
	if constraints.NormalizeDocType(doc.DocType) != constraints.DocPurchaseDelivery {
		return
	}
	if erp.ParseMeta(doc.Meta).CardCode != "" {
		return
	}
	for _, l := range doc.Lines {
		if !l.HasBase() {
			continue
		}
		po, err := d.orders.GetByExternalID(ctx, *l.BaseDocID)
		if err != nil {
			logger.Warn("vendor lookup failed", zap.Int64("po_doc_entry", *l.BaseDocID), zap.Error(err))
			return
		}
		if po != nil {
			doc.VendorCode = po.VendorCode
		}
		return
	}
}

// sweepUnconfirmed reports SENDING items nobody finished. Their ERP outcome
// is unknown, so by default they wait for an operator.
func (d *Dispatcher) sweepUnconfirmed(ctx context.Context, now time.Time) {
	if d.opts.StaleAfter <= 0 {
		return
	}
	stale, err := d.queue.ListStale(ctx, now.Add(-d.opts.StaleAfter), staleSweepLimit)
	if err != nil {
		logger.Error("failed to list unconfirmed queue items", zap.Error(err))
		return
	}
	d.observer.SetUnconfirmed(len(stale))

	for _, item := range stale {
		if !d.opts.ReclaimUnconfirmed {
			logger.Warn("queue item outcome unconfirmed, check the erp before requeueing",
				zap.Int64("queue_id", item.ID),
				zap.Int64("document_id", item.DocumentID),
				zap.String("locked_by", item.LockedBy),
				zap.Time("since", item.UpdatedAt))
			continue
		}
		if _, err := d.queue.Requeue(ctx, item.ID, now.Add(-d.opts.StaleAfter)); err != nil {
			logger.Error("failed to reclaim unconfirmed queue item", zap.Int64("queue_id", item.ID), zap.Error(err))
			continue
		}
		logger.Warn("reclaimed unconfirmed queue item", zap.Int64("queue_id", item.ID), zap.Int64("document_id", item.DocumentID))
	}
}

// Preview builds the payload a document would be sent with, without
// sending it.
func (d *Dispatcher) Preview(ctx context.Context, documentID int64) (*v1.PayloadPreview, error) {
	doc, err := d.docs.GetWithLines(ctx, documentID)
	if err != nil {
		return nil, err
	}
	target, err := erp.TargetFor(doc.DocType)
	if err != nil {
		return nil, err
	}
	d.resolveVendor(ctx, doc)
	payload, err := target.Build(doc, d.now())
	if err != nil {
		return nil, err
	}
	return &v1.PayloadPreview{
		DocumentID: doc.ID,
		DocType:    target.DocType,
		ErpObject:  target.Object,
		Path:       target.Path,
		Payload:    payload,
	}, nil
}

// Requeue moves a FAILED or unconfirmed SENDING item back to PENDING.
func (d *Dispatcher) Requeue(ctx context.Context, queueID int64) error {
	item, err := d.queue.Get(ctx, queueID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &apperr.NotFoundError{Entity: "queue item", ID: queueID}
	}
	if err != nil {
		return err
	}
	staleAfter := d.opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	ok, err := d.queue.Requeue(ctx, queueID, d.now().Add(-staleAfter))
	if err != nil {
		return err
	}
	if !ok {
		if item.Status == model.QueueSending {
			return apperr.NewValidation(fmt.Sprintf("queue item %d is being sent, SENDING items can be requeued after %s", queueID, staleAfter))
		}
		return apperr.NewValidation(fmt.Sprintf("queue item %d is %s, only FAILED or unconfirmed SENDING items can be requeued", queueID, item.Status))
	}
	logger.Info("queue item requeued",
		zap.Int64("queue_id", queueID),
		zap.String("from", string(item.Status)),
		zap.String("operator", GetOperator(ctx)))
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
