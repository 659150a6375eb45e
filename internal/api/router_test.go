package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stockbridge/internal/apperr"
	"stockbridge/internal/middleware"
	"stockbridge/internal/scheduler"
	"stockbridge/pkg/logger"
	v1 "stockbridge/pkg/api/v1"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitLogger("test")
	gin.SetMode(gin.TestMode)
}

type keys map[string]string

func (k keys) ValidateAPIKey(ctx context.Context, apiKey string) (string, bool, error) {
	app, ok := k[apiKey]
	return app, ok, nil
}

type fakeDocs struct {
	raw      map[string]any
	err      error
}

func (f *fakeDocs) Create(ctx context.Context, raw map[string]any) (*v1.DocumentCreated, error) {
	f.raw = raw
	if f.err != nil {
		return nil, f.err
	}
	return &v1.DocumentCreated{DocumentID: 7, QueueID: 9, DocType: "GOODS_ENTRY"}, nil
}

func (f *fakeDocs) Audits(ctx context.Context, documentID int64) ([]v1.Audit, error) {
	return []v1.Audit{{ID: 1, DocumentID: documentID, Operator: "system"}}, nil
}

type fakeIntegration struct {
	limit     int
	dispatchE error
	requeueE  error
	resetKey  string
	resetTS   *time.Time
	resetE    error
}

func (f *fakeIntegration) Dispatch(ctx context.Context, limit int) (*v1.DispatchResult, error) {
	f.limit = limit
	if f.dispatchE != nil {
		return nil, f.dispatchE
	}
	return &v1.DispatchResult{Processed: 1, OK: 1, Results: []v1.DispatchItemResult{{QueueID: 1, Status: "DONE"}}}, nil
}

func (f *fakeIntegration) Requeue(ctx context.Context, queueID int64) error { return f.requeueE }

func (f *fakeIntegration) SyncPurchaseOrders(ctx context.Context) (*v1.SyncResult, error) {
	return &v1.SyncResult{Entity: "purchase_orders", Fetched: 2, Upserted: 2}, nil
}

func (f *fakeIntegration) Cursor(ctx context.Context, key string) (*v1.Cursor, error) {
	c := &v1.Cursor{Key: key}
	if f.resetTS != nil {
		c.Watermark, c.Stored = *f.resetTS, true
	}
	return c, nil
}

func (f *fakeIntegration) ResetCursor(ctx context.Context, key string, ts *time.Time) error {
	f.resetKey, f.resetTS = key, ts
	return f.resetE
}

func (f *fakeIntegration) Preview(ctx context.Context, documentID int64) (*v1.PayloadPreview, error) {
	if documentID == 404 {
		return nil, &apperr.NotFoundError{Entity: "document", ID: documentID}
	}
	return &v1.PayloadPreview{DocumentID: documentID, Path: "/InventoryGenEntries", Payload: map[string]any{"DocDate": "2025-01-01"}}, nil
}

type harness struct {
	engine *gin.Engine
	docs   *fakeDocs
	integ  *fakeIntegration
}

func newHarness(t *testing.T, healthErr error) *harness {
	t.Helper()
	h := &harness{docs: &fakeDocs{}, integ: &fakeIntegration{}}
	h.engine = RegisterRoutes(Handlers{
		Documents:   NewDocumentHandler(h.docs, h.integ),
		Integration: NewIntegrationHandler(h.integ),
		Health: NewHealthHandler(map[string]HealthCheck{
			"database": func(ctx context.Context) error { return healthErr },
		}),
	}, RouterOptions{
		ClientKeys:        keys{"ledger-key": "ledger"},
		JWTSecret:         []byte("test"),
		RequestsPerSecond: 1000,
		Env:               "dev",
		DevPass:           true,
	})
	return h
}

func (h *harness) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, r)
	return w
}

var (
	ledger = []string{middleware.APIKeyHeader, "ledger-key"}
	dev    = []string{"X-Dev-Pass", "true"}
)

func TestCreateDocument(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodPost, "/v1/documents", `{"docType":"EM","lines":[{"itemSku":"A","quantity":1.10}]}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/v1/documents", `{"docType":"EM","lines":[{"itemSku":"A","quantity":1.10}]}`, ledger...)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"document_id":7,"queue_id":9,"doc_type":"GOODS_ENTRY"}`, w.Body.String())

	line := h.docs.raw["lines"].([]any)[0].(map[string]any)
	assert.Equal(t, json.Number("1.10"), line["quantity"], "quantities keep their literal form")

	w = h.do(http.MethodPost, "/v1/documents", `[1,2]`, ledger...)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(http.MethodPost, "/v1/documents", `null`, ledger...)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateDocument_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"validation", apperr.NewValidation("lines: required"), http.StatusUnprocessableEntity, `{"error":"validation failed","problems":["lines: required"]}`},
		{"unsupported", &apperr.UnsupportedDocTypeError{DocType: "XX"}, http.StatusUnprocessableEntity, ""},
		{"internal", errors.New("db down"), http.StatusInternalServerError, `{"error":"db down"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.docs.err = tc.err
			w := h.do(http.MethodPost, "/v1/documents", `{"docType":"XX"}`, ledger...)
			assert.Equal(t, tc.status, w.Code)
			if tc.body != "" {
				assert.JSONEq(t, tc.body, w.Body.String())
			}
		})
	}
}

func TestDocumentReads(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/documents/5/payload", "", ledger...).Code,
		"client keys do not open operator routes")

	w := h.do(http.MethodGet, "/v1/documents/5/payload", "", dev...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"path":"/InventoryGenEntries"`)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/documents/404/payload", "", dev...).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/documents/abc/payload", "", dev...).Code)

	w = h.do(http.MethodGet, "/v1/documents/5/audits", "", dev...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"document_id":5`)
}

func TestDispatch(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodPost, "/v1/integration/dispatch?limit=25", "", dev...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 25, h.integ.limit)
	assert.Contains(t, w.Body.String(), `"processed":1`)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/v1/integration/dispatch?limit=zero", "", dev...).Code)

	h.integ.dispatchE = scheduler.ErrBusy
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/v1/integration/dispatch", "", dev...).Code)
}

func TestRequeue(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodPost, "/v1/integration/queue/12/requeue", "", dev...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":12,"status":"PENDING"}`, w.Body.String())

	h.integ.requeueE = &apperr.NotFoundError{Entity: "queue item", ID: 12}
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/v1/integration/queue/12/requeue", "", dev...).Code)

	h.integ.requeueE = apperr.NewValidation("queue item 12 is DONE")
	assert.Equal(t, http.StatusUnprocessableEntity, h.do(http.MethodPost, "/v1/integration/queue/12/requeue", "", dev...).Code)
}

func TestCursorEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodPut, "/v1/integration/cursors/purchase_orders", `{"ts":"2025-03-01T00:00:00Z"}`, dev...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "purchase_orders", h.integ.resetKey)
	require.NotNil(t, h.integ.resetTS)
	assert.True(t, h.integ.resetTS.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Contains(t, w.Body.String(), `"stored":true`)

	w = h.do(http.MethodPut, "/v1/integration/cursors/purchase_orders", "", dev...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, h.integ.resetTS, "an empty body drops the cursor")

	w = h.do(http.MethodPut, "/v1/integration/cursors/purchase_orders", `{"ts":"yesterday"}`, dev...)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	h.integ.resetE = scheduler.ErrBusy
	w = h.do(http.MethodPut, "/v1/integration/cursors/purchase_orders", `{}`, dev...)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(http.MethodGet, "/v1/integration/cursors/purchase_orders", "", dev...)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	w := newHarness(t, nil).do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"up","checks":{"database":"ok"}}`, w.Body.String())

	w = newHarness(t, errors.New("connection refused")).do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"down"`)
}
