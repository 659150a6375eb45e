package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	v1 "stockbridge/pkg/api/v1"
	"stockbridge/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitLogger("test")
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *BridgeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewBridgeClient(srv.URL+"/", opts...)
	c.backoff = time.Millisecond
	return c
}

func TestCreateDocument_SendsAPIKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/documents", r.URL.Path)
		assert.Equal(t, "k-1", r.Header.Get(apiKeyHeader))
		assert.Empty(t, r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "EM", body["docType"])
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"document_id":3,"queue_id":4,"doc_type":"GOODS_ENTRY"}`))
	}, WithAPIKey("k-1"))

	out, err := c.CreateDocument(context.Background(), map[string]any{"docType": "EM"})
	require.NoError(t, err)
	assert.Equal(t, &v1.DocumentCreated{DocumentID: 3, QueueID: 4, DocType: "GOODS_ENTRY"}, out)
}

func TestDispatch_BusyAndValidationErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"job already running"}`))
	}, WithToken("tok"))

	_, err := c.Dispatch(context.Background(), 10)
	require.Error(t, err)
	assert.True(t, IsBusy(err))
	assert.Equal(t, int32(1), calls.Load(), "writes are never retried")
}

func TestAPIError_CarriesProblems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"validation failed","problems":["ts must be RFC3339"]}`))
	})

	_, err := c.ResetCursor(context.Background(), "purchase_orders", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, []string{"ts must be RFC3339"}, apiErr.Problems)
	assert.Contains(t, err.Error(), "422 validation failed")
}

func TestReads_RetryGatewayFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"key":"purchase_orders","watermark":"2025-03-10T12:00:00Z","stored":true}`))
	})

	cur, err := c.Cursor(context.Background(), "purchase_orders")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, cur.Stored)
	assert.True(t, cur.Watermark.Equal(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)))
}

func TestResetCursor_SendsUTC(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2025-03-01T03:00:00Z", body["ts"])
		w.Write([]byte(`{"key":"purchase_orders","watermark":"2025-03-01T03:00:00Z","stored":true}`))
	})

	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.FixedZone("-03", -3*3600))
	_, err := c.ResetCursor(context.Background(), "purchase_orders", &ts)
	require.NoError(t, err)
}

func TestLogin_KeepsAccessToken(t *testing.T) {
	var sawToken atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/login":
			w.Write([]byte(`{"access_token":"a1","refresh_token":"r1","expires_in":900}`))
		case "/v1/documents/5/audits":
			sawToken.Store(r.Header.Get("Authorization") == "Bearer a1")
			w.Write([]byte(`{"items":[{"id":1,"document_id":5,"operator":"ana"}]}`))
		}
	})

	_, err := c.Login(context.Background(), "ana", "pw")
	require.NoError(t, err)
	audits, err := c.Audits(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, sawToken.Load())
	require.Len(t, audits, 1)
	assert.Equal(t, "ana", audits[0].Operator)
}

func TestHealth_DownStillReportsChecks(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"down","checks":{"database":"connection refused"}}`))
	})

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "down", h.Status)
	assert.Equal(t, "connection refused", h.Checks["database"])
}
