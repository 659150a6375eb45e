package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stockbridge/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitLogger("test")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(&bytes.Buffer{})
	for _, path := range [][]string{
		{"login"}, {"dispatch"}, {"requeue"}, {"sync", "purchase-orders"},
		{"cursor", "get"}, {"cursor", "reset"}, {"preview"}, {"audits"}, {"submit"}, {"health"},
	} {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func execute(t *testing.T, handler http.HandlerFunc, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	cmd := NewRootCommand(&out)
	cmd.SetArgs(append([]string{"--addr", srv.URL, "--token", "tok"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestDispatchPrintsTable(t *testing.T) {
	out, err := execute(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/integration/dispatch", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"processed":2,"ok":1,"fail":1,"results":[
			{"queue_id":1,"document_id":10,"doc_type":"GOODS_ENTRY","status":"DONE","external_doc_id":321},
			{"queue_id":2,"document_id":11,"doc_type":"TRANSFER","status":"FAILED","error":"erp rejected request"}]}`))
	}, "dispatch", "--limit", "5")

	require.NoError(t, err)
	assert.Contains(t, out, "321")
	assert.Contains(t, out, "erp rejected request")
	assert.Contains(t, out, "1 ok / 1 failed")
}

func TestCursorReset_JSONFormat(t *testing.T) {
	out, err := execute(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		w.Write([]byte(`{"key":"purchase_orders","watermark":"2025-03-01T00:00:00Z","stored":true}`))
	}, "--format", "json", "cursor", "reset", "purchase_orders", "--ts", "2025-03-01T00:00:00Z")

	require.NoError(t, err)
	assert.Contains(t, out, `"stored": true`)
}

func TestRejectsBadInput(t *testing.T) {
	_, err := execute(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s", r.URL.Path)
	}, "requeue", "abc")
	assert.ErrorContains(t, err, "invalid id")

	_, err = execute(t, func(w http.ResponseWriter, r *http.Request) {}, "--format", "xml", "health")
	assert.ErrorContains(t, err, "invalid format")
}

func TestServerErrorsSurface(t *testing.T) {
	_, err := execute(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"job purchase_order_sync is already running"}`))
	}, "sync", "purchase-orders")
	assert.ErrorContains(t, err, "already running")
}
