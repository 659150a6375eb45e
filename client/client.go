package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	v1 "stockbridge/pkg/api/v1"
	"stockbridge/pkg/logger"

	"go.uber.org/zap"
)

const (
	apiKeyHeader = "X-Bridge-Key"
	maxReadTries = 3
)

// APIError is a non-2xx answer from the bridge.
type APIError struct {
	Status   int
	Message  string
	Problems []string
}

func (e *APIError) Error() string {
	if len(e.Problems) > 0 {
		return fmt.Sprintf("bridge: %d %s: %s", e.Status, e.Message, strings.Join(e.Problems, "; "))
	}
	return fmt.Sprintf("bridge: %d %s", e.Status, e.Message)
}

// IsBusy reports whether the bridge refused a run because one was active.
func IsBusy(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// BridgeClient talks to the bridge HTTP API. Intake calls use the client
// API key; operator calls use the bearer token.
type BridgeClient struct {
	addr       string
	apiKey     string
	token      string
	httpClient *http.Client
	backoff    time.Duration
}

type Option func(*BridgeClient)

func WithAPIKey(key string) Option { return func(c *BridgeClient) { c.apiKey = key } }

func WithToken(token string) Option { return func(c *BridgeClient) { c.token = token } }

func WithHTTPClient(hc *http.Client) Option { return func(c *BridgeClient) { c.httpClient = hc } }

func NewBridgeClient(addr string, opts ...Option) *BridgeClient {
	c := &BridgeClient{
		addr:       strings.TrimRight(addr, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		backoff:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken swaps the bearer token, e.g. after Login.
func (c *BridgeClient) SetToken(token string) { c.token = token }

func (c *BridgeClient) Login(ctx context.Context, username, password string) (*v1.TokenPair, error) {
	var out v1.TokenPair
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login", body, &out); err != nil {
		return nil, err
	}
	c.token = out.AccessToken
	return &out, nil
}

// CreateDocument submits a raw ledger document for intake.
func (c *BridgeClient) CreateDocument(ctx context.Context, doc any) (*v1.DocumentCreated, error) {
	var out v1.DocumentCreated
	if err := c.do(ctx, http.MethodPost, "/v1/documents", doc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BridgeClient) Dispatch(ctx context.Context, limit int) (*v1.DispatchResult, error) {
	path := "/v1/integration/dispatch"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out v1.DispatchResult
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BridgeClient) Requeue(ctx context.Context, queueID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/integration/queue/%d/requeue", queueID), nil, nil)
}

func (c *BridgeClient) SyncPurchaseOrders(ctx context.Context) (*v1.SyncResult, error) {
	var out v1.SyncResult
	if err := c.do(ctx, http.MethodPost, "/v1/integration/sync/purchase-orders", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BridgeClient) Cursor(ctx context.Context, key string) (*v1.Cursor, error) {
	var out v1.Cursor
	if err := c.do(ctx, http.MethodGet, "/v1/integration/cursors/"+url.PathEscape(key), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetCursor moves the cursor to ts, or drops it when ts is nil.
func (c *BridgeClient) ResetCursor(ctx context.Context, key string, ts *time.Time) (*v1.Cursor, error) {
	body := map[string]string{}
	if ts != nil {
		body["ts"] = ts.UTC().Format(time.RFC3339Nano)
	}
	var out v1.Cursor
	if err := c.do(ctx, http.MethodPut, "/v1/integration/cursors/"+url.PathEscape(key), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BridgeClient) Preview(ctx context.Context, documentID int64) (*v1.PayloadPreview, error) {
	var out v1.PayloadPreview
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/documents/%d/payload", documentID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BridgeClient) Audits(ctx context.Context, documentID int64) ([]v1.Audit, error) {
	var out struct {
		Items []v1.Audit `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/documents/%d/audits", documentID), nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *BridgeClient) Health(ctx context.Context) (*v1.Health, error) {
	var out v1.Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	var apiErr *APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable && out.Status != "") {
		return nil, err
	}
	return &out, nil
}

// do sends one request. Reads are retried on network errors and gateway
// failures with jittered backoff; writes are sent once.
func (c *BridgeClient) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	tries := 1
	if method == http.MethodGet {
		tries = maxReadTries
	}
	backoff := c.backoff

	var lastErr error
	for attempt := 1; attempt <= tries; attempt++ {
		retry, err := c.once(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == tries {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(backoff/2) + 1))
		logger.Warn("bridge request failed, retrying", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
		backoff *= 2
	}
	return lastErr
}

func (c *BridgeClient) once(ctx context.Context, method, path string, payload []byte, out any) (bool, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, body)
	if err != nil {
		return false, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, err
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var e struct {
			Error    string   `json:"error"`
			Problems []string `json:"problems"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			apiErr.Message, apiErr.Problems = e.Error, e.Problems
		}
		// health reports its checks alongside a 503
		if out != nil && resp.StatusCode == http.StatusServiceUnavailable {
			_ = json.Unmarshal(raw, out)
		}
		retry := resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusGatewayTimeout
		return retry, apiErr
	}

	if out == nil || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s response: %w", path, err)
	}
	return false, nil
}
