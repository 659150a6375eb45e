package erp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"stockbridge/internal/apperr"
	"stockbridge/pkg/constraints"
	"stockbridge/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Credentials are sent on every login.
type Credentials struct {
	CompanyDB string `json:"CompanyDB"`
	UserName  string `json:"UserName"`
	Password  string `json:"Password"`
}

// Session is an authenticated ERP session carried as a cookie header.
type Session struct {
	Cookie     string
	AcquiredAt time.Time
}

// PostResult is the part of an ERP create response the bridge keeps.
type PostResult struct {
	DocEntry *int64
	DocNum   *int64
	Raw      json.RawMessage
}

// Transport performs the raw ERP calls. SessionManager layers session
// caching and re-login on top of it.
type Transport interface {
	Login(ctx context.Context, creds Credentials) (*Session, error)
	Logout(ctx context.Context, s *Session) error
	Post(ctx context.Context, s *Session, path string, body []byte) (*PostResult, error)
}

// Error is a non-2xx ERP response that is neither a session problem nor a
// server fault, typically a business rejection.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("erp rejected request (status %d, code %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("erp rejected request (status %d): %s", e.Status, e.Message)
}

type HTTPConfig struct {
	BaseURL            string
	Timeout            time.Duration
	InsecureSkipVerify bool
	RequestsPerSecond  float64
	LogPayloads        bool
}

type HTTPTransport struct {
	baseURL     string
	client      *http.Client
	limiter     *rate.Limiter
	logPayloads bool
}

func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		// Service Layer installs commonly ship self-signed certificates
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	t := &HTTPTransport{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		client:      &http.Client{Timeout: cfg.Timeout, Transport: tr},
		logPayloads: cfg.LogPayloads,
	}
	if cfg.RequestsPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return t
}

func (t *HTTPTransport) Login(ctx context.Context, creds Credentials) (*Session, error) {
	body, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}
	resp, raw, err := t.do(ctx, constraints.PathLogin, body, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, classify(constraints.PathLogin, resp.StatusCode, raw)
	}

	var parts []string
	for _, c := range resp.Cookies() {
		parts = append(parts, c.Name+"="+c.Value)
	}
	if len(parts) == 0 {
		return nil, &apperr.TransientError{Op: "erp login", Err: fmt.Errorf("no session cookie in response")}
	}
	return &Session{Cookie: strings.Join(parts, "; "), AcquiredAt: time.Now()}, nil
}

func (t *HTTPTransport) Logout(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	resp, raw, err := t.do(ctx, constraints.PathLogout, []byte("{}"), s.Cookie)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return classify(constraints.PathLogout, resp.StatusCode, raw)
	}
	return nil
}

func (t *HTTPTransport) Post(ctx context.Context, s *Session, path string, body []byte) (*PostResult, error) {
	if t.logPayloads {
		logger.Info("erp request", zap.String("path", path), zap.ByteString("body", body))
	}
	cookie := ""
	if s != nil {
		cookie = s.Cookie
	}
	resp, raw, err := t.do(ctx, path, body, cookie)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		err := classify(path, resp.StatusCode, raw)
		if t.logPayloads {
			logger.Warn("erp error response", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.ByteString("body", raw))
		}
		return nil, err
	}

	var created struct {
		DocEntry *int64 `json:"DocEntry"`
		DocNum   *int64 `json:"DocNum"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &created); err != nil {
			return nil, fmt.Errorf("decode erp response for %s: %w", path, err)
		}
	}
	if t.logPayloads {
		logger.Info("erp response",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Int64p("doc_entry", created.DocEntry),
			zap.Int64p("doc_num", created.DocNum))
	}
	return &PostResult{DocEntry: created.DocEntry, DocNum: created.DocNum, Raw: raw}, nil
}

func (t *HTTPTransport) do(ctx context.Context, path string, body []byte, cookie string) (*http.Response, []byte, error) {
	op := "erp POST " + path
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, nil, &apperr.TransientError{Op: op, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, nil, &apperr.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &apperr.TransientError{Op: op, Err: err}
	}
	return resp, raw, nil
}

var sessionMessage = regexp.MustCompile(`(?i)invalid session|session.*timeout`)

const sessionErrorCode = "301"

// classify turns a non-2xx response into a SessionExpiredError, a
// TransientError for server faults, or an *Error.
func classify(path string, status int, raw []byte) error {
	code, msg := parseErrorBody(raw)
	if code == sessionErrorCode || status == http.StatusUnauthorized || sessionMessage.MatchString(msg) {
		return &apperr.SessionExpiredError{Status: status, Code: code, Message: msg}
	}
	erpErr := &Error{Status: status, Code: code, Message: msg}
	if status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return &apperr.TransientError{Op: "erp POST " + path, Err: erpErr}
	}
	return erpErr
}

// parseErrorBody reads {"error":{"code":..,"message":{"value":..}}}. Older
// Service Layer versions send message as a plain string.
func parseErrorBody(raw []byte) (string, string) {
	var body struct {
		Error struct {
			Code    json.RawMessage `json:"code"`
			Message json.RawMessage `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Error.Code == nil && body.Error.Message == nil {
		return "", strings.TrimSpace(string(raw))
	}

	code := strings.Trim(string(body.Error.Code), `"`)

	var msg string
	var structured struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(body.Error.Message, &structured); err == nil && structured.Value != "" {
		msg = structured.Value
	} else if err := json.Unmarshal(body.Error.Message, &msg); err != nil {
		msg = string(body.Error.Message)
	}
	return code, msg
}
