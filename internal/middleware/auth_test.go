package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stockbridge/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticKeys map[string]string

func (k staticKeys) ValidateAPIKey(ctx context.Context, apiKey string) (string, bool, error) {
	if apiKey == "boom" {
		return "", false, errors.New("db down")
	}
	app, ok := k[apiKey]
	return app, ok, nil
}

func operatorEcho(c *gin.Context) {
	op := service.GetOperatorInfo(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user": op.UserID, "role": op.Role, "trace": service.GetTraceID(c.Request.Context())})
}

func TestAPIKeyMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceMiddleware(), APIKeyMiddleware(staticKeys{"k-1": "ledger"}))
	r.POST("/v1/documents", operatorEcho)

	cases := []struct {
		name   string
		key    string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"unknown", "nope", http.StatusForbidden},
		{"lookup error", "boom", http.StatusForbidden},
		{"valid", "k-1", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/documents", nil)
			if tc.key != "" {
				req.Header.Set(APIKeyHeader, tc.key)
			}
			req.Header.Set(TraceHeader, "trace-1")
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.JSONEq(t, `{"user":"ledger","role":"integration","trace":"trace-1"}`, w.Body.String())
			}
		})
	}
}

func signed(t *testing.T, secret []byte, issuer string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, service.UserClaims{
		UserID:   "ana",
		Username: "ana",
		Role:     "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestJWTMiddleware(t *testing.T) {
	secret := []byte("s3cret")
	gin.SetMode(gin.TestMode)

	build := func(devMode bool) *gin.Engine {
		r := gin.New()
		r.Use(JWTMiddleware(secret, devMode))
		r.GET("/v1/integration/cursors/x", operatorEcho)
		return r
	}

	call := func(r *gin.Engine, header, value string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/integration/cursors/x", nil)
		if header != "" {
			req.Header.Set(header, value)
		}
		r.ServeHTTP(w, req)
		return w
	}

	r := build(false)
	assert.Equal(t, http.StatusUnauthorized, call(r, "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, "Authorization", "Token abc").Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, "Authorization", "Bearer "+signed(t, []byte("other"), service.Issuer, time.Hour)).Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, "Authorization", "Bearer "+signed(t, secret, "someone-else", time.Hour)).Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, "Authorization", "Bearer "+signed(t, secret, service.Issuer, -time.Minute)).Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, "X-Dev-Pass", "true").Code, "dev pass is off outside dev mode")

	w := call(r, "Authorization", "Bearer "+signed(t, secret, service.Issuer, time.Hour))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":"ana"`)

	w = call(build(true), "X-Dev-Pass", "true")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"admin"`)
}
