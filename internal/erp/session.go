package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"stockbridge/internal/apperr"
	"stockbridge/internal/metrics"
	"stockbridge/pkg/logger"

	"go.uber.org/zap"
)

const logoutTimeout = 10 * time.Second

// SessionManager owns the ERP session. It logs in lazily, reuses the
// session across calls and rebuilds it once when the ERP reports it
// expired.
type SessionManager struct {
	transport Transport
	creds     Credentials
	observer  metrics.BridgeObserver

	mu      sync.Mutex
	session *Session
}

func NewSessionManager(transport Transport, creds Credentials, observer metrics.BridgeObserver) *SessionManager {
	if observer == nil {
		observer = metrics.Nop()
	}
	return &SessionManager{
		transport: transport,
		creds:     creds,
		observer:  observer,
	}
}

// Post marshals payload and sends it to path. A session-expired failure
// triggers invalidate, logout, login and exactly one retry. Whatever the
// retry returns is returned as is.
func (m *SessionManager) Post(ctx context.Context, path string, payload any) (*PostResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for %s: %w", path, err)
	}

	s, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	res, err := m.transport.Post(ctx, s, path, body)
	if err == nil || !apperr.IsSessionExpired(err) {
		return res, err
	}

	logger.Warn("erp session expired, logging in again", zap.String("path", path), zap.Error(err))
	m.invalidate(ctx, s)
	m.observer.RecordRelogin()

	s, err = m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	res, err = m.transport.Post(ctx, s, path, body)
	if err != nil && apperr.IsSessionExpired(err) {
		m.invalidate(ctx, s)
	}
	return res, err
}

// Invalidate drops the cached session and logs it out.
func (m *SessionManager) Invalidate(ctx context.Context) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s != nil {
		m.invalidate(ctx, s)
	}
}

// Close releases the session on shutdown.
func (m *SessionManager) Close(ctx context.Context) {
	m.Invalidate(ctx)
}

// Active reports whether a session is cached.
func (m *SessionManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

func (m *SessionManager) acquire(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return m.session, nil
	}

	s, err := m.transport.Login(ctx, m.creds)
	if err != nil {
		return nil, fmt.Errorf("erp login: %w", err)
	}
	m.session = s
	logger.Info("erp session established", zap.String("company_db", m.creds.CompanyDB))
	return s, nil
}

// invalidate clears stale only if it is still the cached session, so a
// session rebuilt by a concurrent caller survives.
func (m *SessionManager) invalidate(ctx context.Context, stale *Session) {
	m.mu.Lock()
	if m.session == stale {
		m.session = nil
	}
	m.mu.Unlock()

	logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
	defer cancel()
	if err := m.transport.Logout(logoutCtx, stale); err != nil {
		logger.Debug("erp logout failed", zap.Error(err))
	}
}
