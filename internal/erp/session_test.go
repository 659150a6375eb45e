package erp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"stockbridge/internal/apperr"
	"stockbridge/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitLogger("test")
}

// fakeTransport scripts Post outcomes and counts remote side effects.
type fakeTransport struct {
	mu       sync.Mutex
	logins   int
	logouts  int
	posts    int
	created  int
	outcomes []error
}

func (f *fakeTransport) Login(ctx context.Context, creds Credentials) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	return &Session{Cookie: fmt.Sprintf("B1SESSION=s%d", f.logins), AcquiredAt: time.Now()}, nil
}

func (f *fakeTransport) Logout(ctx context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return errors.New("logout is best effort")
}

func (f *fakeTransport) Post(ctx context.Context, s *Session, path string, body []byte) (*PostResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts++
	if len(f.outcomes) > 0 {
		err := f.outcomes[0]
		f.outcomes = f.outcomes[1:]
		if err != nil {
			return nil, err
		}
	}
	f.created++
	entry := int64(1000 + f.created)
	return &PostResult{DocEntry: &entry, DocNum: &entry}, nil
}

func TestSessionManager_ReusesSession(t *testing.T) {
	tr := &fakeTransport{}
	m := NewSessionManager(tr, Credentials{CompanyDB: "SBO"}, nil)

	for i := 0; i < 3; i++ {
		_, err := m.Post(context.Background(), "/InventoryGenEntries", map[string]string{"DocDate": "2025-01-01"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, tr.logins)
	assert.True(t, m.Active())
}

func TestSessionManager_RetriesOnceOnExpiredSession(t *testing.T) {
	tr := &fakeTransport{outcomes: []error{&apperr.SessionExpiredError{Status: 401, Code: "301", Message: "Invalid session."}}}
	m := NewSessionManager(tr, Credentials{}, nil)

	res, err := m.Post(context.Background(), "/StockTransfers", struct{}{})
	require.NoError(t, err)
	require.NotNil(t, res.DocEntry)

	assert.Equal(t, 1, tr.created, "exactly one remote object")
	assert.Equal(t, 2, tr.posts)
	assert.Equal(t, 2, tr.logins)
	assert.Equal(t, 1, tr.logouts, "logout errors are swallowed")
}

func TestSessionManager_SecondFailurePropagatesUnchanged(t *testing.T) {
	second := &Error{Status: 400, Code: "-5002", Message: "Quantity falls into negative inventory"}
	tr := &fakeTransport{outcomes: []error{&apperr.SessionExpiredError{Status: 401}, second}}
	m := NewSessionManager(tr, Credentials{}, nil)

	_, err := m.Post(context.Background(), "/InventoryGenExits", struct{}{})
	assert.Same(t, second, err)
	assert.Equal(t, 2, tr.posts)
	assert.Equal(t, 0, tr.created)
}

func TestSessionManager_RepeatedExpiryIsRetryable(t *testing.T) {
	tr := &fakeTransport{outcomes: []error{&apperr.SessionExpiredError{Status: 401}, &apperr.SessionExpiredError{Status: 401}}}
	m := NewSessionManager(tr, Credentials{}, nil)

	_, err := m.Post(context.Background(), "/InventoryGenExits", struct{}{})
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, 2, tr.posts, "no second retry")
	assert.False(t, m.Active(), "the rejected session is dropped")
}

func TestSessionManager_TimeoutIsNotRetried(t *testing.T) {
	timeout := &apperr.TransientError{Op: "erp POST /InventoryGenEntries", Err: context.DeadlineExceeded}
	tr := &fakeTransport{outcomes: []error{timeout}}
	m := NewSessionManager(tr, Credentials{}, nil)

	_, err := m.Post(context.Background(), "/InventoryGenEntries", struct{}{})
	assert.Same(t, timeout, err)
	assert.Equal(t, 1, tr.posts)
	assert.Equal(t, 1, tr.logins)
}
