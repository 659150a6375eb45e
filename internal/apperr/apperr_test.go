package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	transient := &TransientError{Op: "erp post", Err: errors.New("dial tcp: i/o timeout")}
	wrapped := fmt.Errorf("dispatch: %w", transient)

	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsTerminal(wrapped))

	assert.True(t, IsRetryable(&SessionExpiredError{Status: 401}))
	assert.True(t, IsTerminal(NewValidation("line 1: quantity must be positive")))
	assert.True(t, IsTerminal(&UnsupportedDocTypeError{DocType: "XX"}))
	assert.True(t, IsTerminal(&NotFoundError{Entity: "document", ID: 7}))
	assert.False(t, IsRetryable(nil))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short"))

	long := strings.Repeat("a", MaxMessageLen+10)
	assert.Len(t, Truncate(long), MaxMessageLen)

	// a multi-byte rune straddling the limit is dropped, not split
	mixed := strings.Repeat("a", MaxMessageLen-1) + "ñ"
	got := Truncate(mixed)
	assert.Len(t, got, MaxMessageLen-1)
}

func TestValidationMessage(t *testing.T) {
	err := NewValidation("docType is required", "lines must not be empty")
	assert.Equal(t, "validation failed: docType is required; lines must not be empty", err.Error())
}
