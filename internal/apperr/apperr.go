package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// MaxMessageLen bounds every error message persisted on queue items,
// inbox events and audit rows.
const MaxMessageLen = 4000

// ValidationError rejects malformed input before anything is persisted.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func NewValidation(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

// TransientError wraps network, timeout and server-side failures from the
// ERP or the source database. Callers may retry them.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// SessionExpiredError is raised by the ERP transport when a response
// carries an invalid or expired session signature.
type SessionExpiredError struct {
	Status  int
	Code    string
	Message string
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("erp session expired (status %d, code %s): %s", e.Status, e.Code, e.Message)
}

type UnsupportedDocTypeError struct {
	DocType string
}

func (e *UnsupportedDocTypeError) Error() string {
	return fmt.Sprintf("unsupported document type %q", e.DocType)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsSessionExpired(err error) bool {
	var se *SessionExpiredError
	return errors.As(err, &se)
}

func IsUnsupported(err error) bool {
	var u *UnsupportedDocTypeError
	return errors.As(err, &u)
}

// IsRetryable reports whether a later attempt may succeed. A session
// error that survived the re-login retry counts as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var t *TransientError
	if errors.As(err, &t) {
		return true
	}
	return IsSessionExpired(err)
}

// IsTerminal reports errors that no retry can fix.
func IsTerminal(err error) bool {
	return IsValidation(err) || IsUnsupported(err) || IsNotFound(err)
}

// Truncate cuts msg to MaxMessageLen bytes without splitting a UTF-8 rune.
func Truncate(msg string) string {
	if len(msg) <= MaxMessageLen {
		return msg
	}
	cut := MaxMessageLen
	for cut > 0 && !utf8Start(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
