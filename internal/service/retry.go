package service

import (
	"fmt"
	"time"

	"stockbridge/internal/apperr"
	"stockbridge/internal/model"
)

const (
	PolicyTerminal = "terminal"
	PolicyBackoff  = "backoff"
)

// RetryPolicy decides which queue states a dispatch pass picks up and where
// a failed item goes next.
type RetryPolicy interface {
	Name() string
	Eligible() []model.QueueStatus
	OnFailure(item *model.QueueItem, err error, now time.Time) (model.QueueStatus, *time.Time)
}

// TerminalPolicy sends each item once. Any failure is final until an
// operator requeues it.
type TerminalPolicy struct{}

func (TerminalPolicy) Name() string { return PolicyTerminal }

func (TerminalPolicy) Eligible() []model.QueueStatus {
	return []model.QueueStatus{model.QueuePending}
}

func (TerminalPolicy) OnFailure(*model.QueueItem, error, time.Time) (model.QueueStatus, *time.Time) {
	return model.QueueFailed, nil
}

// BackoffPolicy parks transient failures in RETRY for Delay. Items fail
// for good after MaxAttempts, or at once when the ERP or the bridge
// rejected the document itself.
type BackoffPolicy struct {
	Delay       time.Duration
	MaxAttempts int
}

func (p BackoffPolicy) Name() string { return PolicyBackoff }

func (p BackoffPolicy) Eligible() []model.QueueStatus {
	return []model.QueueStatus{model.QueuePending, model.QueueRetry}
}

func (p BackoffPolicy) OnFailure(item *model.QueueItem, err error, now time.Time) (model.QueueStatus, *time.Time) {
	if apperr.IsTerminal(err) || !apperr.IsRetryable(err) {
		return model.QueueFailed, nil
	}
	if p.MaxAttempts > 0 && item.Attempts >= p.MaxAttempts {
		return model.QueueFailed, nil
	}
	next := now.Add(p.Delay)
	return model.QueueRetry, &next
}

func NewRetryPolicy(name string, delay time.Duration, maxAttempts int) (RetryPolicy, error) {
	switch name {
	case "", PolicyTerminal:
		return TerminalPolicy{}, nil
	case PolicyBackoff:
		if delay <= 0 {
			return nil, fmt.Errorf("backoff retry policy needs a positive delay, got %s", delay)
		}
		return BackoffPolicy{Delay: delay, MaxAttempts: maxAttempts}, nil
	default:
		return nil, fmt.Errorf("unknown retry policy %q", name)
	}
}
