package scheduler

import (
	"context"
	"errors"
	"time"

	"stockbridge/pkg/logger"

	"github.com/bsm/redislock"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// Locker grants a job exclusive use across instances. ok=false means
// another instance holds the lock and the run should be skipped.
type Locker interface {
	TryLock(ctx context.Context, name string) (release func(), ok bool, err error)
}

// NopLocker always grants the lock. Used for single-instance deployments.
type NopLocker struct{}

func (NopLocker) TryLock(context.Context, string) (func(), bool, error) {
	return func() {}, true, nil
}

type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	prefix string
}

func NewRedisLocker(client *redislock.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, prefix: "stockbridge:lock:"}
}

func (l *RedisLocker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	lock, err := l.client.Obtain(ctx, l.prefix+name, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			logger.Warn("failed to release redis job lock", zap.String("job", name), zap.Error(err))
		}
	}, true, nil
}

// EtcdLocker uses a mutex bound to the session's lease, so a crashed
// instance releases its locks when the lease expires.
type EtcdLocker struct {
	session *concurrency.Session
	prefix  string
}

func NewEtcdLocker(session *concurrency.Session) *EtcdLocker {
	return &EtcdLocker{session: session, prefix: "/stockbridge/locks/"}
}

func (l *EtcdLocker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	mutex := concurrency.NewMutex(l.session, l.prefix+name)
	err := mutex.TryLock(ctx)
	if errors.Is(err, concurrency.ErrLocked) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return func() {
		if err := mutex.Unlock(context.Background()); err != nil {
			logger.Warn("failed to release etcd job lock", zap.String("job", name), zap.Error(err))
		}
	}, true, nil
}
