package services

import (
	"context"
	"errors"
	"time"

	"ispring-backend/internal/lock"
	"ispring-backend/internal/metrics"
)

func acquire(ctx context.Context, locker lock.Locker, m *metrics.Metrics, scope, key string, timeout time.Duration) (lock.Unlock, error) {
	started := time.Now()
	unlock, err := locker.Acquire(ctx, key, timeout)
	m.LockWait(scope, err == nil, time.Since(started))
	if errors.Is(err, lock.ErrTimeout) {
		return nil, &LockTimeoutError{Key: key}
	}
	if err != nil {
		return nil, err
	}
	return unlock, nil
}
