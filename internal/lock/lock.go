// Package lock provides named mutual exclusion with a bounded wait.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimeout is returned when the lock could not be taken within the timeout.
var ErrTimeout = errors.New("lock: acquire timed out")

// Unlock releases a held lock. Calling it more than once is harmless.
type Unlock func()

// Locker hands out exclusive, named locks.
type Locker interface {
	Acquire(ctx context.Context, key string, timeout time.Duration) (Unlock, error)
}

// Local is an in-process Locker. It only serializes callers inside one
// process, so it is meant for single-instance deployments and tests.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// slot is dropped from Local once no holder or waiter references it.
type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) retain(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *Local) Acquire(ctx context.Context, key string, timeout time.Duration) (Unlock, error) {
	s := l.retain(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
	case <-timer.C:
		l.release(key, s)
		return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
	}, nil
}
