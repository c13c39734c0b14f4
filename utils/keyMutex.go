package utils

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

var ErrLockTimeout = errors.New("timed out waiting for lock")

// KeyLocker hands out exclusive ownership of a key. The returned release func is safe to
// call more than once.
type KeyLocker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type keyQueue struct {
	waiters []chan struct{}
}

// KeyMutex is an in-process lock table. Waiters on a key are served strictly in arrival
// order and a key's entry is dropped as soon as nobody holds or waits for it.
type KeyMutex struct {
	queues *xsync.Map[string, *keyQueue]
}

func NewKeyMutex() *KeyMutex {
	return &KeyMutex{queues: xsync.NewMap[string, *keyQueue]()}
}

// Acquire blocks until the key is free or ctx is done. A cancelled wait leaves the queue
// as if the caller had never arrived.
func (m *KeyMutex) Acquire(ctx context.Context, key string) (func(), error) {
	ch := make(chan struct{})
	granted := false
	m.queues.Compute(key, func(q *keyQueue, loaded bool) (*keyQueue, xsync.ComputeOp) {
		if !loaded {
			granted = true
			return &keyQueue{}, xsync.UpdateOp
		}
		q.waiters = append(q.waiters, ch)
		return q, xsync.UpdateOp
	})
	if granted {
		return m.releaser(key), nil
	}

	select {
	case <-ch:
		return m.releaser(key), nil
	case <-ctx.Done():
		removed := false
		m.queues.Compute(key, func(q *keyQueue, loaded bool) (*keyQueue, xsync.ComputeOp) {
			if !loaded {
				return q, xsync.CancelOp
			}
			for i, w := range q.waiters {
				if w == ch {
					q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
					removed = true
					break
				}
			}
			return q, xsync.UpdateOp
		})
		if !removed {
			// ownership was handed over while we were giving up
			m.release(key)
		}
		return nil, waitError(ctx, key)
	}
}

// waitError reports why a wait on key ended. Only a passed deadline counts as a lock
// timeout; a cancelled caller gets its own context error back.
func waitError(ctx context.Context, key string) error {
	err := ctx.Err()
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}
	return fmt.Errorf("waiting for lock %s: %w", key, err)
}

func (m *KeyMutex) releaser(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { m.release(key) })
	}
}

func (m *KeyMutex) release(key string) {
	m.queues.Compute(key, func(q *keyQueue, loaded bool) (*keyQueue, xsync.ComputeOp) {
		if !loaded {
			return q, xsync.CancelOp
		}
		if len(q.waiters) == 0 {
			return nil, xsync.DeleteOp
		}
		next := q.waiters[0]
		q.waiters = q.waiters[1:]
		close(next)
		return q, xsync.UpdateOp
	})
}

// Len is the number of keys currently held or waited on.
func (m *KeyMutex) Len() int {
	return m.queues.Size()
}
