package utils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// RedisKeyLocker serializes keys across instances with a redis lease. Unlike KeyMutex it does
// not guarantee FIFO order among waiters. A held lease is refreshed every Lease/2 until release.
type RedisKeyLocker struct {
	Client        *redislock.Client
	Lease         time.Duration
	RetryInterval time.Duration
	Logger        *logrus.Logger
}

func NewRedisKeyLocker(client *redislock.Client, lease time.Duration, logger *logrus.Logger) *RedisKeyLocker {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &RedisKeyLocker{
		Client:        client,
		Lease:         lease,
		RetryInterval: 50 * time.Millisecond,
		Logger:        logger,
	}
}

func (l *RedisKeyLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if l.Client == nil {
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lockKey := fmt.Sprintf("lock:%s", key)
	obtainCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		// redislock gives up after one lease when ctx has no deadline; keep waiting instead
		var cancel context.CancelFunc
		obtainCtx, cancel = context.WithTimeout(ctx, 24*time.Hour)
		defer cancel()
	}
	lock, err := l.Client.Obtain(obtainCtx, lockKey, l.Lease, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.RetryInterval),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, waitError(ctx, key)
		}
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(lock, l.Lease, stop, func(err error) {
			if l.Logger != nil {
				l.Logger.WithFields(logrus.Fields{
					"field":    "RedisKeyLocker",
					"lock_key": lockKey,
				}).Error("lost redis lease: " + err.Error())
			}
		})
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if releaseErr := lock.Release(context.Background()); releaseErr != nil && l.Logger != nil {
				l.Logger.WithFields(logrus.Fields{
					"field":    "RedisKeyLocker",
					"lock_key": lockKey,
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		})
	}, nil
}

type leaseRefresher interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
}

// keepAlive extends the lease every lease/2 until stop is closed. It gives up after the
// first failed refresh since the key may already belong to someone else.
func keepAlive(lock leaseRefresher, lease time.Duration, stop <-chan struct{}, onLost func(error)) {
	interval := lease / 2
	if interval <= 0 {
		interval = lease
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := lock.Refresh(ctx, lease, nil)
			cancel()
			if err != nil {
				onLost(err)
				return
			}
		}
	}
}
