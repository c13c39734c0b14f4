package utils

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MySQLKeyLocker serializes keys across instances with MySQL advisory locks.
// GET_LOCK is connection-scoped, so every held key pins one pooled connection until released.
// Wait bounds GET_LOCK when ctx carries no deadline; zero waits forever.
type MySQLKeyLocker struct {
	DB     *sql.DB
	Wait   time.Duration
	Logger *logrus.Logger
}

func NewMySQLKeyLocker(db *gorm.DB, wait time.Duration, logger *logrus.Logger) (*MySQLKeyLocker, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if wait < 0 {
		wait = 0
	}
	return &MySQLKeyLocker{DB: sqlDB, Wait: wait, Logger: logger}, nil
}

// advisory lock names are capped at 64 characters
func mysqlLockName(key string) string {
	sum := sha1.Sum([]byte(key))
	return "ims:" + hex.EncodeToString(sum[:])
}

// getLockTimeoutSeconds converts the wait budget into GET_LOCK's whole-second timeout.
// A negative result asks MySQL to wait forever; partial seconds round up so a short
// deadline never becomes a zero (non-blocking) attempt.
func getLockTimeoutSeconds(ctx context.Context, wait time.Duration, now time.Time) int {
	if deadline, ok := ctx.Deadline(); ok {
		wait = deadline.Sub(now)
	} else if wait <= 0 {
		return -1
	}
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (l *MySQLKeyLocker) Acquire(ctx context.Context, key string) (func(), error) {
	conn, err := l.DB.Conn(ctx)
	if err != nil {
		return nil, err
	}
	lockName := mysqlLockName(key)
	timeout := getLockTimeoutSeconds(ctx, l.Wait, time.Now())

	var ok sql.NullInt64
	err = conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", lockName, timeout).Scan(&ok)
	if err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, waitError(ctx, key)
		}
		return nil, err
	}
	if !ok.Valid || ok.Int64 != 1 {
		_ = conn.Close()
		return nil, waitError(ctx, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			var released sql.NullInt64
			if err := conn.QueryRowContext(context.Background(), "SELECT RELEASE_LOCK(?)", lockName).Scan(&released); err != nil && l.Logger != nil {
				l.Logger.WithFields(logrus.Fields{
					"field":    "MySQLKeyLocker",
					"lock_key": key,
				}).Warn("failed to release advisory lock: " + err.Error())
			}
			_ = conn.Close()
		})
	}, nil
}
