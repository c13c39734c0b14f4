package config

import (
	"os"
	"strings"
	"time"
)

const (
	StoreBackendMySQL  = "mysql"
	StoreBackendMemory = "memory"

	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
	LockBackendMySQL  = "mysql"
)

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// StoreBackend selects where stock state lives.
//
// Set via env:
// - STORE_BACKEND=mysql|memory (default mysql)
func StoreBackend() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
	if v == StoreBackendMemory {
		return StoreBackendMemory
	}
	return StoreBackendMySQL
}

// LockBackend selects the per-key lock implementation.
// The in-process FIFO lock is only correct while a single instance allocates stock.
//
// Set via env:
// - LOCK_BACKEND=memory|redis|mysql (default memory)
func LockBackend() string {
	switch v := strings.ToLower(strings.TrimSpace(os.Getenv("LOCK_BACKEND"))); v {
	case LockBackendRedis, LockBackendMySQL:
		return v
	default:
		return LockBackendMemory
	}
}

// LockWaitTimeout bounds how long a request waits for a stock key. Zero waits forever.
//
// Set via env:
// - LOCK_WAIT_TIMEOUT_MS=2000
func LockWaitTimeout() time.Duration {
	return time.Duration(IntFromEnv("LOCK_WAIT_TIMEOUT_MS", 0)) * time.Millisecond
}

// LockLease is the redis / mysql lock lease.
//
// Set via env:
// - LOCK_LEASE_SECONDS=30
func LockLease() time.Duration {
	return time.Duration(IntFromEnv("LOCK_LEASE_SECONDS", 30)) * time.Second
}

// StrictInvariants rejects any write that would leave a ledger entry, incoming record or
// order numerically inconsistent.
//
// Set via env:
// - STRICT_INVARIANTS=false to disable (default true)
func StrictInvariants() bool {
	return boolFromEnv("STRICT_INVARIANTS", true)
}

// ReleaseBlockedOnIncomingReject releases the blocked quantity of a rejected incoming record
// and moves the affected order quantities into their shortfall.
//
// Set via env:
// - RELEASE_BLOCKED_ON_INCOMING_REJECT=true (default false)
func ReleaseBlockedOnIncomingReject() bool {
	return boolFromEnv("RELEASE_BLOCKED_ON_INCOMING_REJECT", false)
}

// StockEventsEnabled starts the stock-event outbox dispatcher.
//
// Set via env:
// - STOCK_EVENTS_ENABLED=true
func StockEventsEnabled() bool {
	return boolFromEnv("STOCK_EVENTS_ENABLED", false)
}
