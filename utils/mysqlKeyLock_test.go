package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetLockTimeoutSeconds(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	bg := context.Background()

	// no deadline and no configured wait blocks until the lock frees up
	assert.Equal(t, -1, getLockTimeoutSeconds(bg, 0, now))
	assert.Equal(t, 5, getLockTimeoutSeconds(bg, 5*time.Second, now))
	assert.Equal(t, 3, getLockTimeoutSeconds(bg, 2100*time.Millisecond, now))

	short, cancel := context.WithDeadline(bg, now.Add(300*time.Millisecond))
	defer cancel()
	assert.Equal(t, 1, getLockTimeoutSeconds(short, 0, now))

	longer, cancel2 := context.WithDeadline(bg, now.Add(4500*time.Millisecond))
	defer cancel2()
	assert.Equal(t, 5, getLockTimeoutSeconds(longer, 30*time.Second, now))

	passed, cancel3 := context.WithDeadline(bg, now.Add(-time.Second))
	defer cancel3()
	assert.Equal(t, 1, getLockTimeoutSeconds(passed, 0, now))
}

func TestMySQLLockNameFitsLimit(t *testing.T) {
	name := mysqlLockName("stock:branch-with-a-very-long-identifier:vehicle:variant:pearl white metallic")
	assert.LessOrEqual(t, len(name), 64)
	assert.Equal(t, name, mysqlLockName("stock:branch-with-a-very-long-identifier:vehicle:variant:pearl white metallic"))
}
