package workflow

import (
	"context"
	"errors"

	"github.com/mmdatafocus/ims_backend/config"
	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/sirupsen/logrus"
)

// NewStockStoreFromEnv returns the store named by STORE_BACKEND. The mysql store expects
// config.ConnectDatabaseWithRetry to have run.
func NewStockStoreFromEnv() (models.StockStore, error) {
	if config.StoreBackend() == config.StoreBackendMemory {
		return models.NewMemoryStore(), nil
	}
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("service not ready (database not initialized)")
	}
	return models.NewGormStore(db), nil
}

// NewKeyLockerFromEnv returns the per-key lock named by LOCK_BACKEND.
func NewKeyLockerFromEnv(ctx context.Context, logger *logrus.Logger) (utils.KeyLocker, error) {
	switch config.LockBackend() {
	case config.LockBackendRedis:
		if config.GetRedisLock() == nil {
			config.ConnectRedisWithRetry(ctx)
		}
		return utils.NewRedisKeyLocker(config.GetRedisLock(), config.LockLease(), logger), nil
	case config.LockBackendMySQL:
		db := config.GetDB()
		if db == nil {
			return nil, errors.New("service not ready (database not initialized)")
		}
		return utils.NewMySQLKeyLocker(db, config.LockWaitTimeout(), logger)
	default:
		return utils.NewKeyMutex(), nil
	}
}
