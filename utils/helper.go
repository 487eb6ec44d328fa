package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
	"github.com/bsm/redislock"
)

var ErrLockNotObtained = errors.New("could not obtain lock")

// AccountLock serializes work against a single channel account. The caller
// must invoke the returned release func once the critical section is done.
func AccountLock(ctx context.Context, accountId string, lockType string, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Best effort: the DB status guard still prevents double publishes.
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized, proceeding unlocked", accountId, errors.New("redis lock is nil"))
		return func() {}, nil
	}

	lockKey := fmt.Sprintf("%s:%s", lockType, accountId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		return nil, ErrLockNotObtained
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock for account", accountId, err)
		return nil, err
	}

	return func() {
		_ = lock.Release(context.Background())
	}, nil
}
