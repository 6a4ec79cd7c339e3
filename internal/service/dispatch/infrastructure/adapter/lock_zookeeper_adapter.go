// internal/service/dispatch/infrastructure/adapter/lock_zookeeper_adapter.go
package adapter

import (
	"context"

	"dispatch/internal/pkg/logger"
	"dispatch/internal/service/dispatch/domain/port"
	"dispatch/internal/zookeeper"

	"github.com/pkg/errors"
)

// ZookeeperBatchLock 用 ZooKeeper 临时顺序节点实现跨实例的 auto-batch 互斥
type ZookeeperBatchLock struct {
	lock *zookeeper.DistributedLock
}

func NewZookeeperBatchLock(lock *zookeeper.DistributedLock) *ZookeeperBatchLock {
	return &ZookeeperBatchLock{lock: lock}
}

var _ port.BatchLock = (*ZookeeperBatchLock)(nil)

func (l *ZookeeperBatchLock) TryAcquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	node, err := l.lock.TryLock()
	if errors.Is(err, zookeeper.ErrLockHeld) {
		return nil, port.ErrLockHeld
	}
	if err != nil {
		return nil, errors.Wrap(err, "acquire batch lock")
	}
	return func() {
		if err := l.lock.Unlock(node); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("node", node).Msg("Failed to release batch lock")
		}
	}, nil
}
