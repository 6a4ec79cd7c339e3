package port

import (
	"context"
	"errors"
)

// ErrLockHeld 表示锁已被其他实例持有
var ErrLockHeld = errors.New("batch lock held elsewhere")

// BatchLock 是跨实例的分批互斥锁。
type BatchLock interface {
	// TryAcquire 尝试获取锁；成功时返回释放函数
	TryAcquire(ctx context.Context) (release func(), err error)
}
