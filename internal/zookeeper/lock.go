// internal/zookeeper/lock.go
package zookeeper

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-zookeeper/zk"
)

const (
	lockRoot = "/dispatch/locks" // 所有分布式锁的根节点
)

// ErrLockHeld 表示锁当前由其他持有者占用
var ErrLockHeld = errors.New("zookeeper: lock held")

// DistributedLock 定义了一个非阻塞的分布式锁对象
type DistributedLock struct {
	conn *Conn  // ZooKeeper连接
	path string // 锁的路径，例如 /dispatch/locks/auto-batch
}

// NewDistributedLock 创建一个新的分布式锁实例，并确保锁路径存在
func NewDistributedLock(conn *Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	if err := conn.ensurePath(lockPath); err != nil {
		return nil, fmt.Errorf("failed to prepare lock path: %w", err)
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

// TryLock 尝试获取锁，不等待。成功时返回自己创建的节点路径，供 Unlock 使用。
func (l *DistributedLock) TryLock() (string, error) {
	// 1. 在锁路径下创建一个临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return "", fmt.Errorf("failed to create sequential node: %w", err)
	}

	// 2. 获取锁路径下的所有子节点
	children, _, err := l.conn.Children(l.path)
	if err != nil {
		_ = l.Unlock(nodePath)
		return "", fmt.Errorf("failed to get children nodes: %w", err)
	}

	// 3. 按序号排序；protected 节点名带 GUID 前缀，只比较序号部分
	sort.Slice(children, func(i, j int) bool {
		return sequenceOf(children[i]) < sequenceOf(children[j])
	})
	myNodeName := strings.TrimPrefix(nodePath, l.path+"/")
	if len(children) > 0 && children[0] == myNodeName {
		return nodePath, nil
	}

	// 4. 不是最小节点，立即退出竞争
	_ = l.Unlock(nodePath)
	return "", ErrLockHeld
}

// Unlock 释放锁
func (l *DistributedLock) Unlock(nodePath string) error {
	if nodePath == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(nodePath, -1)
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	return nil
}

// sequenceOf 取出顺序节点名末尾的 10 位序号
func sequenceOf(name string) string {
	if len(name) < 10 {
		return name
	}
	return name[len(name)-10:]
}
