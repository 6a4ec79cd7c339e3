// internal/zookeeper/conn.go
package zookeeper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dispatch/internal/pkg/logger"

	"github.com/go-zookeeper/zk"
)

// Conn 是带会话等待的 ZooKeeper 连接
type Conn struct {
	*zk.Conn
}

// Connect 连接 ZooKeeper 并等待会话建立；servers 为逗号分隔地址
func Connect(servers string, sessionTimeout time.Duration) (*Conn, error) {
	var list []string
	for _, s := range strings.Split(servers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("zookeeper: no servers configured")
	}

	conn, events, err := zk.Connect(list, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zookeeper: connect %v: %w", list, err)
	}

	timeout := time.After(sessionTimeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				logger.Ctx(context.Background()).Info().Strs("servers", list).Msg("ZooKeeper session established")
				return &Conn{Conn: conn}, nil
			}
		case <-timeout:
			conn.Close()
			return nil, fmt.Errorf("zookeeper: no session within %s", sessionTimeout)
		}
	}
}

// ensurePath 逐级创建持久节点，已存在的节点忽略
func (c *Conn) ensurePath(path string) error {
	current := ""
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		current += "/" + part
		_, err := c.Create(current, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && err != zk.ErrNodeExists {
			return fmt.Errorf("create %s: %w", current, err)
		}
	}
	return nil
}
