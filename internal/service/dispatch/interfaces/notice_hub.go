// internal/service/dispatch/interfaces/notice_hub.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"dispatch/internal/pkg/logger"
	"dispatch/internal/pkg/metrics"
	"dispatch/internal/service/dispatch/domain"
	"dispatch/internal/service/dispatch/domain/port"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 管理端与 API 同源部署时可收紧
		return true
	},
}

// NoticeHub 维护所有活跃的 WebSocket 连接，并把提示广播给它们
type NoticeHub struct {
	clients map[string]*noticeClient
	lock    sync.RWMutex
	wg      sync.WaitGroup
}

func NewNoticeHub() *NoticeHub {
	return &NoticeHub{clients: make(map[string]*noticeClient)}
}

var _ port.NoticePublisher = (*NoticeHub)(nil)

// noticeClient 是一个WebSocket连接的代表
type noticeClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *noticeClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Publish 向所有连接广播；发送缓冲已满的慢客户端会丢掉这条提示
func (h *NoticeHub) Publish(ctx context.Context, notice domain.Notice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	h.lock.RLock()
	defer h.lock.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			logger.Ctx(ctx).Warn().Str("client_id", c.id).Msg("Notice dropped for slow websocket client")
		}
	}
	metrics.NoticesPublished.WithLabelValues(string(notice.Kind), "websocket").Inc()
	return nil
}

// ClientCount 返回当前连接数
func (h *NoticeHub) ClientCount() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients)
}

// ServeWS 把 HTTP 连接升级为 WebSocket 并注册到 hub
func (h *NoticeHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &noticeClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(client)

	h.wg.Add(2)
	go h.writePump(client)
	go h.readPump(client)
}

// Close 断开所有连接并等待读写 goroutine 退出
func (h *NoticeHub) Close() {
	h.lock.Lock()
	for id, c := range h.clients {
		delete(h.clients, id)
		c.close()
	}
	h.lock.Unlock()
	h.wg.Wait()
}

func (h *NoticeHub) register(c *noticeClient) {
	h.lock.Lock()
	h.clients[c.id] = c
	h.lock.Unlock()
	logger.Ctx(context.Background()).Debug().Str("client_id", c.id).Msg("Notice client registered")
}

func (h *NoticeHub) unregister(c *noticeClient) {
	h.lock.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		c.close()
	}
	h.lock.Unlock()
}

// writePump 负责将 send channel 中的消息写入 websocket，并定时发送 ping
func (h *NoticeHub) writePump(c *noticeClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		h.wg.Done()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 只处理 pong 与关闭；客户端不会发业务消息
func (h *NoticeHub) readPump(c *noticeClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.wg.Done()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
