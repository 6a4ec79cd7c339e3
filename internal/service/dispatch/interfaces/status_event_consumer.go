// internal/service/dispatch/interfaces/status_event_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"dispatch/internal/pkg/logger"
	"dispatch/internal/pkg/mq"
	"dispatch/internal/service/dispatch/domain"

	"github.com/segmentio/kafka-go"
)

// MessageReader 是 kafka.Reader 中消费者用到的部分
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StatusChangeHandler 处理一条 shipment 状态变更事件
type StatusChangeHandler interface {
	HandleShipmentStatusChanged(ctx context.Context, event *domain.ShipmentStatusChanged) error
}

// StatusEventConsumer 是一个驱动适配器，它监听上游发布的 shipment 状态变更并驱动应用服务。
type StatusEventConsumer struct {
	reader  MessageReader
	handler StatusChangeHandler
	retry   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatusEventConsumer 创建一个新的Kafka消费者适配器。
func NewStatusEventConsumer(reader MessageReader, handler StatusChangeHandler) *StatusEventConsumer {
	return &StatusEventConsumer{reader: reader, handler: handler, retry: time.Second}
}

// Start 开始监听Kafka主题，直到 ctx 取消或 Stop 被调用。
func (c *StatusEventConsumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Msg("Status event consumer started")
		for {
			// 使用 FetchMessage 而不是 ReadMessage，处理完再手动提交
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("Status event consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("Could not fetch message, retrying")
				select {
				case <-time.After(c.retry): // 避免快速失败循环
				case <-ctx.Done():
					return
				}
				continue
			}

			c.processMessage(ctx, msg)

			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit message")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (c *StatusEventConsumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

// processMessage 反序列化消息并调用应用服务；坏消息记录后跳过
func (c *StatusEventConsumer) processMessage(parentCtx context.Context, msg kafka.Message) {
	ctx := mq.ExtractTraceContext(parentCtx, msg.Headers)

	var event domain.ShipmentStatusChanged
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("offset", msg.Offset).Msg("Malformed status event skipped")
		return
	}
	if err := c.handler.HandleShipmentStatusChanged(ctx, &event); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("shipment_id", event.ShipmentID).Msg("Failed to handle status event")
	}
}
