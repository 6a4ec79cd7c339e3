// internal/service/dispatch/infrastructure/adapter/notice_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"dispatch/internal/pkg/metrics"
	"dispatch/internal/pkg/mq"
	"dispatch/internal/service/dispatch/domain"
	"dispatch/internal/service/dispatch/domain/port"
)

// NoticeKafkaAdapter 把提示写入 Kafka，供其他实例或下游通知服务消费
type NoticeKafkaAdapter struct {
	writer mq.MessageWriter
}

// NewNoticeKafkaAdapter 创建一个新的提示生产者适配器。
func NewNoticeKafkaAdapter(writer mq.MessageWriter) *NoticeKafkaAdapter {
	return &NoticeKafkaAdapter{writer: writer}
}

var _ port.NoticePublisher = (*NoticeKafkaAdapter)(nil)

func (a *NoticeKafkaAdapter) Publish(ctx context.Context, notice domain.Notice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}
	// 以 kind 作为 key，同类提示落在同一分区保持顺序
	if err := mq.ProduceMessage(ctx, a.writer, []byte(notice.Kind), payload); err != nil {
		return err
	}
	metrics.NoticesPublished.WithLabelValues(string(notice.Kind), "kafka").Inc()
	return nil
}

// FanoutPublisher 把同一条提示依次交给多个发布者，单个失败不影响其余
type FanoutPublisher []port.NoticePublisher

var _ port.NoticePublisher = FanoutPublisher(nil)

func (f FanoutPublisher) Publish(ctx context.Context, notice domain.Notice) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, notice); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish notice %s: %w", notice.ID, errors.Join(errs...))
	}
	return nil
}
