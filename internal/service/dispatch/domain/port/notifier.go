package port

import (
	"context"

	"dispatch/internal/service/dispatch/domain"
)

// NoticePublisher 是面向用户提示的出站端口。
type NoticePublisher interface {
	Publish(ctx context.Context, notice domain.Notice) error
}
