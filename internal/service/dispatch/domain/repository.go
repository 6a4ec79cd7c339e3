// internal/service/dispatch/domain/repository.go
package domain

import "context"

// BatchRunRepository 定义了分批流水的持久化接口。
// 它位于领域层，但由基础设施层实现。
type BatchRunRepository interface {
	// Save 记录一次分批
	Save(ctx context.Context, run *BatchRun) error

	// ListRecent 按开始时间倒序返回最近的记录
	ListRecent(ctx context.Context, limit int) ([]*BatchRun, error)
}
