package infrastructure

import (
	"context"
	"sort"
	"sync"

	"dispatch/internal/service/dispatch/domain"
)

// MemoryBatchRunRepository 在未配置数据库时使用，只保留最近 capacity 条
type MemoryBatchRunRepository struct {
	mu       sync.RWMutex
	runs     []*domain.BatchRun
	capacity int
}

func NewMemoryBatchRunRepository(capacity int) *MemoryBatchRunRepository {
	if capacity <= 0 {
		capacity = 200
	}
	return &MemoryBatchRunRepository{capacity: capacity}
}

var _ domain.BatchRunRepository = (*MemoryBatchRunRepository)(nil)

func (r *MemoryBatchRunRepository) Save(_ context.Context, run *domain.BatchRun) error {
	cp := *run
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, &cp)
	if over := len(r.runs) - r.capacity; over > 0 {
		r.runs = append([]*domain.BatchRun(nil), r.runs[over:]...)
	}
	return nil
}

func (r *MemoryBatchRunRepository) ListRecent(_ context.Context, limit int) ([]*domain.BatchRun, error) {
	r.mu.RLock()
	out := make([]*domain.BatchRun, 0, len(r.runs))
	for _, run := range r.runs {
		cp := *run
		out = append(out, &cp)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
