// internal/service/dispatch/interfaces/order_poller.go
package interfaces

import (
	"context"
	"sync"
	"time"

	"dispatch/internal/pkg/logger"
	"dispatch/internal/service/dispatch/application"
)

// AutoBatcher 是轮询器驱动的用例：重新拉取订单并评估 auto-batch
type AutoBatcher interface {
	RefreshAndTrigger(ctx context.Context) (application.TriggerReport, error)
}

// OrderPoller 按固定间隔刷新订单列表，并在每次刷新后评估 auto-batch。
// Kick 可以要求立即刷新一次；多次 Kick 会被合并。
type OrderPoller struct {
	batcher  AutoBatcher
	interval time.Duration

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrderPoller 创建轮询器；interval<=0 时使用 30s
func NewOrderPoller(batcher AutoBatcher, interval time.Duration) *OrderPoller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &OrderPoller{
		batcher:  batcher,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Kick 请求一次立即刷新，不阻塞
func (p *OrderPoller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Start 启动轮询循环，启动后立即刷新一次
func (p *OrderPoller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logger.Ctx(ctx).Info().Dur("interval", p.interval).Msg("Order poller started")

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				logger.Ctx(ctx).Info().Msg("Order poller shutting down")
				return
			case <-ticker.C:
				p.refresh(ctx)
			case <-p.kick:
				p.refresh(ctx)
			}
		}
	}()
}

// Stop 停止循环并等待正在进行的刷新结束，或 ctx 到期
func (p *OrderPoller) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *OrderPoller) refresh(ctx context.Context) {
	report, err := p.batcher.RefreshAndTrigger(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Order refresh failed, auto-batch skipped")
		}
		return
	}
	ev := logger.Ctx(ctx).Debug()
	if report.Outcome == application.OutcomeBatched || report.Outcome == application.OutcomeFailed {
		ev = logger.Ctx(ctx).Info()
	}
	ev.Str("outcome", string(report.Outcome)).
		Int("created", report.Result.Created).
		Int("groups", report.Result.Groups).
		Msg("Auto-batch evaluated")
}
