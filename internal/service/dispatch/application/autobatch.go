// internal/service/dispatch/application/autobatch.go
package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dispatch/internal/pkg/logger"
	"dispatch/internal/pkg/metrics"
	"dispatch/internal/service/dispatch/domain"
	"dispatch/internal/service/dispatch/domain/port"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TriggerOutcome 是一次触发器评估的结果
type TriggerOutcome string

const (
	// OutcomeReset 没有未成批订单，签名已清空
	OutcomeReset TriggerOutcome = "reset"
	// OutcomeUnchanged 与上次处理的集合相同，什么也不做
	OutcomeUnchanged TriggerOutcome = "unchanged"
	// OutcomeBusy 已有分批在进行（本进程或其他实例）
	OutcomeBusy    TriggerOutcome = "busy"
	OutcomeBatched TriggerOutcome = "batched"
	OutcomeFailed  TriggerOutcome = "failed"
)

// TriggerReport 描述一次评估做了什么
type TriggerReport struct {
	Outcome   TriggerOutcome
	Signature string
	Result    domain.BatchResult
	Err       error
}

// Signature 返回未成批订单 ID 排序后以 "|" 连接的字符串
func Signature(orders []domain.Order) string {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// AutoBatchTrigger 在订单列表每次刷新后自动分批，并用签名避免对同一集合重复提交。
type AutoBatchTrigger struct {
	grouper *BatchGrouper
	store   port.SignatureStore
	lock    port.BatchLock
	notices port.NoticePublisher
	runs    domain.BatchRunRepository
	tracer  trace.Tracer

	mu         sync.Mutex
	inProgress bool
}

// NewAutoBatchTrigger 创建触发器；lock、notices、runs 均可为 nil
func NewAutoBatchTrigger(grouper *BatchGrouper, store port.SignatureStore, lock port.BatchLock, notices port.NoticePublisher, runs domain.BatchRunRepository, tracer trace.Tracer) *AutoBatchTrigger {
	return &AutoBatchTrigger{
		grouper: grouper,
		store:   store,
		lock:    lock,
		notices: notices,
		runs:    runs,
		tracer:  tracer,
	}
}

// InProgress 报告当前是否有分批在进行
func (t *AutoBatchTrigger) InProgress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inProgress
}

// Reset 清空已保存的签名，下一次刷新会重新尝试
func (t *AutoBatchTrigger) Reset(ctx context.Context) error {
	return t.store.Clear(ctx)
}

// RunExclusive 在分批槽位内执行 fn；已有分批在进行时返回 domain.ErrBatchInProgress
func (t *AutoBatchTrigger) RunExclusive(ctx context.Context, fn func(context.Context) error) error {
	t.mu.Lock()
	end, err := t.beginLocked(ctx)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	defer end()
	return fn(ctx)
}

// beginLocked 占用进程内标志和可选的跨实例锁，调用方须持有 t.mu
func (t *AutoBatchTrigger) beginLocked(ctx context.Context) (func(), error) {
	if t.inProgress {
		return nil, domain.ErrBatchInProgress
	}
	var release func()
	if t.lock != nil {
		r, err := t.lock.TryAcquire(ctx)
		if err != nil {
			if errors.Is(err, port.ErrLockHeld) {
				return nil, fmt.Errorf("%w: %w", domain.ErrBatchInProgress, err)
			}
			return nil, fmt.Errorf("acquire batch lock: %w", err)
		}
		release = r
	}
	t.inProgress = true
	return func() {
		if release != nil {
			release()
		}
		t.mu.Lock()
		t.inProgress = false
		t.mu.Unlock()
	}, nil
}

// Evaluate 针对最新加载的订单列表运行一次触发器
func (t *AutoBatchTrigger) Evaluate(ctx context.Context, orders []domain.Order) TriggerReport {
	ctx, span := t.tracer.Start(ctx, "app.AutoBatchTrigger.Evaluate", trace.WithAttributes(
		attribute.Int("orders.loaded", len(orders)),
	))
	defer span.End()

	report := t.evaluate(ctx, orders)
	metrics.TriggerOutcomes.WithLabelValues(string(report.Outcome)).Inc()
	span.SetAttributes(attribute.String("autobatch.outcome", string(report.Outcome)))
	if report.Err != nil {
		span.RecordError(report.Err)
		span.SetStatus(codes.Error, string(report.Outcome))
	}
	return report
}

func (t *AutoBatchTrigger) evaluate(ctx context.Context, orders []domain.Order) TriggerReport {
	log := logger.Ctx(ctx)

	t.mu.Lock()
	if t.inProgress {
		t.mu.Unlock()
		return TriggerReport{Outcome: OutcomeBusy}
	}

	unbatched := t.grouper.Eligible(ctx, orders)
	if len(unbatched) == 0 {
		t.mu.Unlock()
		if err := t.store.Clear(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to clear auto-batch signature")
		}
		return TriggerReport{Outcome: OutcomeReset}
	}

	signature := Signature(unbatched)
	last, err := t.store.Load(ctx)
	if err != nil {
		t.mu.Unlock()
		// 读不到上次签名时不冒险提交，避免重复创建 shipment
		return TriggerReport{Outcome: OutcomeFailed, Signature: signature, Err: fmt.Errorf("load signature: %w", err)}
	}
	if signature == "" || signature == last {
		t.mu.Unlock()
		return TriggerReport{Outcome: OutcomeUnchanged, Signature: signature}
	}

	end, err := t.beginLocked(ctx)
	t.mu.Unlock()
	if err != nil {
		if errors.Is(err, domain.ErrBatchInProgress) {
			return TriggerReport{Outcome: OutcomeBusy, Signature: signature}
		}
		return TriggerReport{Outcome: OutcomeFailed, Signature: signature, Err: err}
	}
	defer end()

	if t.lock != nil {
		// 拿到锁之前其他实例可能已经处理过同一集合
		current, err := t.store.Load(ctx)
		if err != nil {
			return TriggerReport{Outcome: OutcomeFailed, Signature: signature, Err: fmt.Errorf("reload signature: %w", err)}
		}
		if current == signature {
			return TriggerReport{Outcome: OutcomeUnchanged, Signature: signature}
		}
	}

	if err := t.store.Save(ctx, signature); err != nil {
		log.Warn().Err(err).Msg("failed to persist auto-batch signature")
	}

	started := time.Now().UTC()
	result, err := t.grouper.CreateBatches(ctx, unbatched, domain.TriggerAuto)
	recordRun(ctx, t.runs, newRun(domain.TriggerAuto, signature, started, result, err))

	if err != nil {
		// 失败不粘滞：清掉签名，下次刷新重试
		if clearErr := t.store.ClearIf(ctx, signature); clearErr != nil {
			log.Warn().Err(clearErr).Msg("failed to reset auto-batch signature after failure")
		}
		log.Error().Err(err).Int("orders", len(unbatched)).Msg("auto-batch failed")
		publishNotice(ctx, t.notices, newNotice(domain.NoticeAutoBatchFailed,
			"Auto-batch failed: "+err.Error(), 0, result.Groups))
		return TriggerReport{Outcome: OutcomeFailed, Signature: signature, Result: result, Err: err}
	}

	log.Info().Int("created", result.Created).Int("groups", result.Groups).Msg("auto-batched unbatched orders")
	publishNotice(ctx, t.notices, newNotice(domain.NoticeAutoBatched,
		fmt.Sprintf("Auto-batched orders: %s", result.Summary()), result.Created, result.Groups))
	return TriggerReport{Outcome: OutcomeBatched, Signature: signature, Result: result}
}
