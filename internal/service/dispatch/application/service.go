// internal/service/dispatch/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dispatch/internal/pkg/logger"
	"dispatch/internal/service/dispatch/domain"
	"dispatch/internal/service/dispatch/domain/port"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Refresher 能够请求尽快重新拉取订单列表（由轮询器实现）
type Refresher interface {
	Kick()
}

// Options 是应用服务的可调参数
type Options struct {
	PageSize int
	MaxPages int
}

// DispatchApplicationService 只关注业务流程编排：分批、状态变更与事后重新拉取。
type DispatchApplicationService struct {
	orders    port.OrderCatalog
	shipments port.ShipmentGateway
	grouper   *BatchGrouper
	trigger   *AutoBatchTrigger
	notices   port.NoticePublisher
	runs      domain.BatchRunRepository
	tracer    trace.Tracer
	opts      Options

	refetch   singleflight.Group
	mu        sync.RWMutex
	refresher Refresher
}

func NewDispatchApplicationService(orders port.OrderCatalog, shipments port.ShipmentGateway, grouper *BatchGrouper, trigger *AutoBatchTrigger, notices port.NoticePublisher, runs domain.BatchRunRepository, tracer trace.Tracer, opts Options) *DispatchApplicationService {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}
	return &DispatchApplicationService{
		orders: orders, shipments: shipments,
		grouper: grouper, trigger: trigger,
		notices: notices, runs: runs,
		tracer: tracer, opts: opts,
	}
}

// SetRefresher 注入轮询器；在组装根里调用
func (s *DispatchApplicationService) SetRefresher(r Refresher) {
	s.mu.Lock()
	s.refresher = r
	s.mu.Unlock()
}

func (s *DispatchApplicationService) kick() {
	s.mu.RLock()
	r := s.refresher
	s.mu.RUnlock()
	if r != nil {
		r.Kick()
	}
}

// LoadWorkingSet 拉取订单工作集：先取第一页得到总页数，其余页并发拉取
func (s *DispatchApplicationService) LoadWorkingSet(ctx context.Context, q port.ListQuery) ([]domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.LoadWorkingSet")
	defer span.End()

	if q.Limit <= 0 {
		q.Limit = s.opts.PageSize
	}
	q.Page = 1
	first, err := s.orders.ListOrders(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list orders failed")
		return nil, err
	}

	pages := first.TotalPages
	if pages > s.opts.MaxPages {
		logger.Ctx(ctx).Warn().Int("total_pages", pages).Int("max_pages", s.opts.MaxPages).Msg("order list truncated")
		pages = s.opts.MaxPages
	}
	if pages <= 1 {
		return first.Items, nil
	}

	rest := make([][]domain.Order, pages-1)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for p := 2; p <= pages; p++ {
		eg.Go(func() error {
			pq := q
			pq.Page = p
			page, err := s.orders.ListOrders(egCtx, pq)
			if err != nil {
				return fmt.Errorf("page %d: %w", p, err)
			}
			rest[p-2] = page.Items
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list orders failed")
		return nil, err
	}

	all := first.Items
	for _, items := range rest {
		all = append(all, items...)
	}
	span.SetAttributes(attribute.Int("orders.loaded", len(all)), attribute.Int("orders.pages", pages))
	return all, nil
}

// RefreshAndTrigger 重新拉取订单列表并交给 auto-batch 触发器
func (s *DispatchApplicationService) RefreshAndTrigger(ctx context.Context) (TriggerReport, error) {
	orders, err := s.LoadWorkingSet(ctx, port.ListQuery{})
	if err != nil {
		return TriggerReport{}, err
	}
	report := s.trigger.Evaluate(ctx, orders)
	if report.Outcome == OutcomeBatched {
		// 新建的 shipment 改变了订单集合，立即再拉一次
		s.kick()
	}
	return report, nil
}

// RunManualBatch 对管理员当前看到的订单执行一次分批
func (s *DispatchApplicationService) RunManualBatch(ctx context.Context, req *ManualBatchRequest) (*ManualBatchResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.RunManualBatch")
	defer span.End()

	var (
		result  domain.BatchResult
		started time.Time
	)
	err := s.exclusive(ctx, func(ctx context.Context) error {
		q := req.Query
		if q.Page <= 0 {
			q.Page = 1
		}
		if q.Limit <= 0 {
			q.Limit = s.opts.PageSize
		}
		page, err := s.orders.ListOrders(ctx, q)
		if err != nil {
			return err
		}
		orders := page.Items
		if len(req.OrderIDs) > 0 {
			orders = selectOrders(orders, req.OrderIDs)
		}
		started = time.Now().UTC()
		result, err = s.grouper.CreateBatches(ctx, orders, domain.TriggerManual)
		return err
	})
	switch {
	case errors.Is(err, domain.ErrNoEligibleOrders):
		return nil, err
	case errors.Is(err, domain.ErrBatchInProgress):
		logger.Ctx(ctx).Info().Msg("manual batch rejected, another batch is in flight")
		return nil, err
	case err != nil && started.IsZero():
		span.RecordError(err)
		return nil, err
	}
	recordRun(ctx, s.runs, newRun(domain.TriggerManual, "", started, result, err))

	resp := &ManualBatchResponse{
		Groups:      result.Groups,
		Created:     result.Created,
		Failed:      result.Failed(),
		ShipmentIDs: result.ShipmentIDs,
		Message:     result.Summary(),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "manual batch failed")
		publishNotice(ctx, s.notices, newNotice(domain.NoticeManualBatchFailed,
			"Failed to create shipments: "+result.Summary(), 0, result.Groups))
		return resp, err
	}

	publishNotice(ctx, s.notices, newNotice(domain.NoticeManualBatchSucceeded,
		"Batched orders: "+result.Summary(), result.Created, result.Groups))
	s.kick()
	return resp, nil
}

// ListShipments 返回上游的 shipment 列表，供管理端浏览
func (s *DispatchApplicationService) ListShipments(ctx context.Context, q port.ListQuery) (port.Page[domain.Shipment], error) {
	ctx, span := s.tracer.Start(ctx, "app.ListShipments")
	defer span.End()

	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = s.opts.PageSize
	}
	page, err := s.shipments.ListShipments(ctx, q)
	if err != nil {
		span.RecordError(err)
		return port.Page[domain.Shipment]{}, err
	}
	span.SetAttributes(attribute.Int("shipments.listed", len(page.Items)))
	return page, nil
}

// exclusive 与自动分批共用同一个进行中保护
func (s *DispatchApplicationService) exclusive(ctx context.Context, fn func(context.Context) error) error {
	if s.trigger == nil {
		return fn(ctx)
	}
	return s.trigger.RunExclusive(ctx, fn)
}

// UpdateShipmentStatus 更新单个 shipment，级联由上游完成；随后重新拉取该 shipment
func (s *DispatchApplicationService) UpdateShipmentStatus(ctx context.Context, shipmentID string, req *StatusUpdateRequest) (*domain.Shipment, error) {
	ctx, span := s.tracer.Start(ctx, "app.UpdateShipmentStatus", trace.WithAttributes(
		attribute.String("shipment.id", shipmentID),
		attribute.String("shipment.status", req.Status),
	))
	defer span.End()

	if strings.TrimSpace(shipmentID) == "" || strings.TrimSpace(req.Status) == "" {
		return nil, fmt.Errorf("%w: shipment id and status are required", domain.ErrInvalidRequest)
	}

	update := domain.StatusUpdate{Status: req.Status, Notes: req.Notes, Location: req.Location}
	if err := s.shipments.UpdateShipment(ctx, shipmentID, update); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update shipment failed")
		return nil, err
	}
	publishNotice(ctx, s.notices, newNotice(domain.NoticeStatusUpdated,
		fmt.Sprintf("Shipment %s set to %s", shipmentID, req.Status), 1, 1))
	s.kick()

	return s.RefetchShipment(ctx, shipmentID)
}

// BulkUpdateStatus 用一次上游调用更新全部 shipment，不做乐观的本地更新
func (s *DispatchApplicationService) BulkUpdateStatus(ctx context.Context, req *BulkStatusRequest) error {
	ctx, span := s.tracer.Start(ctx, "app.BulkUpdateStatus", trace.WithAttributes(
		attribute.Int("shipments", len(req.ShipmentIDs)),
		attribute.String("shipment.status", req.Status),
	))
	defer span.End()

	ids := dedupeIDs(req.ShipmentIDs)
	if len(ids) == 0 || strings.TrimSpace(req.Status) == "" {
		return fmt.Errorf("%w: shipmentIds and status are required", domain.ErrInvalidRequest)
	}

	update := domain.StatusUpdate{Status: req.Status, Notes: req.Notes, Location: req.Location}
	if err := s.shipments.BulkUpdateStatus(ctx, ids, update); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bulk update failed")
		return err
	}
	publishNotice(ctx, s.notices, newNotice(domain.NoticeStatusUpdated,
		fmt.Sprintf("%d shipments set to %s", len(ids), req.Status), len(ids), len(ids)))
	s.kick()
	return nil
}

// UpdateOrderStatus 更新单个订单的状态
func (s *DispatchApplicationService) UpdateOrderStatus(ctx context.Context, orderID string, req *OrderStatusRequest) error {
	ctx, span := s.tracer.Start(ctx, "app.UpdateOrderStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer span.End()

	if strings.TrimSpace(orderID) == "" || strings.TrimSpace(req.Status) == "" {
		return fmt.Errorf("%w: order id and status are required", domain.ErrInvalidRequest)
	}
	if err := s.orders.UpdateOrderStatus(ctx, orderID, req.Status); err != nil {
		span.RecordError(err)
		return err
	}
	s.kick()
	return nil
}

// RefetchShipment 重新拉取 shipment；同一 shipment 的并发拉取会被合并
func (s *DispatchApplicationService) RefetchShipment(ctx context.Context, shipmentID string) (*domain.Shipment, error) {
	ch := s.refetch.DoChan(shipmentID, func() (interface{}, error) {
		// 共享的拉取不随任何单个调用方取消
		return s.shipments.GetShipment(context.WithoutCancel(ctx), shipmentID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Shipment), nil
	}
}

// HandleShipmentStatusChanged 处理上游推送的状态变更事件：只重新拉取，不在本地级联
func (s *DispatchApplicationService) HandleShipmentStatusChanged(ctx context.Context, event *domain.ShipmentStatusChanged) error {
	ctx, span := s.tracer.Start(ctx, "app.HandleShipmentStatusChanged", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	if event.ShipmentID == "" {
		return fmt.Errorf("%w: event without shipmentId", domain.ErrInvalidRequest)
	}
	span.SetAttributes(attribute.String("shipment.id", event.ShipmentID))

	shipment, err := s.RefetchShipment(ctx, event.ShipmentID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !domain.StatusEqual(shipment.Status, event.Status) {
		logger.Ctx(ctx).Info().
			Str("shipment_id", shipment.ID).
			Str("event_status", event.Status).
			Str("current_status", shipment.Status).
			Msg("shipment status moved on since event")
	}
	s.kick()
	return nil
}

// ResetAutoBatch 清空 auto-batch 签名
func (s *DispatchApplicationService) ResetAutoBatch(ctx context.Context) error {
	return s.trigger.Reset(ctx)
}

// RecentRuns 返回最近的分批流水
func (s *DispatchApplicationService) RecentRuns(ctx context.Context, limit int) ([]*domain.BatchRun, error) {
	if s.runs == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.runs.ListRecent(ctx, limit)
}

func selectOrders(orders []domain.Order, ids []string) []domain.Order {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	selected := make([]domain.Order, 0, len(ids))
	for _, o := range orders {
		if _, ok := wanted[o.ID]; ok {
			selected = append(selected, o)
		}
	}
	return selected
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
