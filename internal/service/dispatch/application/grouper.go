// internal/service/dispatch/application/grouper.go
package application

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"dispatch/internal/pkg/logger"
	"dispatch/internal/pkg/metrics"
	"dispatch/internal/service/dispatch/domain"
	"dispatch/internal/service/dispatch/domain/port"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// BatchGrouper 把未成批的订单按出发日分组，并为每组请求创建一个 shipment。
type BatchGrouper struct {
	shipments   port.ShipmentGateway
	filter      port.OrderFilter
	concurrency int
	tracer      trace.Tracer
}

// NewBatchGrouper 创建分组器；filter 可为 nil，concurrency<1 时按 1 处理
func NewBatchGrouper(shipments port.ShipmentGateway, filter port.OrderFilter, concurrency int, tracer trace.Tracer) *BatchGrouper {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchGrouper{shipments: shipments, filter: filter, concurrency: concurrency, tracer: tracer}
}

// Eligible 返回有出发日期、没有 shipment 且通过过滤规则的订单，保持输入顺序
func (g *BatchGrouper) Eligible(ctx context.Context, orders []domain.Order) []domain.Order {
	eligible := make([]domain.Order, 0, len(orders))
	for i := range orders {
		o := &orders[i]
		if !o.IsUnbatched() {
			continue
		}
		if g.filter != nil {
			ok, err := g.filter.Match(o)
			if err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("order_id", o.ID).Msg("eligibility rule failed, order skipped")
				continue
			}
			if !ok {
				continue
			}
		}
		eligible = append(eligible, *o)
	}
	return eligible
}

// GroupByDepartureDay 按 UTC 日历日分组，分组按日期升序，组内保持输入顺序。
// 没有出发日期或已成批的订单不会出现在任何分组中。
func GroupByDepartureDay(orders []domain.Order) []domain.BatchGroup {
	byDay := make(map[string][]string)
	for i := range orders {
		o := &orders[i]
		if !o.IsUnbatched() {
			continue
		}
		day := o.DepartureDay()
		byDay[day] = append(byDay[day], o.ID)
	}

	groups := make([]domain.BatchGroup, 0, len(byDay))
	for day, ids := range byDay {
		groups = append(groups, domain.BatchGroup{Day: day, OrderIDs: ids})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Day < groups[j].Day })
	return groups
}

// CreateBatches 为每个分组独立地创建 shipment。
// 单组失败不影响其他分组；全部失败时返回 ErrBatchingFailed，没有分组时返回 ErrNoEligibleOrders。
func (g *BatchGrouper) CreateBatches(ctx context.Context, orders []domain.Order, trigger domain.BatchTrigger) (domain.BatchResult, error) {
	ctx, span := g.tracer.Start(ctx, "app.CreateBatches", trace.WithAttributes(
		attribute.String("batch.trigger", string(trigger)),
		attribute.Int("orders.loaded", len(orders)),
	))
	defer span.End()

	groups := GroupByDepartureDay(g.Eligible(ctx, orders))
	result := domain.BatchResult{Groups: len(groups)}
	if len(groups) == 0 {
		span.AddEvent("No eligible orders, backend not contacted.")
		return result, domain.ErrNoEligibleOrders
	}

	type outcome struct {
		shipmentID string
		err        error
	}
	outcomes := make([]outcome, len(groups))

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for i, group := range groups {
		eg.Go(func() error {
			shipment, err := g.shipments.CreateFromOrders(ctx, group.OrderIDs)
			if err != nil {
				logger.Ctx(ctx).Error().Err(err).
					Str("day", group.Day).
					Strs("order_ids", group.OrderIDs).
					Msg("failed to create shipment for group")
				outcomes[i] = outcome{err: err}
				return nil
			}
			id := ""
			if shipment != nil {
				id = shipment.ID
			}
			outcomes[i] = outcome{shipmentID: id}
			return nil
		})
	}
	_ = eg.Wait()

	var errs []error
	for i, o := range outcomes {
		if o.err != nil {
			result.Failures = append(result.Failures, domain.GroupFailure{
				Day:      groups[i].Day,
				OrderIDs: groups[i].OrderIDs,
				Err:      o.err,
			})
			errs = append(errs, fmt.Errorf("group %s: %w", groups[i].Day, o.err))
			continue
		}
		result.Created++
		if o.shipmentID != "" {
			result.ShipmentIDs = append(result.ShipmentIDs, o.shipmentID)
		}
	}

	metrics.ShipmentsCreated.WithLabelValues(string(trigger)).Add(float64(result.Created))
	metrics.ShipmentGroupFailures.WithLabelValues(string(trigger)).Add(float64(result.Failed()))
	span.SetAttributes(
		attribute.Int("batch.groups", result.Groups),
		attribute.Int("batch.created", result.Created),
	)
	logger.Ctx(ctx).Info().
		Str("trigger", string(trigger)).
		Int("groups", result.Groups).
		Int("created", result.Created).
		Msg(result.Summary())

	if result.Created == 0 {
		err := fmt.Errorf("%w: %w", domain.ErrBatchingFailed, errors.Join(errs...))
		span.RecordError(err)
		span.SetStatus(codes.Error, "all groups failed")
		return result, err
	}
	return result, nil
}
