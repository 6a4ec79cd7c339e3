// internal/service/dispatch/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"dispatch/internal/pkg/logger"
	"dispatch/internal/service/dispatch/application"
	"dispatch/internal/service/dispatch/domain"
	"dispatch/internal/service/dispatch/domain/port"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "dispatch-service"

// DispatchService 是 HTTP 处理器依赖的应用服务
type DispatchService interface {
	RunManualBatch(ctx context.Context, req *application.ManualBatchRequest) (*application.ManualBatchResponse, error)
	ResetAutoBatch(ctx context.Context) error
	ListShipments(ctx context.Context, q port.ListQuery) (port.Page[domain.Shipment], error)
	RecentRuns(ctx context.Context, limit int) ([]*domain.BatchRun, error)
	UpdateShipmentStatus(ctx context.Context, shipmentID string, req *application.StatusUpdateRequest) (*domain.Shipment, error)
	BulkUpdateStatus(ctx context.Context, req *application.BulkStatusRequest) error
	UpdateOrderStatus(ctx context.Context, orderID string, req *application.OrderStatusRequest) error
}

// DispatchHandler 封装了 dispatch 服务的管理端 HTTP 处理器
type DispatchHandler struct {
	service DispatchService
	hub     *NoticeHub
	tracer  trace.Tracer
}

// NewDispatchHandler 创建一个新的 HTTP 处理器实例；hub 为 nil 时不注册 WebSocket 路由
func NewDispatchHandler(service DispatchService, hub *NoticeHub) *DispatchHandler {
	return &DispatchHandler{service: service, hub: hub, tracer: otel.Tracer(serviceName)}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *DispatchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /batches", h.manualBatchHandler)
	mux.HandleFunc("POST /batches/auto/reset", h.resetAutoBatchHandler)
	mux.HandleFunc("GET /batches/runs", h.recentRunsHandler)
	mux.HandleFunc("GET /shipments", h.listShipmentsHandler)
	mux.HandleFunc("PUT /shipments/bulk/status", h.bulkStatusHandler)
	mux.HandleFunc("PUT /shipments/{id}/status", h.shipmentStatusHandler)
	mux.HandleFunc("PUT /orders/{id}/status", h.orderStatusHandler)
	if h.hub != nil {
		mux.HandleFunc("GET /ws/notices", h.hub.ServeWS)
	}
}

// start 恢复上游传来的追踪上下文，开启一个 span 并把 trace_id 绑定到 logger
func (h *DispatchHandler) start(r *http.Request, name string) (context.Context, trace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
	return logger.WithTrace(ctx), span
}

type manualBatchBody struct {
	OrderIDs []string `json:"orderIds"`
}

func (h *DispatchHandler) manualBatchHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.ManualBatch")
	defer span.End()

	var body manualBatchBody
	if err := decodeOptionalBody(r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}

	q := r.URL.Query()
	req := &application.ManualBatchRequest{
		Query: port.ListQuery{
			Page:   atoiOr(q.Get("page"), 1),
			Limit:  atoiOr(q.Get("limit"), 0),
			Search: q.Get("search"),
			Status: q.Get("status"),
		},
		OrderIDs: body.OrderIDs,
	}

	resp, err := h.service.RunManualBatch(ctx, req)
	switch {
	case errors.Is(err, domain.ErrNoEligibleOrders):
		writeJSON(w, http.StatusOK, &application.ManualBatchResponse{Message: "No eligible orders to batch"})
	case err != nil && resp != nil:
		// 全部分组失败：仍然带上计数
		logger.Ctx(ctx).Error().Err(err).Msg("Manual batch failed")
		writeJSON(w, http.StatusBadGateway, resp)
	case err != nil:
		writeError(ctx, w, err)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *DispatchHandler) resetAutoBatchHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.ResetAutoBatch")
	defer span.End()

	if err := h.service.ResetAutoBatch(ctx); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchRunView struct {
	ID         string `json:"id"`
	Trigger    string `json:"trigger"`
	Signature  string `json:"signature,omitempty"`
	Groups     int    `json:"groups"`
	Created    int    `json:"created"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt"`
}

func (h *DispatchHandler) recentRunsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.RecentRuns")
	defer span.End()

	runs, err := h.service.RecentRuns(ctx, atoiOr(r.URL.Query().Get("limit"), 0))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	views := make([]batchRunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, batchRunView{
			ID:         run.ID,
			Trigger:    string(run.Trigger),
			Signature:  run.Signature,
			Groups:     run.Groups,
			Created:    run.Created,
			Failed:     run.Failed,
			Error:      run.Error,
			StartedAt:  run.StartedAt.Format(time.RFC3339),
			FinishedAt: run.FinishedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": views})
}

func (h *DispatchHandler) listShipmentsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.ListShipments")
	defer span.End()

	q := r.URL.Query()
	page, err := h.service.ListShipments(ctx, port.ListQuery{
		Page:   atoiOr(q.Get("page"), 1),
		Limit:  atoiOr(q.Get("limit"), 0),
		Search: q.Get("search"),
		Status: q.Get("status"),
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	views := make([]shipmentView, 0, len(page.Items))
	for i := range page.Items {
		views = append(views, toShipmentView(&page.Items[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"shipments": views, "totalPages": page.TotalPages})
}

func (h *DispatchHandler) shipmentStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.UpdateShipmentStatus")
	defer span.End()

	var req application.StatusUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	shipment, err := h.service.UpdateShipmentStatus(ctx, r.PathValue("id"), &req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentView(shipment))
}

func (h *DispatchHandler) bulkStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.BulkUpdateStatus")
	defer span.End()

	var req application.BulkStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.service.BulkUpdateStatus(ctx, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DispatchHandler) orderStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.UpdateOrderStatus")
	defer span.End()

	var req application.OrderStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.service.UpdateOrderStatus(ctx, r.PathValue("id"), &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type historyView struct {
	Status   string `json:"status"`
	Location string `json:"location,omitempty"`
	Date     string `json:"date"`
	Notes    string `json:"notes,omitempty"`
}

type shipmentView struct {
	ID            string        `json:"id"`
	BatchNumber   string        `json:"batchNumber,omitempty"`
	DepartureDate string        `json:"departureDate,omitempty"`
	OrderIDs      []string      `json:"orderIds"`
	Status        string        `json:"status"`
	History       []historyView `json:"history,omitempty"`
}

func toShipmentView(s *domain.Shipment) shipmentView {
	v := shipmentView{ID: s.ID, BatchNumber: s.BatchNumber, OrderIDs: s.OrderIDs, Status: s.Status}
	if v.OrderIDs == nil {
		v.OrderIDs = []string{}
	}
	if s.DepartureDate != nil {
		v.DepartureDate = s.DepartureDate.UTC().Format(domain.DayLayout)
	}
	for _, h := range s.History {
		v.History = append(v.History, historyView{
			Status:   h.Status,
			Location: h.Location,
			Date:     h.Date.UTC().Format(time.RFC3339),
			Notes:    h.Notes,
		})
	}
	return v
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError 把领域错误映射为 HTTP 状态码
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	var apiErr *domain.APIError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrShipmentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrBatchInProgress):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled):
		status = 499
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		status = http.StatusNotFound
	}
	if status >= http.StatusInternalServerError {
		logger.Ctx(ctx).Error().Err(err).Int("status", status).Msg("Request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	return nil
}

// decodeOptionalBody 允许空请求体
func decodeOptionalBody(r *http.Request, v any) error {
	err := decodeBody(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
