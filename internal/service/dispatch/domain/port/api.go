package port

import (
	"context"

	"dispatch/internal/service/dispatch/domain"
)

// ListQuery 是列表接口的分页与过滤参数
type ListQuery struct {
	Page   int
	Limit  int
	Search string
	Status string
}

// Page 是规范化后的一页结果，上游多种响应形态在适配器里就被抹平
type Page[T any] struct {
	Items      []T
	TotalPages int
}

// OrderCatalog 是上游订单接口的出站端口。
type OrderCatalog interface {
	// ListOrders 对应 GET /orders
	ListOrders(ctx context.Context, q ListQuery) (Page[domain.Order], error)

	// UpdateOrderStatus 对应 PUT /orders/{id}/status
	UpdateOrderStatus(ctx context.Context, orderID, status string) error
}

// ShipmentGateway 是上游 shipment 接口的出站端口。
// 状态级联由上游完成，这里的调用方只负责事后重新拉取。
type ShipmentGateway interface {
	// ListShipments 对应 GET /shipments
	ListShipments(ctx context.Context, q ListQuery) (Page[domain.Shipment], error)

	// GetShipment 对应 GET /shipments/{id}
	GetShipment(ctx context.Context, shipmentID string) (*domain.Shipment, error)

	// CreateFromOrders 对应 POST /shipments/create-from-orders，一次创建一个 shipment
	CreateFromOrders(ctx context.Context, orderIDs []string) (*domain.Shipment, error)

	// UpdateShipment 对应 PUT /shipments/{id}
	UpdateShipment(ctx context.Context, shipmentID string, update domain.StatusUpdate) error

	// BulkUpdateStatus 对应 PUT /shipments/bulk/status，一次调用更新全部
	BulkUpdateStatus(ctx context.Context, shipmentIDs []string, update domain.StatusUpdate) error
}
