// internal/service/dispatch/application/dto.go
package application

import "dispatch/internal/service/dispatch/domain/port"

// ManualBatchRequest 是手动分批用例的输入：管理员当前看到的那一页订单，
// 可选地只取其中几张订单
type ManualBatchRequest struct {
	Query    port.ListQuery
	OrderIDs []string
}

// ManualBatchResponse 是手动分批的输出，对应一条带计数的 toast
type ManualBatchResponse struct {
	Groups      int      `json:"groups"`
	Created     int      `json:"created"`
	Failed      int      `json:"failed"`
	ShipmentIDs []string `json:"shipmentIds,omitempty"`
	Message     string   `json:"message"`
}

// StatusUpdateRequest 是单个 shipment 的状态变更请求体
type StatusUpdateRequest struct {
	Status   string `json:"status"`
	Notes    string `json:"notes,omitempty"`
	Location string `json:"location,omitempty"`
}

// BulkStatusRequest 是批量状态变更请求体，字段名与上游一致
type BulkStatusRequest struct {
	ShipmentIDs []string `json:"shipmentIds"`
	Status      string   `json:"status"`
	Notes       string   `json:"notes,omitempty"`
	Location    string   `json:"location,omitempty"`
}

// OrderStatusRequest 是订单状态变更请求体
type OrderStatusRequest struct {
	Status string `json:"status"`
}
