// internal/service/dispatch/domain/order.go
package domain

import "time"

// DayLayout 是分组键的格式：UTC 日历日
const DayLayout = "2006-01-02"

// LineItem 是订单中的一行货物
type LineItem struct {
	Description string
	Quantity    int
}

// Order 是从上游 API 读取的订单快照。本服务从不在本地修改订单，只重新拉取。
type Order struct {
	ID            string
	CustomerID    string
	Items         []LineItem
	DepartureDate *time.Time
	// ShipmentID 为空表示尚未成批
	ShipmentID string
	Status     string
	BranchID   string
}

// IsBatched 报告订单是否已归属某个 shipment
func (o *Order) IsBatched() bool {
	return o.ShipmentID != ""
}

// IsUnbatched 报告订单是否可参与分批：有出发日期且尚未成批
func (o *Order) IsUnbatched() bool {
	return o.DepartureDate != nil && !o.IsBatched()
}

// DepartureDay 返回分组键；没有出发日期时返回空串
func (o *Order) DepartureDay() string {
	if o.DepartureDate == nil {
		return ""
	}
	return o.DepartureDate.UTC().Format(DayLayout)
}
