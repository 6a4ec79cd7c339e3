// internal/service/dispatch/infrastructure/adapter/order_http_adapter.go
package adapter

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"dispatch/internal/pkg/httpclient"
	"dispatch/internal/pkg/logger"
	"dispatch/internal/service/dispatch/domain"
	"dispatch/internal/service/dispatch/domain/port"
)

// embeddedShipmentID 标记引用了 shipment 但上游没给出其 id 的订单
const embeddedShipmentID = "embedded"

type lineItemDTO struct {
	Description string `json:"description"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
}

type orderDTO struct {
	ID            string        `json:"id"`
	MgoID         string        `json:"_id"`
	CustomerID    string        `json:"customerId"`
	Customer      ref           `json:"customer"`
	Items         []lineItemDTO `json:"items"`
	DepartureDate flexTime      `json:"departureDate"`
	ShipmentID    string        `json:"shipmentId"`
	Shipment      ref           `json:"shipment"`
	Status        string        `json:"status"`
	BranchID      string        `json:"branchId"`
	Branch        ref           `json:"branch"`
}

func (d *orderDTO) toDomain() domain.Order {
	o := domain.Order{
		ID:            firstNonEmpty(d.ID, d.MgoID),
		CustomerID:    firstNonEmpty(d.CustomerID, d.Customer.ID),
		DepartureDate: d.DepartureDate.Time,
		ShipmentID:    firstNonEmpty(d.ShipmentID, d.Shipment.ID),
		Status:        d.Status,
		BranchID:      firstNonEmpty(d.BranchID, d.Branch.ID),
	}
	// 嵌入的 shipment 对象没有 id 时仍视为已成批
	if o.ShipmentID == "" && d.Shipment.Present {
		o.ShipmentID = embeddedShipmentID
	}
	for _, it := range d.Items {
		o.Items = append(o.Items, domain.LineItem{
			Description: firstNonEmpty(it.Description, it.Name),
			Quantity:    it.Quantity,
		})
	}
	return o
}

// OrderHTTPAdapter 通过 REST API 实现 port.OrderCatalog
type OrderHTTPAdapter struct {
	client *httpclient.Client
}

// NewOrderHTTPAdapter 创建订单适配器
func NewOrderHTTPAdapter(client *httpclient.Client) *OrderHTTPAdapter {
	return &OrderHTTPAdapter{client: client}
}

var _ port.OrderCatalog = (*OrderHTTPAdapter)(nil)

func (a *OrderHTTPAdapter) ListOrders(ctx context.Context, q port.ListQuery) (port.Page[domain.Order], error) {
	const path = "/orders"
	resp, err := a.client.Get(ctx, path, listParams(q))
	if err != nil {
		return port.Page[domain.Order]{}, transportError(err, http.MethodGet, path)
	}
	data, err := decodeEnvelope(resp)
	if err != nil {
		return port.Page[domain.Order]{}, err
	}
	dtos, totalPages, err := decodeList[orderDTO](data, "orders")
	if err != nil {
		return port.Page[domain.Order]{}, err
	}

	page := port.Page[domain.Order]{Items: make([]domain.Order, 0, len(dtos)), TotalPages: totalPages}
	for i := range dtos {
		o := dtos[i].toDomain()
		if dtos[i].DepartureDate.Invalid {
			logger.Ctx(ctx).Warn().
				Str("order_id", o.ID).
				Str("departure_date", dtos[i].DepartureDate.Raw).
				Msg("Unparseable departure date, order treated as undated")
		}
		page.Items = append(page.Items, o)
	}
	return page, nil
}

func (a *OrderHTTPAdapter) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	path := "/orders/" + url.PathEscape(orderID) + "/status"
	resp, err := a.client.Put(ctx, path, map[string]string{"status": status})
	if err != nil {
		return transportError(err, http.MethodPut, path)
	}
	_, err = decodeEnvelope(resp)
	return err
}

func listParams(q port.ListQuery) url.Values {
	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Search != "" {
		params.Set("search", q.Search)
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	return params
}
