// internal/service/dispatch/infrastructure/adapter/shipment_http_adapter.go
package adapter

import (
	"context"
	"net/http"
	"net/url"

	"dispatch/internal/pkg/httpclient"
	"dispatch/internal/pkg/logger"
	"dispatch/internal/service/dispatch/domain"
	"dispatch/internal/service/dispatch/domain/port"

	"github.com/pkg/errors"
)

type historyDTO struct {
	Status   string   `json:"status"`
	Location string   `json:"location"`
	Date     flexTime `json:"date"`
	Notes    string   `json:"notes"`
}

type shipmentDTO struct {
	ID            string       `json:"id"`
	MgoID         string       `json:"_id"`
	BatchNumber   string       `json:"batchNumber"`
	DepartureDate flexTime     `json:"departureDate"`
	Orders        []ref        `json:"orders"`
	OrderIDs      []string     `json:"orderIds"`
	CurrentStatus string       `json:"currentStatus"`
	Status        string       `json:"status"`
	History       []historyDTO `json:"history"`
}

func (d *shipmentDTO) toDomain() *domain.Shipment {
	s := &domain.Shipment{
		ID:            firstNonEmpty(d.ID, d.MgoID),
		BatchNumber:   d.BatchNumber,
		DepartureDate: d.DepartureDate.Time,
		Status:        firstNonEmpty(d.CurrentStatus, d.Status),
	}
	s.OrderIDs = append(s.OrderIDs, d.OrderIDs...)
	for _, o := range d.Orders {
		if o.ID != "" && !s.Contains(o.ID) {
			s.OrderIDs = append(s.OrderIDs, o.ID)
		}
	}
	for _, h := range d.History {
		entry := domain.HistoryEntry{Status: h.Status, Location: h.Location, Notes: h.Notes}
		if h.Date.Time != nil {
			entry.Date = *h.Date.Time
		}
		s.History = append(s.History, entry)
	}
	return s
}

type statusUpdateBody struct {
	Status   string `json:"status,omitempty"`
	Notes    string `json:"notes,omitempty"`
	Location string `json:"location,omitempty"`
}

type bulkStatusBody struct {
	ShipmentIDs []string `json:"shipmentIds"`
	Status      string   `json:"status"`
	Notes       string   `json:"notes,omitempty"`
	Location    string   `json:"location,omitempty"`
}

// ShipmentHTTPAdapter 通过 REST API 实现 port.ShipmentGateway
type ShipmentHTTPAdapter struct {
	client *httpclient.Client
}

// NewShipmentHTTPAdapter 创建 shipment 适配器
func NewShipmentHTTPAdapter(client *httpclient.Client) *ShipmentHTTPAdapter {
	return &ShipmentHTTPAdapter{client: client}
}

var _ port.ShipmentGateway = (*ShipmentHTTPAdapter)(nil)

func (a *ShipmentHTTPAdapter) ListShipments(ctx context.Context, q port.ListQuery) (port.Page[domain.Shipment], error) {
	const path = "/shipments"
	resp, err := a.client.Get(ctx, path, listParams(q))
	if err != nil {
		return port.Page[domain.Shipment]{}, transportError(err, http.MethodGet, path)
	}
	data, err := decodeEnvelope(resp)
	if err != nil {
		return port.Page[domain.Shipment]{}, err
	}
	dtos, totalPages, err := decodeList[shipmentDTO](data, "shipments")
	if err != nil {
		return port.Page[domain.Shipment]{}, err
	}

	page := port.Page[domain.Shipment]{Items: make([]domain.Shipment, 0, len(dtos)), TotalPages: totalPages}
	for i := range dtos {
		page.Items = append(page.Items, *dtos[i].toDomain())
	}
	return page, nil
}

func (a *ShipmentHTTPAdapter) GetShipment(ctx context.Context, shipmentID string) (*domain.Shipment, error) {
	path := "/shipments/" + url.PathEscape(shipmentID)
	resp, err := a.client.Get(ctx, path, nil)
	if err != nil {
		return nil, transportError(err, http.MethodGet, path)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Wrap(domain.ErrShipmentNotFound, shipmentID)
	}
	data, err := decodeEnvelope(resp)
	if err != nil {
		return nil, err
	}
	dto, err := decodeObject[shipmentDTO](data, "shipment")
	if err != nil {
		return nil, err
	}
	if dto == nil {
		return nil, errors.Wrap(domain.ErrShipmentNotFound, shipmentID)
	}
	return dto.toDomain(), nil
}

func (a *ShipmentHTTPAdapter) CreateFromOrders(ctx context.Context, orderIDs []string) (*domain.Shipment, error) {
	const path = "/shipments/create-from-orders"
	resp, err := a.client.Post(ctx, path, map[string][]string{"orderIds": orderIDs})
	if err != nil {
		return nil, transportError(err, http.MethodPost, path)
	}
	data, err := decodeEnvelope(resp)
	if err != nil {
		return nil, err
	}
	dto, err := decodeObject[shipmentDTO](data, "shipment")
	if err != nil {
		return nil, err
	}
	if dto == nil {
		// 上游成功但没有返回实体，以请求内容构造一个占位
		logger.Ctx(ctx).Warn().Strs("order_ids", orderIDs).Msg("Create-from-orders returned no shipment body")
		return &domain.Shipment{OrderIDs: append([]string(nil), orderIDs...)}, nil
	}
	return dto.toDomain(), nil
}

func (a *ShipmentHTTPAdapter) UpdateShipment(ctx context.Context, shipmentID string, update domain.StatusUpdate) error {
	path := "/shipments/" + url.PathEscape(shipmentID)
	resp, err := a.client.Put(ctx, path, statusUpdateBody{
		Status:   update.Status,
		Notes:    update.Notes,
		Location: update.Location,
	})
	if err != nil {
		return transportError(err, http.MethodPut, path)
	}
	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrap(domain.ErrShipmentNotFound, shipmentID)
	}
	_, err = decodeEnvelope(resp)
	return err
}

func (a *ShipmentHTTPAdapter) BulkUpdateStatus(ctx context.Context, shipmentIDs []string, update domain.StatusUpdate) error {
	const path = "/shipments/bulk/status"
	resp, err := a.client.Put(ctx, path, bulkStatusBody{
		ShipmentIDs: shipmentIDs,
		Status:      update.Status,
		Notes:       update.Notes,
		Location:    update.Location,
	})
	if err != nil {
		return transportError(err, http.MethodPut, path)
	}
	_, err = decodeEnvelope(resp)
	return err
}
