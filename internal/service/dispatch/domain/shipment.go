// internal/service/dispatch/domain/shipment.go
package domain

import "time"

// HistoryEntry 是 shipment 状态历史中的一条记录，只追加不修改
type HistoryEntry struct {
	Status   string
	Location string
	Date     time.Time
	Notes    string
}

// Shipment 即一个批次：共享出发日期的一组订单
type Shipment struct {
	ID            string
	BatchNumber   string
	DepartureDate *time.Time
	OrderIDs      []string
	Status        string
	History       []HistoryEntry
}

// LatestHistory 返回最近一条历史记录
func (s *Shipment) LatestHistory() (HistoryEntry, bool) {
	if len(s.History) == 0 {
		return HistoryEntry{}, false
	}
	latest := s.History[0]
	for _, h := range s.History[1:] {
		if h.Date.After(latest.Date) {
			latest = h
		}
	}
	return latest, true
}

// Contains 报告 shipment 是否引用了给定订单
func (s *Shipment) Contains(orderID string) bool {
	for _, id := range s.OrderIDs {
		if id == orderID {
			return true
		}
	}
	return false
}

// StatusUpdate 是一次状态变更请求，单个或批量共用
type StatusUpdate struct {
	Status   string
	Notes    string
	Location string
}
