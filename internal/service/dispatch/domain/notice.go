// internal/service/dispatch/domain/notice.go
package domain

import "time"

// NoticeKind 区分面向用户的提示类型
type NoticeKind string

const (
	NoticeManualBatchSucceeded NoticeKind = "manual_batch_succeeded"
	NoticeManualBatchFailed    NoticeKind = "manual_batch_failed"
	NoticeAutoBatched          NoticeKind = "auto_batched"
	NoticeAutoBatchFailed      NoticeKind = "auto_batch_failed"
	NoticeStatusUpdated        NoticeKind = "status_updated"
)

// Notice 是推送给管理端的一条提示（成功/失败 toast）
type Notice struct {
	ID        string     `json:"id"`
	Kind      NoticeKind `json:"kind"`
	Message   string     `json:"message"`
	Created   int        `json:"created,omitempty"`
	Attempted int        `json:"attempted,omitempty"`
	At        time.Time  `json:"at"`
}

// ShipmentStatusChanged 是上游在 shipment 状态变更后发布的事件
type ShipmentStatusChanged struct {
	ShipmentID string    `json:"shipmentId"`
	Status     string    `json:"status"`
	Location   string    `json:"location,omitempty"`
	At         time.Time `json:"at"`
}
