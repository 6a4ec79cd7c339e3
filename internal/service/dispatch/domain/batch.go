// internal/service/dispatch/domain/batch.go
package domain

import (
	"fmt"
	"time"
)

// BatchGroup 是同一出发日的一组待成批订单
type BatchGroup struct {
	Day      string
	OrderIDs []string
}

// GroupFailure 记录某个分组创建 shipment 失败的原因
type GroupFailure struct {
	Day      string
	OrderIDs []string
	Err      error
}

// BatchResult 是一次分批的汇总结果，只按总数对外报告
type BatchResult struct {
	Groups      int
	Created     int
	ShipmentIDs []string
	Failures    []GroupFailure
}

// Failed 返回失败的分组数
func (r BatchResult) Failed() int {
	return len(r.Failures)
}

// Summary 返回 "created N of M" 形式的描述
func (r BatchResult) Summary() string {
	return fmt.Sprintf("created %d of %d shipments", r.Created, r.Groups)
}

// BatchTrigger 标识分批是手动还是自动触发
type BatchTrigger string

const (
	TriggerManual BatchTrigger = "manual"
	TriggerAuto   BatchTrigger = "auto"
)

// BatchRun 是写入流水的一次分批记录
type BatchRun struct {
	ID         string
	Trigger    BatchTrigger
	Signature  string
	Groups     int
	Created    int
	Failed     int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}
