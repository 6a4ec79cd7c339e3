// internal/service/dispatch/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork 表示请求未能到达上游
	ErrNetwork = errors.New("upstream unreachable")
	// ErrUnauthorized 对应上游 HTTP 401
	ErrUnauthorized = errors.New("upstream rejected credentials")
	// ErrNoEligibleOrders 表示没有任何可成批的订单，未联系上游
	ErrNoEligibleOrders = errors.New("no eligible orders")
	// ErrBatchingFailed 表示尝试了至少一个分组但全部失败
	ErrBatchingFailed = errors.New("batching failed")
	// ErrBatchInProgress 表示本进程或其他实例已有分批在进行
	ErrBatchInProgress  = errors.New("batch already in progress")
	ErrShipmentNotFound = errors.New("shipment not found")
	ErrInvalidRequest   = errors.New("invalid request")
)

// APIError 是上游返回的业务错误（4xx/5xx 或 success=false）
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
}
