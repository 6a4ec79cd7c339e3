package port

import "dispatch/internal/service/dispatch/domain"

// OrderFilter 进一步限定哪些订单可以参与分批；返回 false 的订单被忽略
type OrderFilter interface {
	Match(order *domain.Order) (bool, error)
}
