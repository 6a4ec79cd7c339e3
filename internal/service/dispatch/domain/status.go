// internal/service/dispatch/domain/status.go
package domain

import "strings"

// 常见状态值。上游的状态是自由字符串，这里只是便于引用的规范写法。
const (
	StatusPending   = "pending"
	StatusInTransit = "in_transit"
	StatusDelivered = "delivered"
	StatusCancelled = "cancelled"
)

var statusReplacer = strings.NewReplacer(" ", "", "-", "", "_", "", ".", "", "/", "")

// NormalizeStatus 去掉分隔符并转为小写："In-Transit" -> "intransit"
func NormalizeStatus(status string) string {
	return strings.ToLower(statusReplacer.Replace(strings.TrimSpace(status)))
}

// StatusEqual 以大小写无关、忽略分隔符的方式比较两个状态
func StatusEqual(a, b string) bool {
	return NormalizeStatus(a) == NormalizeStatus(b)
}
