// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dispatch"

var (
	// APIRequestDuration 记录调用外部 REST API 的耗时
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "Latency of calls to the upstream logistics API.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "code"})

	ShipmentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shipments_created_total",
		Help:      "Shipments created from order groups.",
	}, []string{"trigger"})

	ShipmentGroupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shipment_group_failures_total",
		Help:      "Order groups whose shipment creation failed.",
	}, []string{"trigger"})

	// TriggerOutcomes 按结果统计 auto-batch 触发器的每次评估
	TriggerOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "autobatch_evaluations_total",
		Help:      "Auto-batch trigger evaluations by outcome.",
	}, []string{"outcome"})

	NoticesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notices_published_total",
		Help:      "User-visible notices published by kind and sink.",
	}, []string{"kind", "sink"})
)
