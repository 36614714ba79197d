package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"routing_key", "queue"},
	)

	// 邮件服务商调用延迟（毫秒）
	ProviderCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_latency_ms",
			Help:    "Email provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		},
		[]string{"endpoint", "status"},
	)

	ProviderCircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "provider_circuit_state",
			Help: "Provider circuit breaker state (0 closed, 1 open, 2 half open)",
		},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries exceeding the slow threshold",
		},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	// 规则触发计数
	RulesFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_rules_fired_total",
			Help: "Total number of rule firings",
		},
		[]string{"trigger_type", "mode"}, // mode: immediate, scheduled
	)

	// 发送计数
	SendsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_sends_total",
			Help: "Total number of provider send attempts",
		},
		[]string{"source", "status"}, // source: immediate, queue; status: success, failed
	)

	QueueItemsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "automation_queue_items_claimed_total",
			Help: "Total number of queue items claimed by drain ticks",
		},
	)

	ReconcileEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_reconcile_events_total",
			Help: "Total number of provider events processed by reconciliation",
		},
		[]string{"kind"},
	)

	ReconcilePageErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "automation_reconcile_page_errors_total",
			Help: "Total number of provider event pages that failed to load",
		},
	)
)

func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

func RecordProviderCallLatency(endpoint, status string, duration time.Duration) {
	ProviderCallLatency.WithLabelValues(endpoint, status).Observe(float64(duration.Milliseconds()))
}

func SetProviderCircuitState(state int) {
	ProviderCircuitState.Set(float64(state))
}

func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncrementRuleFired(triggerType, mode string) {
	RulesFired.WithLabelValues(triggerType, mode).Inc()
}

func IncrementSend(source, status string) {
	SendsDispatched.WithLabelValues(source, status).Inc()
}

func AddQueueItemsClaimed(n int) {
	QueueItemsClaimed.Add(float64(n))
}

func IncrementReconcileEvent(kind string) {
	ReconcileEvents.WithLabelValues(kind).Inc()
}

func IncrementReconcilePageError() {
	ReconcilePageErrors.Inc()
}
