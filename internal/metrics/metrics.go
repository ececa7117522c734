// Package metrics holds the process-wide Prometheus collectors shared by
// the wallet RPC client, the PST pipeline, the webhook dispatcher, and the
// deadline worker. They are registered once at package init and are safe for
// concurrent use, per the shared-resource requirements of the concurrency
// model.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WalletRPCLatency observes wall-clock latency of every wallet-node
	// JSON-RPC call, labelled by method and outcome.
	WalletRPCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "escrowd",
		Subsystem: "wallet_rpc",
		Name:      "latency_seconds",
		Help:      "Wallet node JSON-RPC call latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "outcome"})

	// WebhookQueueDepth is the current number of events buffered in the
	// outbound webhook queue.
	WebhookQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowd",
		Subsystem: "webhook",
		Name:      "queue_depth",
		Help:      "Number of webhook events currently buffered.",
	})

	// WebhookDeliveries counts webhook delivery attempts, labelled by
	// event type and outcome (delivered, deduped, dropped_queue_full,
	// exhausted).
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Webhook delivery attempts by event type and outcome.",
	}, []string{"event", "outcome"})

	// PendingSignatures is an observability gauge: sum of
	// max(0, 2 - len(partials)) across orders currently in signing.
	PendingSignatures = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowd",
		Subsystem: "orders",
		Name:      "pending_signatures",
		Help:      "Outstanding partial signatures needed across orders in signing.",
	})

	// StuckOrders counts orders observed past STUCK_ORDER_HOURS, labelled
	// by state.
	StuckOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "deadline",
		Name:      "stuck_orders_total",
		Help:      "Orders observed stuck past the stuck-order age threshold, by state.",
	}, []string{"state"})

	// DeadlineEscalations counts deadline-worker escalation outcomes
	// (watch_only, insufficient_signatures, finalize_failed,
	// broadcast_failed, auto_finalized) per order.
	DeadlineEscalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "deadline",
		Name:      "escalations_total",
		Help:      "Deadline worker escalation attempts by outcome.",
	}, []string{"outcome"})

	// BroadcastFailures counts sendrawtransaction failures.
	BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "tx",
		Name:      "broadcast_failures_total",
		Help:      "Failed sendrawtransaction calls.",
	})
)
