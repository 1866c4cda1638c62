package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TransactionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transactions_created_total",
		Help: "Total number of transactions created",
	})
	TransactionsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transactions_completed_total",
		Help: "Total number of transactions completed",
	})
	TransactionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transactions_failed_total",
		Help: "Total number of transactions failed",
	})
	TransactionsSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transactions_swept_total",
		Help: "Total number of stuck PROCESSING transactions failed by the sweeper",
	})
	OffersApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offers_applied_total",
		Help: "Total number of offer applications",
	})
	WebhooksVerified = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_verified_total",
		Help: "Total number of webhooks that passed authentication",
	})
	WebhooksRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_rejected_total",
		Help: "Total number of webhooks rejected during parsing or authentication",
	})
	GatewayLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Outbound gateway call latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		TransactionsCreated,
		TransactionsCompleted,
		TransactionsFailed,
		TransactionsSwept,
		OffersApplied,
		WebhooksVerified,
		WebhooksRejected,
		GatewayLatency,
	)
}
