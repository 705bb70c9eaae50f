package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TradesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_trades_created_total",
		Help: "Total number of trades created",
	}, []string{"payment"})

	TradesReviewedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_trades_reviewed_total",
		Help: "Total number of trade reviews",
	}, []string{"decision"})

	TradesSoldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_trades_sold_total",
		Help: "Total number of trades sold back",
	})

	PurchasesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_purchases_failed_total",
		Help: "Total number of failed purchase attempts",
	}, []string{"reason"})

	WalletRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_wallet_requests_total",
		Help: "Total number of deposit and withdrawal requests",
	}, []string{"type"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_settlements_total",
		Help: "Total number of settled wallet transactions",
	}, []string{"type", "decision"})

	StorageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_storage_failures_total",
		Help: "Total number of object storage failures after commit",
	}, []string{"operation"})

	EventsPublishFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_events_publish_failed_total",
		Help: "Total number of events that could not be published",
	})

	SequenceAllocLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_sequence_alloc_latency_seconds",
		Help:    "Latency of locked sequence ID allocation",
		Buckets: prometheus.DefBuckets,
	}, []string{"table"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
