package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_orders_created_total",
		Help: "Total number of sales orders committed",
	})

	OrdersDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_orders_deleted_total",
		Help: "Total number of sales orders reversed",
	})

	ImportsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_imports_created_total",
		Help: "Total number of stock imports committed",
	})

	ImportsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_imports_deleted_total",
		Help: "Total number of stock imports reversed",
	})

	TransactionsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_transactions_failed_total",
		Help: "Total number of aborted inventory transactions",
	}, []string{"operation", "reason"})

	StockUnitsMovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_stock_units_moved_total",
		Help: "Units of stock moved by committed transactions",
	}, []string{"direction"})

	StockLockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_stock_lock_wait_seconds",
		Help:    "Time spent acquiring product row locks for one transaction",
		Buckets: prometheus.DefBuckets,
	})

	IDAllocationFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_id_allocation_fallbacks_total",
		Help: "Identifier allocations that fell back to a time-based suffix",
	}, []string{"prefix"})

	StockCacheSyncFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_stock_cache_sync_failed_total",
		Help: "Stock movement events that could not be mirrored to the cache",
	})

	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_events_dropped_total",
		Help: "Consumed events skipped after exhausting handler retries",
	})

	StockCacheReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_stock_reads_total",
		Help: "Stock level reads by the source that answered them",
	}, []string{"source"})

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
