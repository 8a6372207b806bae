// Package metrics exposes the prometheus collectors tracked across the
// dispatcher, shard lifecycle, rate limiter and IP filter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchTotal counts dispatcher outcomes by resource, operation and
	// result (ok, error kind).
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_dispatch_requests_total",
			Help: "Total number of dispatched requests",
		},
		[]string{"resource", "operation", "result"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docvault_dispatch_duration_seconds",
			Help:    "Duration of dispatched requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{"resource", "operation"},
	)

	// ShardLoads and ShardUnloads count lifecycle transitions; ShardState
	// reports the live gauge of shards in each state.
	ShardLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_shard_loads_total",
			Help: "Total number of shard load attempts",
		},
		[]string{"database", "table", "result"},
	)

	ShardUnloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_shard_unloads_total",
			Help: "Total number of shard unload operations",
		},
		[]string{"database", "table", "reason"},
	)

	ShardState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docvault_shard_state",
			Help: "Number of shards currently in each lifecycle state",
		},
		[]string{"database", "table", "state"},
	)

	ShardRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docvault_shard_records",
			Help: "Number of records resident in a loaded shard",
		},
		[]string{"database", "table", "shard_id"},
	)

	// RateLimitRejections counts requests refused by the token bucket.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_ratelimit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"principal"},
	)

	// BanEvents counts IP filter bans, separated by automatic vs. manual.
	BanEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_ipfilter_bans_total",
			Help: "Total number of IP bans applied",
		},
		[]string{"reason"},
	)

	// TokenPoolWorkers reports the live size of the update-token worker pool.
	TokenPoolWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docvault_tokenpool_workers",
			Help: "Current number of workers in the update-token pool",
		},
	)
)
