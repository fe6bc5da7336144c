package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scheduler ticks partitioned by mode (caller, batch) and result (run, skipped)
	SchedulerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_scheduler_ticks_total",
			Help: "Scheduler ticks started or skipped because one was already in flight",
		},
		[]string{"mode", "result"},
	)

	EntriesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_entries_processed_total",
			Help: "Ready entries examined by a scheduler tick",
		},
		[]string{"mode"},
	)

	EntriesDeferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_entries_deferred_total",
			Help: "Ready entries moved to the next business-hours window instead of being dialed",
		},
		[]string{"mode"},
	)

	DispatchesInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_dispatches_initiated_total",
			Help: "Dispatches handed to the dialer",
		},
		[]string{"mode"},
	)

	DispatchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_dispatch_errors_total",
			Help: "Per-entry or per-chunk failures inside a tick",
		},
		[]string{"mode"},
	)

	TickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dialer_tick_duration_seconds",
			Help:    "Wall time of one scheduler tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	ClaimContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dialer_claim_contention_total",
			Help: "Claims lost to another dispatcher or to a state change",
		},
	)

	// Batch submissions partitioned by result (submitted, failed)
	BatchChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_batch_chunks_total",
			Help: "Batch dispatch chunks by submission result",
		},
		[]string{"result"},
	)

	// Rate limiter outcomes partitioned by limiter name and final result (processed, failed)
	LimiterResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_limiter_results_total",
			Help: "Rate-limited operations by final result",
		},
		[]string{"limiter", "result"},
	)

	LimiterRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_limiter_retries_total",
			Help: "Attempts retried after a transient failure",
		},
		[]string{"limiter"},
	)

	LimiterQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dialer_limiter_queue_depth",
			Help: "Submissions waiting for a drain batch",
		},
		[]string{"limiter"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dialer_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
