package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RequestsProcessed counts requests drained from ingress by the matching loop, by kind (submit/cancel/snapshot)
var RequestsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "matchd_requests_processed_total",
		Help: "Total number of ingress requests processed by the matching loop",
	},
	[]string{"kind"},
)

// MatchLatency records how long the loop spends on a single request
var MatchLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "matchd_request_processing_latency_seconds",
		Help:    "Latency in seconds to process individual ingress requests",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
	},
)

// Order outcome metrics
var (
	OrdersRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchd_orders_rejected_total",
			Help: "Orders that failed validation and ended REJECTED",
		},
	)

	OrdersCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchd_cancels_total",
			Help: "Cancel requests by result (ok/miss)",
		},
		[]string{"result"},
	)

	DuplicateSubmissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchd_duplicate_submissions_total",
			Help: "Submissions dropped by the idempotency filter",
		},
	)

	AdmissionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchd_admission_failures_total",
			Help: "Submissions refused because the idempotency store could not answer",
		},
	)

	FillsEmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchd_fills_emitted_total",
			Help: "Fills produced by the crossing algorithm",
		},
	)

	FillsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchd_fills_dropped_total",
			Help: "Fills discarded because the fill sink was full under the drop policy",
		},
	)
)

// Queue and engine health metrics
var (
	Backpressure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchd_backpressure_rejections_total",
			Help: "Producers rejected because a bounded queue was full",
		},
		[]string{"queue"},
	)

	IngressDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "matchd_ingress_depth",
			Help: "Requests waiting in the ingress queue",
		},
	)

	RequestFaults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchd_request_faults_total",
			Help: "Requests that failed with an isolated internal error",
		},
	)

	ListenerFaults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchd_lifecycle_listener_faults_total",
			Help: "Lifecycle listener panics recovered after the transition was applied",
		},
	)

	EngineHalted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "matchd_engine_halted",
			Help: "1 when the matching loop stopped on a fatal fault",
		},
	)
)

func init() {
	prometheus.MustRegister(RequestsProcessed, MatchLatency)
	prometheus.MustRegister(OrdersRejected, OrdersCancelled, DuplicateSubmissions, AdmissionFailures, FillsEmitted, FillsDropped)
	prometheus.MustRegister(Backpressure, IngressDepth, RequestFaults, ListenerFaults, EngineHalted)
}
