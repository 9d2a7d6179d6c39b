// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Endpoint monitor metrics
	ProbeLatency     *prometheus.HistogramVec
	ProbeFailures    *prometheus.CounterVec
	EndpointSwitches *prometheus.CounterVec
	EndpointScore    *prometheus.GaugeVec
	NetworkHealth    *prometheus.GaugeVec

	// Fee metrics
	Congestion          *prometheus.GaugeVec
	CongestionFallbacks *prometheus.CounterVec
	PriorityFee         *prometheus.HistogramVec

	// Simulation metrics
	SimulationCacheHits   prometheus.Counter
	SimulationCacheMisses prometheus.Counter
	SimulationErrors      prometheus.Counter
	SimulationLatency     prometheus.Histogram

	// Safety pipeline metrics
	PreviewsBuilt     *prometheus.CounterVec
	AnomaliesDetected *prometheus.CounterVec
	ApprovalVerdicts  *prometheus.CounterVec
	AuditWriteErrors  prometheus.Counter

	// Submission metrics
	Submissions       *prometheus.CounterVec
	ConfirmationDelay *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "txguard"
	}

	return &Metrics{
		ProbeLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "probe_latency_seconds",
			Help:      "Round-trip latency of endpoint health probes",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"network"}),
		ProbeFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "probe_failures_total",
			Help:      "Total number of failed endpoint probes",
		}, []string{"network", "endpoint"}),
		EndpointSwitches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "switches_total",
			Help:      "Total number of active endpoint changes",
		}, []string{"network", "reason"}),
		EndpointScore: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "score",
			Help:      "Weighted health score of each endpoint",
		}, []string{"network", "endpoint"}),
		NetworkHealth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "network_health_score",
			Help:      "Aggregated health score per network",
		}, []string{"network"}),

		Congestion: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fee",
			Name:      "congestion",
			Help:      "Last known network congestion in [0,1]",
		}, []string{"network"}),
		CongestionFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fee",
			Name:      "congestion_fallbacks_total",
			Help:      "Congestion refreshes that fell back to a cached or default value",
		}, []string{"network"}),
		PriorityFee: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fee",
			Name:      "priority_fee_micro_lamports",
			Help:      "Computed priority fee per compute unit",
			Buckets:   prometheus.ExponentialBuckets(500, 2, 10),
		}, []string{"network", "tier"}),

		SimulationCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "cache_hits_total",
			Help:      "Simulations served from cache",
		}),
		SimulationCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "cache_misses_total",
			Help:      "Simulations that required a ledger call",
		}),
		SimulationErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "service_errors_total",
			Help:      "Simulations that failed to reach the ledger",
		}),
		SimulationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "latency_seconds",
			Help:      "Latency of ledger simulation calls",
			Buckets:   prometheus.DefBuckets,
		}),

		PreviewsBuilt: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "built_total",
			Help:      "Total number of previews built",
		}, []string{"success"}),
		AnomaliesDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "anomaly",
			Name:      "detected_total",
			Help:      "Total number of anomalies detected",
		}, []string{"type", "severity"}),
		ApprovalVerdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "verdicts_total",
			Help:      "Total number of approval verdicts",
		}, []string{"status", "risk_level"}),
		AuditWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "audit_write_errors_total",
			Help:      "Verdicts that could not be written to the audit store",
		}),

		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "transactions_total",
			Help:      "Submitted transactions by terminal status",
		}, []string{"network", "status"}),
		ConfirmationDelay: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "confirmation_seconds",
			Help:      "Time from send to terminal status",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"network"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		}, []string{"route", "code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordProbe records the outcome of one endpoint probe.
func RecordProbe(network, endpoint string, seconds float64, err error) {
	if err != nil {
		DefaultMetrics.ProbeFailures.WithLabelValues(network, endpoint).Inc()
		return
	}
	DefaultMetrics.ProbeLatency.WithLabelValues(network).Observe(seconds)
}

// RecordEndpointSwitch counts an active endpoint change.
func RecordEndpointSwitch(network, reason string) {
	DefaultMetrics.EndpointSwitches.WithLabelValues(network, reason).Inc()
}

// UpdateEndpointScore sets the score gauge of an endpoint.
func UpdateEndpointScore(network, endpoint string, score float64) {
	DefaultMetrics.EndpointScore.WithLabelValues(network, endpoint).Set(score)
}

// UpdateNetworkHealth sets the aggregated health gauge of a network.
func UpdateNetworkHealth(network string, score float64) {
	DefaultMetrics.NetworkHealth.WithLabelValues(network).Set(score)
}

// UpdateCongestion sets the congestion gauge; fallback marks a value not freshly measured.
func UpdateCongestion(network string, value float64, fallback bool) {
	DefaultMetrics.Congestion.WithLabelValues(network).Set(value)
	if fallback {
		DefaultMetrics.CongestionFallbacks.WithLabelValues(network).Inc()
	}
}

// RecordPriorityFee observes a computed priority fee.
func RecordPriorityFee(network, tier string, microLamports uint64) {
	DefaultMetrics.PriorityFee.WithLabelValues(network, tier).Observe(float64(microLamports))
}

// RecordSimulationCache counts a cache lookup.
func RecordSimulationCache(hit bool) {
	if hit {
		DefaultMetrics.SimulationCacheHits.Inc()
		return
	}
	DefaultMetrics.SimulationCacheMisses.Inc()
}

// RecordSimulationCall records a ledger simulation call.
func RecordSimulationCall(seconds float64, err error) {
	DefaultMetrics.SimulationLatency.Observe(seconds)
	if err != nil {
		DefaultMetrics.SimulationErrors.Inc()
	}
}

// RecordPreview counts a built preview.
func RecordPreview(success bool) {
	label := "false"
	if success {
		label = "true"
	}
	DefaultMetrics.PreviewsBuilt.WithLabelValues(label).Inc()
}

// RecordAnomaly counts a detected anomaly.
func RecordAnomaly(anomalyType, severity string) {
	DefaultMetrics.AnomaliesDetected.WithLabelValues(anomalyType, severity).Inc()
}

// RecordApproval counts a verdict.
func RecordApproval(status, riskLevel string) {
	DefaultMetrics.ApprovalVerdicts.WithLabelValues(status, riskLevel).Inc()
}

// RecordAuditWriteError counts a failed audit write.
func RecordAuditWriteError() {
	DefaultMetrics.AuditWriteErrors.Inc()
}

// RecordSubmission records a submission's terminal status and time to reach it.
func RecordSubmission(network, status string, seconds float64) {
	DefaultMetrics.Submissions.WithLabelValues(network, status).Inc()
	DefaultMetrics.ConfirmationDelay.WithLabelValues(network).Observe(seconds)
}

// RecordHTTPRequest records an API request.
func RecordHTTPRequest(route, code string, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, code).Inc()
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(route).Observe(seconds)
}
