package domain

import "time"

// RPCEndpoint is a ledger RPC target. Identity is URL.
type RPCEndpoint struct {
	URL      string  // http(s) JSON-RPC URL, unique
	WSURL    string  // optional websocket URL for subscriptions
	Name     string  // display name
	Network  Network // cluster served by the endpoint
	Priority int     // lower is preferred
	Weight   float64 // score multiplier
	IsCustom bool    // user-added; only custom endpoints are removable
}

// NetworkMetrics is the latest probe snapshot for one endpoint.
type NetworkMetrics struct {
	LatencyMs     int64     // round-trip of the last successful probe
	Reliability   float64   // [0,1], decays on failed probes
	TPS           float64   // transactions per second from performance samples
	SuccessRate   float64   // [0,1], decays on failed probes
	Congestion    float64   // [0,1]
	LastUpdatedAt time.Time // zero if never probed
}

// Probed reports whether the endpoint has been probed at least once.
func (m NetworkMetrics) Probed() bool {
	return !m.LastUpdatedAt.IsZero()
}

// HealthStatus classifies the aggregate health of a network.
type HealthStatus string

const (
	HealthExcellent HealthStatus = "excellent"
	HealthGood      HealthStatus = "good"
	HealthFair      HealthStatus = "fair"
	HealthPoor      HealthStatus = "poor"
	HealthCritical  HealthStatus = "critical"
	HealthUnknown   HealthStatus = "unknown"
)

// NetworkHealth is the result of a health classification.
type NetworkHealth struct {
	Network   Network
	Status    HealthStatus
	Score     float64 // averaged normalized score, 0 when unknown
	Endpoints int     // endpoints included in the average, 0 when unknown
}
