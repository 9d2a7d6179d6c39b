package endpoint

import "tx-guard/internal/domain"

// Score weights.
const (
	latencyWeight     = 0.3
	reliabilityWeight = 0.3
	successWeight     = 0.3
	congestionWeight  = 0.1

	latencyCeilingMs = 1000.0
)

// Auto-switch and health thresholds.
const (
	minReliability = 0.8
	minSuccessRate = 0.8
	maxLatencyMs   = 2000

	excellentScore = 0.8
	goodScore      = 0.6
	fairScore      = 0.4
	poorScore      = 0.2
)

// LatencyScore maps latency onto [0,1]; 1000 ms or more scores 0.
func LatencyScore(latencyMs int64) float64 {
	s := 1 - float64(latencyMs)/latencyCeilingMs
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Score is the weighted composite score of an endpoint.
func Score(m domain.NetworkMetrics, weight float64) float64 {
	return (latencyWeight*LatencyScore(m.LatencyMs) +
		reliabilityWeight*m.Reliability +
		successWeight*m.SuccessRate +
		congestionWeight*(1-m.Congestion)) * weight
}

// normalized is the unweighted mean of the four score components.
func normalized(m domain.NetworkMetrics) float64 {
	return (LatencyScore(m.LatencyMs) + m.Reliability + m.SuccessRate + (1 - m.Congestion)) / 4
}

// Classify maps an averaged normalized score onto a health status.
func Classify(score float64) domain.HealthStatus {
	switch {
	case score > excellentScore:
		return domain.HealthExcellent
	case score > goodScore:
		return domain.HealthGood
	case score > fairScore:
		return domain.HealthFair
	case score > poorScore:
		return domain.HealthPoor
	default:
		return domain.HealthCritical
	}
}

// degraded reports whether the active endpoint should be replaced.
func degraded(m domain.NetworkMetrics) bool {
	return m.Reliability < minReliability || m.SuccessRate < minSuccessRate || m.LatencyMs > maxLatencyMs
}

// strictlyBetter reports whether c beats cur on reliability, success rate and latency.
func strictlyBetter(c, cur domain.NetworkMetrics) bool {
	return c.Reliability > cur.Reliability && c.SuccessRate > cur.SuccessRate && c.LatencyMs < cur.LatencyMs
}
