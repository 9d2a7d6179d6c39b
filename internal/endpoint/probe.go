package endpoint

import (
	"context"
	"fmt"
	"time"

	"tx-guard/internal/domain"
	"tx-guard/internal/ledger"
)

const performanceSamples = 5

// ProbeResult is the outcome of probing one endpoint.
type ProbeResult struct {
	URL        string
	Latency    time.Duration
	TPS        float64
	Congestion float64
	HasSamples bool  // TPS and Congestion are valid
	Err        error // non-nil marks a failed probe
}

// Prober measures an endpoint.
type Prober interface {
	Probe(ctx context.Context, ep domain.RPCEndpoint, client ledger.Client) ProbeResult
}

// RPCProber probes with a blockhash round-trip and recent performance samples.
type RPCProber struct {
	CapacityTPS float64
}

// Probe times GetLatestBlockhash and derives TPS and congestion from samples.
// A sample failure does not fail the probe.
func (p RPCProber) Probe(ctx context.Context, ep domain.RPCEndpoint, client ledger.Client) ProbeResult {
	res := ProbeResult{URL: ep.URL}

	start := time.Now()
	if _, err := client.GetLatestBlockhash(ctx); err != nil {
		res.Latency = time.Since(start)
		res.Err = fmt.Errorf("get latest blockhash: %w", err)
		return res
	}
	res.Latency = time.Since(start)

	samples, err := client.GetRecentPerformanceSamples(ctx, performanceSamples)
	if err != nil {
		return res
	}
	tps, err := ledger.MeanTPS(samples)
	if err != nil {
		return res
	}
	congestion, err := ledger.CongestionFromSamples(samples, p.CapacityTPS)
	if err != nil {
		return res
	}

	res.TPS = tps
	res.Congestion = congestion
	res.HasSamples = true
	return res
}
