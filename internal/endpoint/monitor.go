// Package endpoint tracks RPC endpoint health and selects the active
// endpoint of each network.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tx-guard/internal/domain"
	"tx-guard/internal/ledger"
	"tx-guard/internal/observability"
	"tx-guard/internal/storage"
)

// Monitor defaults.
const (
	DefaultInterval  = 60 * time.Second
	DefaultTimeout   = 10 * time.Second
	probeConcurrency = 16

	reliabilityDecay = 0.1
)

// ClientFactory builds the ledger client of an endpoint.
type ClientFactory func(ep domain.RPCEndpoint) (ledger.Client, error)

// HTTPClientFactory builds JSON-RPC clients with the given options.
func HTTPClientFactory(opts ...ledger.ClientOption) ClientFactory {
	return func(ep domain.RPCEndpoint) (ledger.Client, error) {
		return ledger.NewHTTPClient(ep.URL, opts...), nil
	}
}

// Listener receives a copy of all endpoint metrics after each tick, keyed by URL.
type Listener func(metrics map[string]domain.NetworkMetrics)

// Monitor probes endpoints and keeps the active endpoint of each network.
// It is safe for concurrent use.
type Monitor struct {
	mu        sync.RWMutex
	endpoints []domain.RPCEndpoint             // ordered by priority, then insertion
	metrics   map[string]domain.NetworkMetrics // by URL
	active    map[domain.Network]string        // network -> URL

	clientsMu sync.Mutex
	clients   map[string]ledger.Client

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int

	factory  ClientFactory
	prober   Prober
	store    storage.EndpointStore
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// MonitorOptions contains configuration for creating a Monitor.
type MonitorOptions struct {
	Endpoints []domain.RPCEndpoint  // default DefaultEndpoints
	Factory   ClientFactory         // default HTTPClientFactory()
	Prober    Prober                // default RPCProber{}
	Store     storage.EndpointStore // optional; persists custom endpoints
	Interval  time.Duration         // default DefaultInterval
	Timeout   time.Duration         // per-probe deadline, default DefaultTimeout
	Now       func() time.Time
	Logger    zerolog.Logger
}

// NewMonitor creates a monitor over the given endpoints. The first endpoint
// of each network by priority becomes active.
func NewMonitor(opts MonitorOptions) *Monitor {
	eps := opts.Endpoints
	if eps == nil {
		eps = DefaultEndpoints
	}
	factory := opts.Factory
	if factory == nil {
		factory = HTTPClientFactory()
	}
	prober := opts.Prober
	if prober == nil {
		prober = RPCProber{}
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	m := &Monitor{
		metrics:   make(map[string]domain.NetworkMetrics),
		active:    make(map[domain.Network]string),
		clients:   make(map[string]ledger.Client),
		listeners: make(map[int]Listener),
		factory:   factory,
		prober:    prober,
		store:     opts.Store,
		interval:  interval,
		timeout:   timeout,
		now:       now,
		logger:    opts.Logger.With().Str("component", "endpoint_monitor").Logger(),
	}
	for _, ep := range eps {
		if !ep.Network.IsValid() || ep.URL == "" || m.indexLocked(ep.URL) >= 0 {
			continue
		}
		m.insertLocked(withDefaults(ep))
	}
	for _, n := range domain.Networks {
		if url, ok := m.firstLocked(n); ok {
			m.active[n] = url
		}
	}
	return m
}

// LoadCustom registers the custom endpoints persisted in the store.
func (m *Monitor) LoadCustom(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	eps, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load custom endpoints: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ep := range eps {
		if !ep.Network.IsValid() || m.indexLocked(ep.URL) >= 0 {
			continue
		}
		e := withDefaults(*ep)
		e.IsCustom = true
		m.insertLocked(e)
		if _, ok := m.active[e.Network]; !ok {
			m.active[e.Network] = e.URL
		}
	}
	m.logger.Info().Int("count", len(eps)).Msg("custom endpoints loaded")
	return nil
}

// ListEndpoints returns the endpoints of network, or all endpoints if
// network is empty.
func (m *Monitor) ListEndpoints(network domain.Network) []domain.RPCEndpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(network)
}

// Metrics returns the latest metrics of url.
func (m *Monitor) Metrics(url string) (domain.NetworkMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	met, ok := m.metrics[url]
	return met, ok
}

// ActiveEndpoint returns the endpoint currently used for network.
func (m *Monitor) ActiveEndpoint(network domain.Network) (domain.RPCEndpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	url, ok := m.active[network]
	if !ok {
		return domain.RPCEndpoint{}, false
	}
	i := m.indexLocked(url)
	if i < 0 {
		return domain.RPCEndpoint{}, false
	}
	return m.endpoints[i], true
}

// BestEndpoint returns the highest-scoring endpoint of network. Ties keep
// registration order.
func (m *Monitor) BestEndpoint(network domain.Network) (domain.RPCEndpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bestLocked(network, nil)
}

// SetActiveEndpoint makes url the active endpoint of network. It returns
// false if url is not an endpoint of network.
func (m *Monitor) SetActiveEndpoint(network domain.Network, url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexLocked(url)
	if i < 0 || m.endpoints[i].Network != network {
		return false
	}
	if m.active[network] != url {
		m.active[network] = url
		observability.RecordEndpointSwitch(string(network), "manual")
		m.logger.Info().Str("network", string(network)).Str("url", url).Msg("active endpoint set")
	}
	return true
}

// AddEndpoint registers a custom endpoint. It returns false if the URL is
// already registered or the network is unsupported. The endpoint becomes
// active if its network had none.
func (m *Monitor) AddEndpoint(ctx context.Context, ep domain.RPCEndpoint) bool {
	if ep.URL == "" || !ep.Network.IsValid() {
		return false
	}
	ep = withDefaults(ep)
	ep.IsCustom = true

	m.mu.Lock()
	if m.indexLocked(ep.URL) >= 0 {
		m.mu.Unlock()
		return false
	}
	m.insertLocked(ep)
	if _, ok := m.active[ep.Network]; !ok {
		m.active[ep.Network] = ep.URL
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Insert(ctx, &ep); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			m.logger.Warn().Err(err).Str("url", ep.URL).Msg("persist custom endpoint")
		}
	}
	m.logger.Info().Str("network", string(ep.Network)).Str("url", ep.URL).Msg("endpoint added")
	return true
}

// RemoveEndpoint removes a custom endpoint. Built-in endpoints cannot be
// removed. A network that had it active switches to its best remaining endpoint.
func (m *Monitor) RemoveEndpoint(ctx context.Context, url string) bool {
	m.mu.Lock()
	i := m.indexLocked(url)
	if i < 0 || !m.endpoints[i].IsCustom {
		m.mu.Unlock()
		return false
	}
	network := m.endpoints[i].Network
	m.endpoints = append(m.endpoints[:i], m.endpoints[i+1:]...)
	delete(m.metrics, url)
	if m.active[network] == url {
		if best, ok := m.bestLocked(network, nil); ok {
			m.active[network] = best.URL
			observability.RecordEndpointSwitch(string(network), "removed")
		} else {
			delete(m.active, network)
		}
	}
	m.mu.Unlock()

	m.clientsMu.Lock()
	delete(m.clients, url)
	m.clientsMu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(ctx, url); err != nil && !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn().Err(err).Str("url", url).Msg("delete custom endpoint")
		}
	}
	m.logger.Info().Str("network", string(network)).Str("url", url).Msg("endpoint removed")
	return true
}

// Client returns the ledger client of the active endpoint of network.
func (m *Monitor) Client(network domain.Network) (ledger.Client, error) {
	ep, ok := m.ActiveEndpoint(network)
	if !ok {
		return nil, domain.Connectivity("resolve endpoint", fmt.Errorf("no endpoint for network %q", network))
	}
	return m.clientFor(ep)
}

func (m *Monitor) clientFor(ep domain.RPCEndpoint) (ledger.Client, error) {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	if c, ok := m.clients[ep.URL]; ok {
		return c, nil
	}
	c, err := m.factory(ep)
	if err != nil {
		return nil, domain.Connectivity("create client", err)
	}
	m.clients[ep.URL] = c
	return c, nil
}

// Subscribe registers fn to be called after every tick. The returned
// function removes the subscription.
func (m *Monitor) Subscribe(fn Listener) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		delete(m.listeners, id)
	}
}

// Health classifies network by the mean normalized score of all its
// endpoints. Unprobed endpoints count with their seeded metrics once any
// endpoint of the network has been probed; before that the network is unknown.
func (m *Monitor) Health(network domain.Network) domain.NetworkHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := domain.NetworkHealth{Network: network, Status: domain.HealthUnknown}
	var (
		sum    float64
		probed bool
	)
	for _, ep := range m.endpoints {
		if ep.Network != network {
			continue
		}
		met := m.metrics[ep.URL]
		probed = probed || met.Probed()
		sum += normalized(met)
		h.Endpoints++
	}
	if !probed {
		h.Endpoints = 0
		return h
	}
	h.Score = sum / float64(h.Endpoints)
	h.Status = Classify(h.Score)
	return h
}

// Run ticks immediately and then every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info().Dur("interval", m.interval).Msg("endpoint monitor started")
	m.Tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("endpoint monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick probes every endpoint concurrently, updates metrics, switches away
// from degraded active endpoints and notifies listeners. Probe failures
// decay metrics and are never returned.
func (m *Monitor) Tick(ctx context.Context) {
	eps := m.ListEndpoints("")
	results := make([]ProbeResult, len(eps))

	var g errgroup.Group
	g.SetLimit(probeConcurrency)
	for i, ep := range eps {
		g.Go(func() error {
			results[i] = m.probe(ctx, ep)
			return nil
		})
	}
	_ = g.Wait()

	m.apply(eps, results)
	m.autoSwitch()
	m.publishHealth()
	m.notify()
}

func (m *Monitor) probe(ctx context.Context, ep domain.RPCEndpoint) ProbeResult {
	client, err := m.clientFor(ep)
	if err != nil {
		return ProbeResult{URL: ep.URL, Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	res := m.prober.Probe(ctx, ep, client)
	res.URL = ep.URL
	return res
}

func (m *Monitor) apply(eps []domain.RPCEndpoint, results []ProbeResult) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, res := range results {
		ep := eps[i]
		met, ok := m.metrics[res.URL]
		if !ok {
			// removed during the tick
			continue
		}
		observability.RecordProbe(string(ep.Network), ep.URL, res.Latency.Seconds(), res.Err)

		if res.Err != nil {
			// a failed probe counts as taking at least the full timeout
			met.LatencyMs = max(res.Latency, m.timeout).Milliseconds()
			met.Reliability = max(0, met.Reliability-reliabilityDecay)
			met.SuccessRate = max(0, met.SuccessRate-reliabilityDecay)
			m.logger.Debug().Err(res.Err).Str("url", ep.URL).Msg("probe failed")
		} else {
			met.LatencyMs = res.Latency.Milliseconds()
			met.Reliability = 1
			met.SuccessRate = 1
			if res.HasSamples {
				met.TPS = res.TPS
				met.Congestion = res.Congestion
			}
		}
		met.LastUpdatedAt = now
		m.metrics[res.URL] = met
		observability.UpdateEndpointScore(string(ep.Network), ep.URL, Score(met, ep.Weight))
	}
}

// autoSwitch replaces each degraded active endpoint with the best-scoring
// candidate that is strictly better on reliability, success rate and latency.
func (m *Monitor) autoSwitch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, network := range domain.Networks {
		url, ok := m.active[network]
		if !ok {
			continue
		}
		cur := m.metrics[url]
		if !cur.Probed() || !degraded(cur) {
			continue
		}

		best, ok := m.bestLocked(network, func(ep domain.RPCEndpoint, met domain.NetworkMetrics) bool {
			return ep.URL != url && met.Probed() && strictlyBetter(met, cur)
		})
		if !ok {
			m.logger.Warn().Str("network", string(network)).Str("url", url).Msg("active endpoint degraded, no better candidate")
			continue
		}
		m.active[network] = best.URL
		observability.RecordEndpointSwitch(string(network), "degraded")
		m.logger.Warn().
			Str("network", string(network)).
			Str("from", url).
			Str("to", best.URL).
			Float64("reliability", cur.Reliability).
			Float64("success_rate", cur.SuccessRate).
			Int64("latency_ms", cur.LatencyMs).
			Msg("switched active endpoint")
	}
}

func (m *Monitor) publishHealth() {
	for _, n := range domain.Networks {
		h := m.Health(n)
		if h.Status != domain.HealthUnknown {
			observability.UpdateNetworkHealth(string(n), h.Score)
		}
	}
}

func (m *Monitor) notify() {
	m.mu.RLock()
	snapshot := make(map[string]domain.NetworkMetrics, len(m.metrics))
	for url, met := range m.metrics {
		snapshot[url] = met
	}
	m.mu.RUnlock()

	m.listenersMu.Lock()
	fns := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.Unlock()

	for _, fn := range fns {
		cp := make(map[string]domain.NetworkMetrics, len(snapshot))
		for k, v := range snapshot {
			cp[k] = v
		}
		fn(cp)
	}
}

func (m *Monitor) listLocked(network domain.Network) []domain.RPCEndpoint {
	out := make([]domain.RPCEndpoint, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		if network == "" || ep.Network == network {
			out = append(out, ep)
		}
	}
	return out
}

func (m *Monitor) bestLocked(network domain.Network, keep func(domain.RPCEndpoint, domain.NetworkMetrics) bool) (domain.RPCEndpoint, bool) {
	var cands []domain.RPCEndpoint
	for _, ep := range m.listLocked(network) {
		if keep == nil || keep(ep, m.metrics[ep.URL]) {
			cands = append(cands, ep)
		}
	}
	if len(cands) == 0 {
		return domain.RPCEndpoint{}, false
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return Score(m.metrics[cands[i].URL], cands[i].Weight) > Score(m.metrics[cands[j].URL], cands[j].Weight)
	})
	return cands[0], true
}

func (m *Monitor) firstLocked(network domain.Network) (string, bool) {
	for _, ep := range m.endpoints {
		if ep.Network == network {
			return ep.URL, true
		}
	}
	return "", false
}

func (m *Monitor) indexLocked(url string) int {
	for i, ep := range m.endpoints {
		if ep.URL == url {
			return i
		}
	}
	return -1
}

// insertLocked adds ep after every endpoint of equal or lower priority and
// seeds optimistic metrics.
func (m *Monitor) insertLocked(ep domain.RPCEndpoint) {
	i := sort.Search(len(m.endpoints), func(i int) bool {
		return m.endpoints[i].Priority > ep.Priority
	})
	m.endpoints = append(m.endpoints, domain.RPCEndpoint{})
	copy(m.endpoints[i+1:], m.endpoints[i:])
	m.endpoints[i] = ep
	m.metrics[ep.URL] = domain.NetworkMetrics{Reliability: 1, SuccessRate: 1}
}

func withDefaults(ep domain.RPCEndpoint) domain.RPCEndpoint {
	if ep.Weight <= 0 {
		ep.Weight = 1
	}
	if ep.Name == "" {
		ep.Name = ep.URL
	}
	return ep
}

// WSURL returns the websocket URL of the active endpoint of network, or ""
// if it has none.
func (m *Monitor) WSURL(network domain.Network) string {
	ep, ok := m.ActiveEndpoint(network)
	if !ok {
		return ""
	}
	return ep.WSURL
}

var _ ledger.Provider = (*Monitor)(nil)
