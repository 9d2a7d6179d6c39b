// Package api exposes tx-guard operations over HTTP JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"tx-guard/internal/anomaly"
	"tx-guard/internal/app"
	"tx-guard/internal/approval"
	"tx-guard/internal/domain"
	"tx-guard/internal/ledger"
	"tx-guard/internal/observability"
	"tx-guard/internal/preview"
	"tx-guard/internal/submit"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server serves the HTTP API over an assembled application.
type Server struct {
	app    *app.App
	logger zerolog.Logger
	router chi.Router
}

// NewServer creates the API server and registers its routes.
func NewServer(a *app.App, logger zerolog.Logger) *Server {
	s := &Server{
		app:    a,
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(metrics())

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", observability.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/preview", s.handlePreview)
		r.Post("/approve", s.handleApprove)
		r.Post("/approve/history", s.handleApprovalHistory)
		r.Post("/anomalies", s.handleAnomalies)
		r.Post("/simulate", s.handleSimulate)
		r.Post("/budget", s.handleBudget)
		r.Post("/batch", s.handleBatch)
		r.Post("/submit", s.handleSubmit)

		r.Route("/networks/{network}", func(r chi.Router) {
			r.Get("/health", s.handleHealth)
			r.Get("/endpoints", s.handleListEndpoints)
			r.Get("/endpoints/best", s.handleBestEndpoint)
			r.Put("/endpoints/active", s.handleSetActive)
		})

		r.Post("/endpoints", s.handleAddEndpoint)
		r.Delete("/endpoints", s.handleRemoveEndpoint)
	})
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req txRequest
	if !s.decode(w, r, &req) || !validNetwork(w, req.Network) {
		return
	}
	p, err := s.app.Previews.Preview(r.Context(), req.Network, req.Transaction.toDomain(), preview.Options{
		Signers:     req.Signers,
		TokenPrices: req.TokenPrices,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !s.decode(w, r, &req) || !validNetwork(w, req.Network) {
		return
	}
	tx := req.Transaction.toDomain()
	res, err := s.app.Gate.Approve(r.Context(), req.Network, tx, approval.Options{
		Signers:                    req.Signers,
		AutoApproveThresholdUSD:    req.AutoApproveThresholdUSD,
		HardwareWalletThresholdUSD: req.HardwareWalletThresholdUSD,
		TokenPrices:                req.TokenPrices,
		History:                    toHistory(tx.Payer(), req.History),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleApprovalHistory(w http.ResponseWriter, r *http.Request) {
	var req txRequest
	if !s.decode(w, r, &req) {
		return
	}
	tx := req.Transaction.toDomain()
	if err := tx.Validate(); err != nil {
		s.writeError(w, err)
		return
	}
	records, err := s.app.Gate.History(r.Context(), tx, req.Signers)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]approvalRecordJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, fromApprovalRecord(rec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": out})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	var req anomalyRequest
	if !s.decode(w, r, &req) || !validNetwork(w, req.Network) {
		return
	}
	tx := req.Transaction.toDomain()
	found, err := s.app.Detector.Detect(r.Context(), req.Network, tx, anomaly.Options{
		Signers:     req.Signers,
		History:     toHistory(tx.Payer(), req.History),
		TokenPrices: req.TokenPrices,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"anomalies": found})
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req txRequest
	if !s.decode(w, r, &req) || !validNetwork(w, req.Network) {
		return
	}
	res, err := s.app.Simulations.Simulate(r.Context(), req.Network, req.Transaction.toDomain(), req.Signers)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if !s.decode(w, r, &req) || !validNetwork(w, req.Network) {
		return
	}
	if req.Tier == "" {
		req.Tier = domain.PriorityMedium
	}
	if !req.Tier.IsValid() {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "unknown priority tier " + string(req.Tier)})
		return
	}
	tx := req.Transaction.toDomain()
	if err := tx.Validate(); err != nil {
		s.writeError(w, err)
		return
	}

	resp := budgetResponse{}
	limit := req.UnitLimit
	if limit == nil && req.Estimate {
		est := s.app.Fees.EstimateUnitsFromSimulation(r.Context(), req.Network, tx, req.Signers)
		limit = &est
		resp.EstimatedUnitLimit = &est
	}
	resp.Transaction = fromTransaction(s.app.Fees.AttachBudget(r.Context(), req.Network, tx, req.Tier, limit))
	resp.PriorityFee = s.app.Fees.ComputePriorityFee(r.Context(), req.Network, req.Tier)
	resp.Congestion = s.app.Fees.Congestion(r.Context(), req.Network)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !s.decode(w, r, &req) || !validNetwork(w, req.Network) {
		return
	}
	if req.Tier == "" {
		req.Tier = domain.PriorityMedium
	}
	txs, err := s.app.Batcher.Batch(r.Context(), req.Network, req.Instructions, req.FeePayer, req.Tier)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]transactionJSON, 0, len(txs))
	for _, tx := range txs {
		out = append(out, fromTransaction(tx))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": out})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !s.decode(w, r, &req) || !validNetwork(w, req.Network) {
		return
	}
	opts := submit.Options{
		Signer:  req.Signer,
		Timeout: time.Duration(req.TimeoutMs) * time.Millisecond,
	}
	if req.Transaction != nil {
		tx := req.Transaction.toDomain()
		opts.Tx = &tx
	}
	res, err := s.app.Submitter.Submit(r.Context(), req.Network, req.Raw, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	network, ok := networkParam(w, r)
	if !ok {
		return
	}
	h := s.app.Monitor.Health(network)
	out := healthJSON{Network: h.Network, Status: h.Status, Score: h.Score, Endpoints: h.Endpoints}
	if ep, ok := s.app.Monitor.ActiveEndpoint(network); ok {
		out.Active = ep.URL
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	network, ok := networkParam(w, r)
	if !ok {
		return
	}
	active, _ := s.app.Monitor.ActiveEndpoint(network)
	eps := s.app.Monitor.ListEndpoints(network)
	out := make([]endpointJSON, 0, len(eps))
	for _, ep := range eps {
		out = append(out, s.endpointView(ep, active.URL))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"endpoints": out})
}

func (s *Server) handleBestEndpoint(w http.ResponseWriter, r *http.Request) {
	network, ok := networkParam(w, r)
	if !ok {
		return
	}
	ep, ok := s.app.Monitor.BestEndpoint(network)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorJSON{Error: "no endpoints for " + string(network)})
		return
	}
	active, _ := s.app.Monitor.ActiveEndpoint(network)
	writeJSON(w, http.StatusOK, s.endpointView(ep, active.URL))
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	network, ok := networkParam(w, r)
	if !ok {
		return
	}
	var req setActiveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.app.Monitor.SetActiveEndpoint(network, req.URL) {
		writeJSON(w, http.StatusNotFound, errorJSON{Error: "endpoint not registered for " + string(network)})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointJSON
	if !s.decode(w, r, &req) || !validNetwork(w, req.Network) {
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "url required"})
		return
	}
	if !s.app.Monitor.AddEndpoint(r.Context(), req.toDomain()) {
		writeJSON(w, http.StatusConflict, errorJSON{Error: "endpoint already registered"})
		return
	}
	writeJSON(w, http.StatusCreated, s.endpointView(req.toDomain(), ""))
}

func (s *Server) handleRemoveEndpoint(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "url required"})
		return
	}
	if !s.app.Monitor.RemoveEndpoint(r.Context(), url) {
		writeJSON(w, http.StatusNotFound, errorJSON{Error: "no custom endpoint with that url"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) endpointView(ep domain.RPCEndpoint, activeURL string) endpointJSON {
	out := endpointJSON{
		URL:      ep.URL,
		WSURL:    ep.WSURL,
		Name:     ep.Name,
		Network:  ep.Network,
		Priority: ep.Priority,
		Weight:   ep.Weight,
		IsCustom: ep.IsCustom,
		Active:   ep.URL == activeURL,
	}
	if m, ok := s.app.Monitor.Metrics(ep.URL); ok && m.Probed() {
		out.Metrics = &metricsJSON{
			LatencyMs:     m.LatencyMs,
			Reliability:   m.Reliability,
			TPS:           m.TPS,
			SuccessRate:   m.SuccessRate,
			Congestion:    m.Congestion,
			LastUpdatedAt: m.LastUpdatedAt,
		}
	}
	return out
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func validNetwork(w http.ResponseWriter, n domain.Network) bool {
	if !n.IsValid() {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "unsupported network " + string(n)})
		return false
	}
	return true
}

func networkParam(w http.ResponseWriter, r *http.Request) (domain.Network, bool) {
	n := domain.Network(chi.URLParam(r, "network"))
	return n, validNetwork(w, n)
}

// writeError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var rpcErr *ledger.RPCError
	switch {
	case errors.As(err, &rpcErr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrConnectivity):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorJSON{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
