// Package approval folds a preview, anomalies and value thresholds into a
// single verdict for a transaction.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tx-guard/internal/anomaly"
	"tx-guard/internal/domain"
	"tx-guard/internal/idhash"
	"tx-guard/internal/observability"
	"tx-guard/internal/preview"
	"tx-guard/internal/storage"
)

const auditTimeout = 5 * time.Second

// Default thresholds in USD.
var (
	DefaultAutoApproveThresholdUSD    = decimal.NewFromInt(50)
	DefaultHardwareWalletThresholdUSD = decimal.NewFromInt(1000)
)

// Options are per-request inputs of Approve. Zero thresholds take defaults.
type Options struct {
	Signers                    []string
	AutoApproveThresholdUSD    decimal.Decimal
	HardwareWalletThresholdUSD decimal.Decimal
	TokenPrices                map[string]decimal.Decimal
	History                    []domain.HistoryEntry // nil loads the fee payer's history
	Thresholds                 anomaly.Thresholds
}

// Gate produces approval verdicts. It is safe for concurrent use.
type Gate struct {
	previewer anomaly.Previewer
	detector  *anomaly.Detector
	audit     storage.ApprovalAuditStore
	now       func() time.Time
	logger    zerolog.Logger

	autoApprove    decimal.Decimal
	hardwareWallet decimal.Decimal
}

// GateOptions contains configuration for creating a Gate.
type GateOptions struct {
	Previewer anomaly.Previewer
	Detector  *anomaly.Detector          // optional; without it anomalies are not folded in
	Audit     storage.ApprovalAuditStore // optional
	Now       func() time.Time
	Logger    zerolog.Logger

	// Defaults applied when a request leaves its thresholds unset.
	AutoApproveThresholdUSD    decimal.Decimal
	HardwareWalletThresholdUSD decimal.Decimal
}

// NewGate creates a new approval gate.
func NewGate(opts GateOptions) *Gate {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	auto := opts.AutoApproveThresholdUSD
	if !auto.IsPositive() {
		auto = DefaultAutoApproveThresholdUSD
	}
	hw := opts.HardwareWalletThresholdUSD
	if !hw.IsPositive() {
		hw = DefaultHardwareWalletThresholdUSD
	}
	return &Gate{
		previewer:      opts.Previewer,
		detector:       opts.Detector,
		audit:          opts.Audit,
		now:            now,
		logger:         opts.Logger.With().Str("component", "approval").Logger(),
		autoApprove:    auto,
		hardwareWallet: hw,
	}
}

// Approve evaluates tx and returns its verdict. Steps:
//  1. Build the preview; a failed simulation is rejected at high risk
//  2. Seed risk factors with the preview warnings, starting at low risk
//  3. Raise for deny-listed and unknown programs
//  4. Sum the USD value of outgoing balance changes
//  5. Raise for values above the confirmation and hardware-wallet thresholds
//  6. Fold in anomaly severities
//  7. Derive confirmation, hardware-wallet and status
//
// The risk level is only ever raised. Only malformed transactions return an error.
func (g *Gate) Approve(ctx context.Context, network domain.Network, tx domain.Transaction, opts Options) (*domain.ApprovalResult, error) {
	autoApprove := opts.AutoApproveThresholdUSD
	if !autoApprove.IsPositive() {
		autoApprove = g.autoApprove
	}
	hardwareWallet := opts.HardwareWalletThresholdUSD
	if !hardwareWallet.IsPositive() {
		hardwareWallet = g.hardwareWallet
	}

	p, err := g.previewer.Preview(ctx, network, tx, previewOptions(opts))
	if err != nil {
		return nil, err
	}

	if !p.Success {
		res := &domain.ApprovalResult{
			Status:                 domain.StatusRejected,
			RiskLevel:              domain.RiskHigh,
			RiskFactors:            []string{p.Error},
			Anomalies:              []domain.Anomaly{},
			Preview:                *p,
			TotalValueUSD:          decimal.Zero,
			RequiresConfirmation:   true,
			RequiresHardwareWallet: false,
		}
		g.record(ctx, network, tx, opts.Signers, res)
		return res, nil
	}

	risk := domain.RiskLow
	factors := append([]string{}, p.Warnings...)

	lists := anomaly.DefaultLists()
	if g.detector != nil {
		lists = g.detector.Lists()
	}
	for _, id := range p.Accounts.ProgramIDs {
		switch {
		case lists.ProgramDenied(id):
			factors = append(factors, fmt.Sprintf("Known scam program: %s", id))
			risk = risk.Raise(domain.RiskHigh)
		case !lists.ProgramAllowed(id):
			factors = append(factors, fmt.Sprintf("Unknown program: %s", id))
			risk = risk.Raise(domain.RiskMedium)
		}
	}

	total := OutgoingValueUSD(p)
	switch {
	case total.GreaterThan(hardwareWallet):
		factors = append(factors, fmt.Sprintf("High value transaction: $%s", total.StringFixed(2)))
		risk = risk.Raise(domain.RiskHigh)
	case total.GreaterThan(autoApprove):
		factors = append(factors, fmt.Sprintf("Value above auto-approve limit: $%s", total.StringFixed(2)))
		risk = risk.Raise(domain.RiskMedium)
	}

	anomalies := []domain.Anomaly{}
	if g.detector != nil {
		hist := opts.History
		if hist == nil {
			hist = g.detector.LoadHistory(ctx, network, tx.Payer())
		}
		anomalies = g.detector.Analyze(ctx, network, tx.WithSigners(opts.Signers), p, hist, opts.Thresholds)
	}
	for _, a := range anomalies {
		to, ok := severityRisk(a.Severity)
		if !ok {
			continue
		}
		factors = append(factors, a.Description)
		risk = risk.Raise(to)
	}

	res := &domain.ApprovalResult{
		RiskLevel:              risk,
		RiskFactors:            factors,
		Anomalies:              anomalies,
		Preview:                *p,
		TotalValueUSD:          total,
		RequiresConfirmation:   risk >= domain.RiskMedium || total.GreaterThan(autoApprove),
		RequiresHardwareWallet: risk >= domain.RiskHigh || total.GreaterThan(hardwareWallet),
	}
	switch {
	case risk >= domain.RiskCritical:
		res.Status = domain.StatusRejected
	case res.RequiresConfirmation:
		res.Status = domain.StatusRequiresConfirmation
	default:
		res.Status = domain.StatusApproved
	}

	g.record(ctx, network, tx, opts.Signers, res)
	return res, nil
}

// History returns the audit trail of tx.
func (g *Gate) History(ctx context.Context, tx domain.Transaction, signers []string) ([]*domain.ApprovalRecord, error) {
	if g.audit == nil {
		return nil, nil
	}
	return g.audit.GetByTxKey(ctx, idhash.ComputeTransactionKey(tx.WithSigners(signers), signers))
}

// OutgoingValueUSD sums the absolute USD value of every decreasing balance.
// Unpriced changes contribute nothing.
func OutgoingValueUSD(p *domain.TransactionPreview) decimal.Decimal {
	total := decimal.Zero
	for _, c := range p.AllChanges() {
		if c.Outgoing() && c.USDValue != nil {
			total = total.Add(c.USDValue.Abs())
		}
	}
	return total
}

// severityRisk maps an anomaly severity onto the risk lattice.
// Info findings do not affect risk.
func severityRisk(s domain.Severity) (domain.RiskLevel, bool) {
	switch s {
	case domain.SeverityWarning:
		return domain.RiskMedium, true
	case domain.SeverityCritical:
		return domain.RiskCritical, true
	}
	return domain.RiskLow, false
}

func (g *Gate) record(ctx context.Context, network domain.Network, tx domain.Transaction, signers []string, res *domain.ApprovalResult) {
	observability.RecordApproval(string(res.Status), res.RiskLevel.String())
	if g.audit == nil {
		return
	}

	value, _ := res.TotalValueUSD.Float64()
	rec := &domain.ApprovalRecord{
		TxKey:                  idhash.ComputeTransactionKey(tx.WithSigners(signers), signers),
		Network:                network,
		FeePayer:               tx.Payer(),
		Status:                 res.Status,
		RiskLevel:              res.RiskLevel,
		RiskFactors:            res.RiskFactors,
		AnomalyCount:           len(res.Anomalies),
		TotalValueUSD:          value,
		RequiresHardwareWallet: res.RequiresHardwareWallet,
		EvaluatedAt:            g.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := g.audit.Insert(ctx, rec); err != nil {
		observability.RecordAuditWriteError()
		g.logger.Warn().Err(err).Str("tx_key", rec.TxKey).Msg("write approval audit")
	}
}

func previewOptions(opts Options) preview.Options {
	return preview.Options{Signers: opts.Signers, TokenPrices: opts.TokenPrices}
}
