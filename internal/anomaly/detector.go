// Package anomaly scans a transaction preview and the signer's history for
// suspicious patterns.
package anomaly

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tx-guard/internal/domain"
	"tx-guard/internal/history"
	"tx-guard/internal/ledger"
	"tx-guard/internal/observability"
	"tx-guard/internal/preview"
)

// Default thresholds.
const (
	DefaultUnusualProgramThreshold = 3
	DefaultUnusualTokenThreshold   = 2
	DefaultMaxNewAccounts          = 3
)

// DefaultHighValueUSD is the USD value above which a transfer is flagged.
var DefaultHighValueUSD = decimal.NewFromInt(1000)

var scamKeywords = []string{"airdrop", "free", "claim", "reward", "bonus", "giveaway", "prize", "winner"}

// Thresholds tune the sub-checks. Zero fields take defaults.
type Thresholds struct {
	HighValueUSD            decimal.Decimal `mapstructure:"high_value_usd"`
	UnusualProgramThreshold int             `mapstructure:"unusual_program_threshold"`
	UnusualTokenThreshold   int             `mapstructure:"unusual_token_threshold"`
	MaxNewAccounts          int             `mapstructure:"max_new_accounts"`
}

func (t Thresholds) withDefaults() Thresholds {
	if !t.HighValueUSD.IsPositive() {
		t.HighValueUSD = DefaultHighValueUSD
	}
	if t.UnusualProgramThreshold <= 0 {
		t.UnusualProgramThreshold = DefaultUnusualProgramThreshold
	}
	if t.UnusualTokenThreshold <= 0 {
		t.UnusualTokenThreshold = DefaultUnusualTokenThreshold
	}
	if t.MaxNewAccounts <= 0 {
		t.MaxNewAccounts = DefaultMaxNewAccounts
	}
	return t
}

// Previewer builds the preview a detection runs on.
type Previewer interface {
	Preview(ctx context.Context, network domain.Network, tx domain.Transaction, opts preview.Options) (*domain.TransactionPreview, error)
}

// Options are per-request inputs of Detect.
type Options struct {
	Signers     []string
	History     []domain.HistoryEntry // nil loads the fee payer's history when a provider is configured
	TokenPrices map[string]decimal.Decimal
	Thresholds  Thresholds
}

// Detector runs the anomaly sub-checks. It is safe for concurrent use.
type Detector struct {
	previewer  Previewer
	provider   ledger.Provider
	history    history.Provider
	lists      Lists
	thresholds Thresholds
	logger     zerolog.Logger
}

// DetectorOptions contains configuration for creating a Detector.
type DetectorOptions struct {
	Previewer  Previewer
	Provider   ledger.Provider  // optional; program existence checks are skipped without it
	History    history.Provider // optional
	Lists      *Lists           // default DefaultLists()
	Thresholds Thresholds
	Logger     zerolog.Logger
}

// NewDetector creates a new anomaly detector.
func NewDetector(opts DetectorOptions) *Detector {
	lists := DefaultLists()
	if opts.Lists != nil {
		lists = *opts.Lists
	}
	return &Detector{
		previewer:  opts.Previewer,
		provider:   opts.Provider,
		history:    opts.History,
		lists:      lists,
		thresholds: opts.Thresholds.withDefaults(),
		logger:     opts.Logger.With().Str("component", "anomaly").Logger(),
	}
}

// Lists returns the detector's allow/deny lists.
func (d *Detector) Lists() Lists {
	return d.lists
}

// Detect previews tx and runs every sub-check on the result.
// Only malformed transactions return an error.
func (d *Detector) Detect(ctx context.Context, network domain.Network, tx domain.Transaction, opts Options) ([]domain.Anomaly, error) {
	p, err := d.previewer.Preview(ctx, network, tx, preview.Options{Signers: opts.Signers, TokenPrices: opts.TokenPrices})
	if err != nil {
		return nil, err
	}

	hist := opts.History
	if hist == nil {
		hist = d.LoadHistory(ctx, network, tx.Payer())
	}
	return d.Analyze(ctx, network, tx.WithSigners(opts.Signers), p, hist, opts.Thresholds), nil
}

// LoadHistory returns the signer's history, or nil if it cannot be loaded.
func (d *Detector) LoadHistory(ctx context.Context, network domain.Network, signer string) []domain.HistoryEntry {
	if d.history == nil || signer == "" {
		return nil
	}
	entries, err := d.history.History(ctx, network, signer, 0)
	if err != nil {
		d.logger.Warn().Err(err).Str("signer", signer).Msg("history unavailable")
		return nil
	}
	return entries
}

// Analyze runs all sub-checks on an already built preview. Each check appends
// independently; a nil preview skips the checks that need one.
func (d *Detector) Analyze(ctx context.Context, network domain.Network, tx domain.Transaction, p *domain.TransactionPreview, hist []domain.HistoryEntry, th Thresholds) []domain.Anomaly {
	if th == (Thresholds{}) {
		th = d.thresholds
	} else {
		th = th.withDefaults()
	}
	known := indexHistory(hist)

	out := []domain.Anomaly{}
	out = append(out, d.unusualPrograms(ctx, network, tx, known, th)...)
	if p != nil {
		out = append(out, highValueTransfers(p, th)...)
		out = append(out, unusualAccountCreation(p, th)...)
		out = append(out, d.unusualTokenTransfers(p, known, th)...)
		out = append(out, potentialScam(p)...)
		out = append(out, unusualPattern(tx, p, known)...)
	}

	for _, a := range out {
		observability.RecordAnomaly(string(a.Type), string(a.Severity))
	}
	return out
}

// historyIndex counts how often each program and mint appears in history,
// and which recipients have been paid before.
type historyIndex struct {
	programs   map[string]int
	mints      map[string]int
	recipients map[string]struct{}
}

func indexHistory(hist []domain.HistoryEntry) historyIndex {
	idx := historyIndex{
		programs:   make(map[string]int),
		mints:      make(map[string]int),
		recipients: make(map[string]struct{}),
	}
	for _, e := range hist {
		for _, id := range e.ProgramIDs {
			idx.programs[id]++
		}
		for _, m := range e.Mints {
			idx.mints[m]++
		}
		for _, r := range e.Recipients {
			idx.recipients[r] = struct{}{}
		}
	}
	return idx
}

func (d *Detector) unusualPrograms(ctx context.Context, network domain.Network, tx domain.Transaction, known historyIndex, th Thresholds) []domain.Anomaly {
	var out []domain.Anomaly
	for _, id := range tx.ProgramIDs() {
		if d.lists.ProgramAllowed(id) {
			continue
		}
		if d.lists.ProgramDenied(id) {
			out = append(out, domain.Anomaly{
				Type:        domain.AnomalyUnusualProgram,
				Severity:    domain.SeverityCritical,
				Description: fmt.Sprintf("Program %s is a known scam program", id),
				Details:     map[string]interface{}{"programId": id, "reason": "denylisted"},
			})
			continue
		}
		if exists, ok := d.programExists(ctx, network, id); ok && !exists {
			out = append(out, domain.Anomaly{
				Type:        domain.AnomalyUnusualProgram,
				Severity:    domain.SeverityCritical,
				Description: fmt.Sprintf("Program %s does not exist on-chain", id),
				Details:     map[string]interface{}{"programId": id, "reason": "missing"},
			})
			continue
		}
		if n := known.programs[id]; n < th.UnusualProgramThreshold {
			out = append(out, domain.Anomaly{
				Type:        domain.AnomalyUnusualProgram,
				Severity:    domain.SeverityWarning,
				Description: fmt.Sprintf("Program %s has been used %d time(s) before", id, n),
				Details:     map[string]interface{}{"programId": id, "usageCount": n},
			})
		}
	}
	return out
}

// programExists reports whether the program account exists. ok is false when
// the lookup could not be made.
func (d *Detector) programExists(ctx context.Context, network domain.Network, id string) (exists, ok bool) {
	if d.provider == nil {
		return false, false
	}
	client, err := d.provider.Client(network)
	if err != nil {
		return false, false
	}
	info, err := client.GetAccountInfo(ctx, id)
	if err != nil {
		d.logger.Debug().Err(err).Str("program", id).Msg("program lookup failed")
		return false, false
	}
	return info != nil, true
}

func highValueTransfers(p *domain.TransactionPreview, th Thresholds) []domain.Anomaly {
	var out []domain.Anomaly
	for _, c := range p.AllChanges() {
		if c.USDValue == nil {
			continue
		}
		value := c.USDValue.Abs()
		if !value.GreaterThan(th.HighValueUSD) {
			continue
		}
		out = append(out, domain.Anomaly{
			Type:        domain.AnomalyHighValueTransfer,
			Severity:    domain.SeverityWarning,
			Description: fmt.Sprintf("Transfer of $%s exceeds $%s", value.StringFixed(2), th.HighValueUSD.StringFixed(2)),
			Details: map[string]interface{}{
				"account":  c.Account,
				"usdValue": value.String(),
				"outgoing": c.Outgoing(),
			},
		})
	}
	return out
}

func unusualAccountCreation(p *domain.TransactionPreview, th Thresholds) []domain.Anomaly {
	n := len(p.Accounts.NewAccounts)
	if n <= th.MaxNewAccounts {
		return nil
	}
	return []domain.Anomaly{{
		Type:        domain.AnomalyUnusualAccountCreation,
		Severity:    domain.SeverityWarning,
		Description: fmt.Sprintf("Transaction creates %d new accounts", n),
		Details:     map[string]interface{}{"count": n, "accounts": p.Accounts.NewAccounts},
	}}
}

func (d *Detector) unusualTokenTransfers(p *domain.TransactionPreview, known historyIndex, th Thresholds) []domain.Anomaly {
	var out []domain.Anomaly
	seen := make(map[string]struct{})
	for _, c := range p.TokenChanges {
		if c.Mint == nil {
			continue
		}
		mint := *c.Mint
		if _, ok := seen[mint]; ok {
			continue
		}
		seen[mint] = struct{}{}

		if d.lists.MintDenied(mint) {
			out = append(out, domain.Anomaly{
				Type:        domain.AnomalyUnusualTokenTransfer,
				Severity:    domain.SeverityCritical,
				Description: fmt.Sprintf("Token %s is a known scam token", mint),
				Details:     map[string]interface{}{"mint": mint, "reason": "denylisted"},
			})
			continue
		}
		if n := known.mints[mint]; n < th.UnusualTokenThreshold {
			out = append(out, domain.Anomaly{
				Type:        domain.AnomalyUnusualTokenTransfer,
				Severity:    domain.SeverityInfo,
				Description: fmt.Sprintf("Token %s has been used %d time(s) before", mint, n),
				Details:     map[string]interface{}{"mint": mint, "usageCount": n},
			})
		}
	}
	return out
}

func potentialScam(p *domain.TransactionPreview) []domain.Anomaly {
	for _, kw := range scamKeywords {
		for _, line := range p.Logs {
			if strings.Contains(strings.ToLower(line), kw) {
				return []domain.Anomaly{{
					Type:        domain.AnomalyPotentialScam,
					Severity:    domain.SeverityWarning,
					Description: fmt.Sprintf("Program logs mention %q", kw),
					Details:     map[string]interface{}{"keyword": kw, "log": line},
				}}
			}
		}
	}
	return nil
}

// unusualPattern flags value flowing to accounts never paid before when the
// transaction mixes token and system program calls.
func unusualPattern(tx domain.Transaction, p *domain.TransactionPreview, known historyIndex) []domain.Anomaly {
	var hasToken, hasSystem bool
	for _, id := range tx.ProgramIDs() {
		switch {
		case ledger.IsTokenProgram(id):
			hasToken = true
		case id == ledger.SystemProgramID:
			hasSystem = true
		}
	}
	if !hasToken || !hasSystem {
		return nil
	}

	signers := make(map[string]struct{})
	for _, s := range tx.Signers() {
		signers[s] = struct{}{}
	}

	var out []domain.Anomaly
	flagged := make(map[string]struct{})
	for _, c := range p.AllChanges() {
		if !c.RawChange.IsPositive() || c.WalletAddress == "" {
			continue
		}
		recipient := c.WalletAddress
		if _, ok := signers[recipient]; ok {
			continue
		}
		if _, ok := known.recipients[recipient]; ok {
			continue
		}
		if _, ok := flagged[recipient]; ok {
			continue
		}
		flagged[recipient] = struct{}{}
		out = append(out, domain.Anomaly{
			Type:        domain.AnomalyUnusualPattern,
			Severity:    domain.SeverityInfo,
			Description: fmt.Sprintf("First transfer to %s", recipient),
			Details:     map[string]interface{}{"recipient": recipient},
		})
	}
	return out
}
