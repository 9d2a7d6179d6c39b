// Package preview turns a candidate transaction into a human-auditable
// summary of its effects.
package preview

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tx-guard/internal/domain"
	"tx-guard/internal/fee"
	"tx-guard/internal/ledger"
	"tx-guard/internal/observability"
	"tx-guard/internal/pricing"
	"tx-guard/internal/simulation"
)

const (
	maxWritableAccounts = 10
	maxSigners          = 2
	fetchConcurrency    = 8
	fetchTimeout        = 10 * time.Second

	microLamportsPerLamport = 1_000_000
	nativeSymbol            = "SOL"
)

var (
	largeTransferUSD   = decimal.NewFromInt(1000)
	largeNativeAmount  = decimal.NewFromInt(10)
	largeTokenUIAmount = decimal.NewFromInt(1_000_000)
)

// FeeSource supplies the default priority fee for fee estimation.
type FeeSource interface {
	ComputePriorityFee(ctx context.Context, network domain.Network, tier domain.PriorityTier) uint64
}

// Options are per-request inputs of Preview.
type Options struct {
	Signers []string
	// TokenPrices overrides USD prices per UI unit, keyed by mint. The native
	// currency is keyed by the wrapped native mint.
	TokenPrices map[string]decimal.Decimal
}

// Builder builds transaction previews. It is safe for concurrent use.
type Builder struct {
	simulator simulation.Simulator
	provider  ledger.Provider
	fees      FeeSource
	oracle    pricing.Oracle
	logger    zerolog.Logger
}

// BuilderOptions contains configuration for creating a Builder.
type BuilderOptions struct {
	Simulator simulation.Simulator
	Provider  ledger.Provider // pre-state lookups
	Fees      FeeSource       // optional; without it unpriced transactions pay no priority fee
	Oracle    pricing.Oracle  // optional
	Logger    zerolog.Logger
}

// NewBuilder creates a preview builder.
func NewBuilder(opts BuilderOptions) *Builder {
	return &Builder{
		simulator: opts.Simulator,
		provider:  opts.Provider,
		fees:      opts.Fees,
		oracle:    opts.Oracle,
		logger:    opts.Logger.With().Str("component", "preview").Logger(),
	}
}

// Preview simulates tx on network and describes its effects. Steps:
//  1. Validate the transaction and summarize account roles
//  2. Dry-run through the simulation cache
//  3. A failed dry-run or unreachable ledger yields Success=false
//  4. Fetch pre-state of writable accounts and diff against post-state
//  5. Price balance changes, estimate the fee and collect warnings
//
// Only malformed transactions return an error.
func (b *Builder) Preview(ctx context.Context, network domain.Network, tx domain.Transaction, opts Options) (*domain.TransactionPreview, error) {
	tx = tx.WithSigners(opts.Signers)
	if err := ledger.ValidateTransaction(tx); err != nil {
		return nil, err
	}

	p := &domain.TransactionPreview{
		Warnings:      []string{},
		TokenChanges:  []domain.TokenAmountChange{},
		NativeChanges: []domain.NativeAmountChange{},
		Logs:          []string{},
		Accounts:      summarize(tx),
	}

	sim, err := b.simulator.Simulate(ctx, network, tx, opts.Signers)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return nil, err
		}
		p.Error = fmt.Sprintf("simulation unavailable: %v", err)
		p.EstimatedFeeRaw = b.estimateFee(ctx, network, tx, p.Accounts.SignerCount, 0)
		observability.RecordPreview(false)
		return p, nil
	}

	p.Logs = append(p.Logs, sim.Logs...)
	p.UnitsConsumed = sim.UnitsConsumed
	var units uint64
	if sim.UnitsConsumed != nil {
		units = *sim.UnitsConsumed
	}
	p.EstimatedFeeRaw = b.estimateFee(ctx, network, tx, p.Accounts.SignerCount, units)

	if !sim.Success {
		p.Error = sim.Error
		if p.Error == "" {
			p.Error = domain.ErrSimulationFailed.Error()
		}
		observability.RecordPreview(false)
		return p, nil
	}
	p.Success = true

	var unknownDecimals map[string]bool
	d, err := b.diff(ctx, network, tx, sim)
	if err != nil {
		b.logger.Warn().Err(err).Str("network", string(network)).Msg("pre-state unavailable")
		p.Warnings = append(p.Warnings, "Balance changes unavailable: could not load account state")
	} else {
		p.NativeChanges = d.native
		p.TokenChanges = d.token
		p.Accounts.NewAccounts = d.newAccounts
		p.Warnings = append(p.Warnings, d.warnings...)
		unknownDecimals = d.unknownDecimals
		b.price(ctx, p, opts.TokenPrices, unknownDecimals)
	}

	p.Warnings = append(p.Warnings, warnings(tx, p, unknownDecimals)...)
	observability.RecordPreview(true)
	return p, nil
}

func summarize(tx domain.Transaction) domain.AccountSummary {
	s := domain.AccountSummary{
		NewAccounts: []string{},
		ProgramIDs:  tx.ProgramIDs(),
	}
	for _, m := range tx.Accounts() {
		if m.IsWritable {
			s.WritableCount++
		} else {
			s.ReadonlyCount++
		}
		if m.IsSigner {
			s.SignerCount++
		}
	}
	if s.ProgramIDs == nil {
		s.ProgramIDs = []string{}
	}
	return s
}

// estimateFee returns the base signature fee plus the priority fee of units
// at the transaction's own unit price, or the medium-tier price if it sets none.
func (b *Builder) estimateFee(ctx context.Context, network domain.Network, tx domain.Transaction, signers int, units uint64) uint64 {
	total := uint64(signers) * ledger.LamportsPerSignature
	price, ok := fee.ParseComputeUnitPrice(tx.Instructions())
	if !ok && b.fees != nil {
		price = b.fees.ComputePriorityFee(ctx, network, domain.PriorityMedium)
	}
	if units > 0 && price > 0 {
		total += (units*price + microLamportsPerLamport - 1) / microLamportsPerLamport
	}
	return total
}

type diffResult struct {
	native      []domain.NativeAmountChange
	token       []domain.TokenAmountChange
	newAccounts []string
	warnings    []string
	// unknownDecimals holds mints whose decimals could not be read. Their
	// changes stay in raw units and are never priced.
	unknownDecimals map[string]bool
}

// diff compares pre-state fetched from the ledger with simulated post-state.
func (b *Builder) diff(ctx context.Context, network domain.Network, tx domain.Transaction, sim *domain.SimulationResult) (*diffResult, error) {
	if b.provider == nil {
		return nil, domain.Connectivity("pre-state", errors.New("no ledger provider"))
	}
	client, err := b.provider.Client(network)
	if err != nil {
		return nil, err
	}

	writable := tx.WritableAccounts()
	pre, err := fetchAccounts(ctx, client, writable)
	if err != nil {
		return nil, err
	}

	res := &diffResult{
		native:      []domain.NativeAmountChange{},
		token:       []domain.TokenAmountChange{},
		newAccounts:     []string{},
		unknownDecimals: map[string]bool{},
	}
	mintsNeeded := make(map[string]bool)

	for _, addr := range writable {
		before := pre[addr]
		after, simulated := sim.PostAccounts[addr]
		if !simulated {
			continue
		}
		if before == nil && after != nil {
			res.newAccounts = append(res.newAccounts, addr)
		}

		preLamports, postLamports := lamports(before), lamports(after)
		if preLamports != postLamports {
			sym := nativeSymbol
			res.native = append(res.native, domain.NativeAmountChange{
				Symbol:        &sym,
				Decimals:      ledger.NativeDecimals,
				WalletAddress: addr,
				Account:       addr,
				PreBalance:    fromUint64(preLamports),
				PostBalance:   fromUint64(postLamports),
				RawChange:     fromUint64(postLamports).Sub(fromUint64(preLamports)),
			})
		}

		change, ok := tokenChange(addr, before, after)
		if ok {
			res.token = append(res.token, change)
			mintsNeeded[*change.Mint] = true
		}
	}

	if len(mintsNeeded) > 0 {
		decimals := b.mintDecimals(ctx, client, mintsNeeded, pre, sim.PostAccounts)
		for i := range res.token {
			mint := *res.token[i].Mint
			d, ok := decimals[mint]
			if !ok {
				if !res.unknownDecimals[mint] {
					res.unknownDecimals[mint] = true
					res.warnings = append(res.warnings, fmt.Sprintf("Unknown decimals for mint %s", mint))
				}
				continue
			}
			res.token[i].Decimals = d
		}
	}
	return res, nil
}

func fetchAccounts(ctx context.Context, client ledger.Client, addrs []string) (map[string]*domain.AccountState, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	states := make([]*domain.AccountState, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, addr := range addrs {
		g.Go(func() error {
			st, err := client.GetAccountInfo(gctx, addr)
			if err != nil {
				return fmt.Errorf("get account %s: %w", addr, err)
			}
			states[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*domain.AccountState, len(addrs))
	for i, addr := range addrs {
		out[addr] = states[i]
	}
	return out, nil
}

func (b *Builder) mintDecimals(ctx context.Context, client ledger.Client, mints map[string]bool, pre, post map[string]*domain.AccountState) map[string]int {
	out := make(map[string]int, len(mints))
	var missing []string
	for m := range mints {
		if st := pre[m]; st != nil {
			if d, err := ledger.ParseMintDecimals(st.Data); err == nil {
				out[m] = d
				continue
			}
		}
		if st := post[m]; st != nil {
			if d, err := ledger.ParseMintDecimals(st.Data); err == nil {
				out[m] = d
				continue
			}
		}
		missing = append(missing, m)
	}
	if len(missing) == 0 {
		return out
	}

	states, err := fetchAccounts(ctx, client, missing)
	if err != nil {
		b.logger.Warn().Err(err).Msg("mint lookup failed")
		return out
	}
	for m, st := range states {
		if st == nil {
			continue
		}
		if d, err := ledger.ParseMintDecimals(st.Data); err == nil {
			out[m] = d
		}
	}
	return out
}

func tokenChange(addr string, before, after *domain.AccountState) (domain.TokenAmountChange, bool) {
	var preTok, postTok *ledger.TokenAccount
	if ledger.IsTokenAccount(before) {
		preTok, _ = ledger.ParseTokenAccount(before.Data)
	}
	if ledger.IsTokenAccount(after) {
		postTok, _ = ledger.ParseTokenAccount(after.Data)
	}
	if preTok == nil && postTok == nil {
		return domain.TokenAmountChange{}, false
	}

	ref := postTok
	if ref == nil {
		ref = preTok
	}
	var preAmt, postAmt uint64
	if preTok != nil {
		preAmt = preTok.Amount
	}
	if postTok != nil {
		postAmt = postTok.Amount
	}
	if preAmt == postAmt {
		return domain.TokenAmountChange{}, false
	}

	mint := ref.Mint
	return domain.TokenAmountChange{
		Mint:          &mint,
		WalletAddress: ref.Owner,
		Account:       addr,
		PreBalance:    fromUint64(preAmt),
		PostBalance:   fromUint64(postAmt),
		RawChange:     fromUint64(postAmt).Sub(fromUint64(preAmt)),
	}, true
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func lamports(s *domain.AccountState) uint64 {
	if s == nil {
		return 0
	}
	return s.Lamports
}

// price fills USDValue from request overrides, then the oracle. Changes of
// mints in skip are left unpriced.
func (b *Builder) price(ctx context.Context, p *domain.TransactionPreview, overrides map[string]decimal.Decimal, skip map[string]bool) {
	prices := make(map[string]decimal.Decimal, len(overrides))
	for k, v := range overrides {
		prices[k] = v
	}
	symbols := make(map[string]string)

	var lookup []string
	if len(p.NativeChanges) > 0 {
		if _, ok := prices[ledger.NativeMint]; !ok {
			lookup = append(lookup, ledger.NativeMint)
		}
	}
	seen := make(map[string]bool)
	for _, c := range p.TokenChanges {
		mint := *c.Mint
		if skip[mint] || seen[mint] {
			continue
		}
		seen[mint] = true
		if _, ok := prices[mint]; !ok {
			lookup = append(lookup, mint)
		}
	}

	if len(lookup) > 0 && b.oracle != nil {
		quotes, err := b.oracle.GetPrices(ctx, lookup)
		if err != nil {
			b.logger.Warn().Err(err).Msg("price lookup failed")
		}
		for m, q := range quotes {
			prices[m] = q.Price
			if q.Symbol != "" {
				symbols[m] = q.Symbol
			}
		}
	}

	for i := range p.NativeChanges {
		if px, ok := prices[ledger.NativeMint]; ok {
			v := p.NativeChanges[i].UIAmount().Mul(px)
			p.NativeChanges[i].USDValue = &v
		}
	}
	for i := range p.TokenChanges {
		mint := *p.TokenChanges[i].Mint
		if px, ok := prices[mint]; ok && !skip[mint] {
			v := p.TokenChanges[i].UIAmount().Mul(px)
			p.TokenChanges[i].USDValue = &v
		}
		if sym, ok := symbols[mint]; ok {
			p.TokenChanges[i].Symbol = &sym
		}
	}
}

func warnings(tx domain.Transaction, p *domain.TransactionPreview, unknownDecimals map[string]bool) []string {
	var out []string
	if n := p.Accounts.WritableCount; n > maxWritableAccounts {
		out = append(out, fmt.Sprintf("Transaction modifies %d accounts", n))
	}
	if n := p.Accounts.SignerCount; n > maxSigners {
		out = append(out, fmt.Sprintf("Transaction requires %d signers", n))
	}
	if n := len(p.Accounts.NewAccounts); n > 0 {
		out = append(out, fmt.Sprintf("Transaction creates %d new account(s)", n))
	}
	for _, id := range tx.ProgramIDs() {
		if ledger.IsTokenProgram(id) {
			out = append(out, "Transaction involves token transfers")
			break
		}
	}

	for _, c := range p.NativeChanges {
		if w, ok := largeTransfer(c, largeNativeAmount); ok {
			out = append(out, w)
		}
	}
	for _, c := range p.TokenChanges {
		if unknownDecimals[*c.Mint] {
			continue
		}
		if w, ok := largeTransfer(c, largeTokenUIAmount); ok {
			out = append(out, w)
		}
	}
	return out
}

func largeTransfer(c domain.BalanceChange, unpricedLimit decimal.Decimal) (string, bool) {
	label := "tokens"
	if c.Symbol != nil {
		label = *c.Symbol
	} else if c.Mint != nil {
		label = shortAddress(*c.Mint)
	}

	if c.USDValue != nil {
		if c.USDValue.Abs().GreaterThan(largeTransferUSD) {
			return fmt.Sprintf("Large transfer: $%s of %s", c.USDValue.Abs().StringFixed(2), label), true
		}
		return "", false
	}
	amount := c.UIAmount().Abs()
	if amount.GreaterThan(unpricedLimit) {
		return fmt.Sprintf("Large transfer: %s %s", amount.String(), label), true
	}
	return "", false
}

func shortAddress(a string) string {
	if len(a) <= 8 {
		return a
	}
	return a[:4] + "..." + a[len(a)-4:]
}
