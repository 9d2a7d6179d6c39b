// Package history loads and records the past transactions of signers.
package history

import (
	"context"

	"github.com/shopspring/decimal"

	"tx-guard/internal/domain"
	"tx-guard/internal/ledger"
)

// DefaultLimit is the number of past transactions considered per signer.
const DefaultLimit = 100

// Provider returns the recent history of a signer, newest first.
type Provider interface {
	History(ctx context.Context, network domain.Network, signer string, limit int) ([]domain.HistoryEntry, error)
}

// Static serves fixed entries regardless of network.
type Static map[string][]domain.HistoryEntry

// History returns the entries of signer, truncated to limit.
func (s Static) History(_ context.Context, _ domain.Network, signer string, limit int) ([]domain.HistoryEntry, error) {
	entries := s[signer]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return append([]domain.HistoryEntry(nil), entries...), nil
}

// FromDetail converts a confirmed transaction into the history entry of signer.
// Recipients are accounts other than signer whose native or token balance increased.
func FromDetail(signer string, d *ledger.TransactionDetail) domain.HistoryEntry {
	entry := domain.HistoryEntry{
		Signature:  d.Signature,
		Signer:     signer,
		ProgramIDs: dedup(d.ProgramIDs),
		BlockTime:  d.BlockTime,
	}

	var mints, recipients []string
	for _, b := range d.PreTokenBalances {
		mints = append(mints, b.Mint)
	}
	for _, b := range d.PostTokenBalances {
		mints = append(mints, b.Mint)
	}
	entry.Mints = dedup(mints)

	for i, key := range d.AccountKeys {
		if key == signer || i >= len(d.PreBalances) || i >= len(d.PostBalances) {
			continue
		}
		if d.PostBalances[i] > d.PreBalances[i] {
			recipients = append(recipients, key)
		}
	}

	pre := make(map[int]decimal.Decimal, len(d.PreTokenBalances))
	for _, b := range d.PreTokenBalances {
		pre[b.AccountIndex] = parseAmount(b.Amount)
	}
	for _, b := range d.PostTokenBalances {
		if b.Owner == "" || b.Owner == signer {
			continue
		}
		if parseAmount(b.Amount).GreaterThan(pre[b.AccountIndex]) {
			recipients = append(recipients, b.Owner)
		}
	}
	entry.Recipients = dedup(recipients)

	return entry
}

// FromTransaction builds the entry recorded after signer submitted tx.
func FromTransaction(signer, signature string, tx domain.Transaction, blockTime int64) domain.HistoryEntry {
	var recipients []string
	for _, acc := range tx.Accounts() {
		if acc.IsWritable && !acc.IsSigner {
			recipients = append(recipients, acc.Address)
		}
	}
	return domain.HistoryEntry{
		Signature:  signature,
		Signer:     signer,
		ProgramIDs: tx.ProgramIDs(),
		Recipients: recipients,
		BlockTime:  blockTime,
	}
}

func parseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func dedup(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
