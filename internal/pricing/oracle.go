// Package pricing resolves USD prices of ledger assets.
package pricing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Quote is the USD price of one unit (UI amount) of an asset.
type Quote struct {
	Price  decimal.Decimal `json:"price"`
	Symbol string          `json:"symbol,omitempty"`
}

// Oracle returns USD quotes keyed by mint. Mints without a known price are
// absent from the result; that is not an error.
type Oracle interface {
	GetPrices(ctx context.Context, mints []string) (map[string]Quote, error)
}

// Static is a fixed price table.
type Static map[string]Quote

// GetPrices returns the known subset of mints.
func (s Static) GetPrices(_ context.Context, mints []string) (map[string]Quote, error) {
	out := make(map[string]Quote, len(mints))
	for _, m := range mints {
		if q, ok := s[m]; ok {
			out[m] = q
		}
	}
	return out, nil
}

var _ Oracle = Static(nil)

// Overrides answers the mints it knows locally and asks Next for the rest.
type Overrides struct {
	Static Static
	Next   Oracle
}

// GetPrices merges local quotes over the next oracle's answer. A failing
// next oracle still yields the local subset alongside its error.
func (o Overrides) GetPrices(ctx context.Context, mints []string) (map[string]Quote, error) {
	out, _ := o.Static.GetPrices(ctx, mints)
	if o.Next == nil {
		return out, nil
	}
	var rest []string
	for _, m := range mints {
		if _, ok := out[m]; !ok {
			rest = append(rest, m)
		}
	}
	if len(rest) == 0 {
		return out, nil
	}
	remote, err := o.Next.GetPrices(ctx, rest)
	for m, q := range remote {
		out[m] = q
	}
	return out, err
}

var _ Oracle = Overrides{}
