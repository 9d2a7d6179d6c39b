package domain

import "github.com/shopspring/decimal"

// BalanceChange is a pre/post balance delta of one account.
// RawChange = PostBalance - PreBalance; a negative value is outgoing.
type BalanceChange struct {
	Mint          *string          `json:"mint,omitempty"`   // nil for native currency
	Symbol        *string          `json:"symbol,omitempty"` // nil when unknown
	Decimals      int              `json:"decimals"`
	WalletAddress string           `json:"walletAddress"` // owner of the balance
	Account       string           `json:"account"`       // account holding the balance
	PreBalance    decimal.Decimal  `json:"preBalance"`    // raw units
	PostBalance   decimal.Decimal  `json:"postBalance"`   // raw units
	RawChange     decimal.Decimal  `json:"rawChange"`     // raw units
	USDValue      *decimal.Decimal `json:"usdValue,omitempty"`
}

// TokenAmountChange is a balance change of a token account.
type TokenAmountChange = BalanceChange

// NativeAmountChange is a balance change in native currency.
type NativeAmountChange = BalanceChange

// UIAmount returns RawChange scaled by Decimals.
func (c BalanceChange) UIAmount() decimal.Decimal {
	return c.RawChange.Shift(-int32(c.Decimals))
}

// Outgoing reports whether the balance decreased.
func (c BalanceChange) Outgoing() bool {
	return c.RawChange.IsNegative()
}

// AccountSummary aggregates the account roles of a transaction.
type AccountSummary struct {
	WritableCount int      `json:"writableCount"`
	SignerCount   int      `json:"signerCount"`
	ReadonlyCount int      `json:"readonlyCount"`
	NewAccounts   []string `json:"newAccounts"`
	ProgramIDs    []string `json:"programIds"`
}

// TransactionPreview is an immutable, human-auditable summary of what a
// transaction will do.
type TransactionPreview struct {
	Success         bool                 `json:"success"`
	Error           string               `json:"error,omitempty"`
	Warnings        []string             `json:"warnings"`
	TokenChanges    []TokenAmountChange  `json:"tokenChanges"`
	NativeChanges   []NativeAmountChange `json:"nativeChanges"`
	Logs            []string             `json:"logs"`
	UnitsConsumed   *uint64              `json:"unitsConsumed,omitempty"`
	EstimatedFeeRaw uint64               `json:"estimatedFeeRaw"` // lamports
	Accounts        AccountSummary       `json:"accounts"`
}

// AllChanges returns native changes followed by token changes.
func (p TransactionPreview) AllChanges() []BalanceChange {
	out := make([]BalanceChange, 0, len(p.NativeChanges)+len(p.TokenChanges))
	out = append(out, p.NativeChanges...)
	out = append(out, p.TokenChanges...)
	return out
}
