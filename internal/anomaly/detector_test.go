package anomaly

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx-guard/internal/domain"
	"tx-guard/internal/history"
	"tx-guard/internal/ledger"
	"tx-guard/internal/ledger/stub"
	"tx-guard/internal/preview"
)

type fakePreviewer struct {
	p   *domain.TransactionPreview
	err error
}

func (f fakePreviewer) Preview(context.Context, domain.Network, domain.Transaction, preview.Options) (*domain.TransactionPreview, error) {
	return f.p, f.err
}

var (
	payer   = stub.Key("payer")
	unknown = stub.Key("unknown-program")
	mint    = stub.Key("mint")
)

func txWith(programs ...string) domain.Transaction {
	var ixs []domain.Instruction
	for _, p := range programs {
		ixs = append(ixs, domain.Instruction{ProgramID: p, Data: []byte{1}})
	}
	return domain.NewLegacyTransaction(payer, ixs)
}

func emptyPreview() *domain.TransactionPreview {
	return &domain.TransactionPreview{Success: true, Accounts: domain.AccountSummary{NewAccounts: []string{}}}
}

func ofType(list []domain.Anomaly, t domain.AnomalyType) []domain.Anomaly {
	var out []domain.Anomaly
	for _, a := range list {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

func usd(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestAnalyze_UnusualProgram(t *testing.T) {
	denied := stub.Key("scam-program")
	lists := NewLists(nil, []string{denied}, nil)

	client := stub.NewClient()
	client.SetAccount(unknown, stub.Program())

	tests := []struct {
		name     string
		programs []string
		history  []domain.HistoryEntry
		severity domain.Severity // empty: no anomaly
	}{
		{"allow-listed", []string{ledger.SystemProgramID}, nil, ""},
		{"deny-listed", []string{denied}, nil, domain.SeverityCritical},
		{"missing on-chain", []string{stub.Key("ghost")}, nil, domain.SeverityCritical},
		{"rarely used", []string{unknown}, []domain.HistoryEntry{{ProgramIDs: []string{unknown}}}, domain.SeverityWarning},
		{"used often", []string{unknown}, []domain.HistoryEntry{
			{ProgramIDs: []string{unknown}}, {ProgramIDs: []string{unknown}}, {ProgramIDs: []string{unknown}},
		}, ""},
	}

	d := NewDetector(DetectorOptions{Provider: ledger.FixedProvider{C: client}, Lists: &lists, Logger: zerolog.Nop()})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ofType(d.Analyze(context.Background(), domain.NetworkDevnet, txWith(tt.programs...), emptyPreview(), tt.history, Thresholds{}), domain.AnomalyUnusualProgram)
			if tt.severity == "" {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.severity, got[0].Severity)
		})
	}
}

func TestAnalyze_ProgramLookupFailureFallsBackToHistory(t *testing.T) {
	client := stub.NewClient()
	client.Err = assert.AnError

	d := NewDetector(DetectorOptions{Provider: ledger.FixedProvider{C: client}, Logger: zerolog.Nop()})
	got := ofType(d.Analyze(context.Background(), domain.NetworkDevnet, txWith(unknown), emptyPreview(), nil, Thresholds{}), domain.AnomalyUnusualProgram)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SeverityWarning, got[0].Severity)
}

func TestAnalyze_HighValueAndAccountCreation(t *testing.T) {
	p := emptyPreview()
	p.NativeChanges = []domain.NativeAmountChange{
		{Account: payer, WalletAddress: payer, RawChange: decimal.NewFromInt(-12_000_000_000), Decimals: 9, USDValue: usd(-1200)},
		{Account: "small", WalletAddress: "small", RawChange: decimal.NewFromInt(1), Decimals: 9, USDValue: usd(5)},
	}
	p.Accounts.NewAccounts = []string{"a", "b", "c", "d"}

	d := NewDetector(DetectorOptions{Logger: zerolog.Nop()})
	got := d.Analyze(context.Background(), domain.NetworkDevnet, txWith(ledger.SystemProgramID), p, nil, Thresholds{})

	high := ofType(got, domain.AnomalyHighValueTransfer)
	require.Len(t, high, 1)
	assert.Equal(t, domain.SeverityWarning, high[0].Severity)
	assert.Equal(t, true, high[0].Details["outgoing"])

	created := ofType(got, domain.AnomalyUnusualAccountCreation)
	require.Len(t, created, 1)
	assert.Equal(t, domain.SeverityWarning, created[0].Severity)

	// Custom threshold disables the high-value finding
	got = d.Analyze(context.Background(), domain.NetworkDevnet, txWith(ledger.SystemProgramID), p, nil, Thresholds{HighValueUSD: decimal.NewFromInt(5000)})
	assert.Empty(t, ofType(got, domain.AnomalyHighValueTransfer))
}

func TestAnalyze_UnusualTokenTransfer(t *testing.T) {
	scam := stub.Key("scam-mint")
	lists := NewLists(nil, nil, []string{scam})
	d := NewDetector(DetectorOptions{Lists: &lists, Logger: zerolog.Nop()})

	p := emptyPreview()
	p.TokenChanges = []domain.TokenAmountChange{
		{Mint: &scam, Account: "a1", RawChange: decimal.NewFromInt(-1)},
		{Mint: &mint, Account: "a2", RawChange: decimal.NewFromInt(-1)},
		{Mint: &mint, Account: "a3", RawChange: decimal.NewFromInt(1)},
	}
	hist := []domain.HistoryEntry{{Mints: []string{mint}}}

	got := ofType(d.Analyze(context.Background(), domain.NetworkDevnet, txWith(ledger.TokenProgramID), p, hist, Thresholds{}), domain.AnomalyUnusualTokenTransfer)
	require.Len(t, got, 2)
	assert.Equal(t, domain.SeverityCritical, got[0].Severity)
	assert.Equal(t, domain.SeverityInfo, got[1].Severity)

	hist = append(hist, domain.HistoryEntry{Mints: []string{mint}})
	got = ofType(d.Analyze(context.Background(), domain.NetworkDevnet, txWith(ledger.TokenProgramID), p, hist, Thresholds{}), domain.AnomalyUnusualTokenTransfer)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SeverityCritical, got[0].Severity)
}

func TestAnalyze_PotentialScamFirstKeywordOnly(t *testing.T) {
	p := emptyPreview()
	p.Logs = []string{"Program log: Congratulations, you won a giveaway!", "Program log: CLAIM your FREE prize"}

	d := NewDetector(DetectorOptions{Logger: zerolog.Nop()})
	got := ofType(d.Analyze(context.Background(), domain.NetworkDevnet, txWith(ledger.SystemProgramID), p, nil, Thresholds{}), domain.AnomalyPotentialScam)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SeverityWarning, got[0].Severity)
	assert.Equal(t, "free", got[0].Details["keyword"])
}

func TestAnalyze_UnusualPattern(t *testing.T) {
	friend, stranger := stub.Key("friend"), stub.Key("stranger")
	p := emptyPreview()
	p.NativeChanges = []domain.NativeAmountChange{
		{WalletAddress: payer, RawChange: decimal.NewFromInt(-10)},
		{WalletAddress: friend, RawChange: decimal.NewFromInt(5)},
		{WalletAddress: stranger, RawChange: decimal.NewFromInt(5)},
	}
	p.TokenChanges = []domain.TokenAmountChange{
		{Mint: &mint, WalletAddress: stranger, RawChange: decimal.NewFromInt(3)},
	}
	hist := []domain.HistoryEntry{{Recipients: []string{friend}}, {Mints: []string{mint}}, {Mints: []string{mint}}}

	d := NewDetector(DetectorOptions{Logger: zerolog.Nop()})
	ctx := context.Background()

	got := ofType(d.Analyze(ctx, domain.NetworkDevnet, txWith(ledger.SystemProgramID, ledger.TokenProgramID), p, hist, Thresholds{}), domain.AnomalyUnusualPattern)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SeverityInfo, got[0].Severity)
	assert.Equal(t, stranger, got[0].Details["recipient"])

	// Token program alone is not the pattern
	got = ofType(d.Analyze(ctx, domain.NetworkDevnet, txWith(ledger.TokenProgramID), p, hist, Thresholds{}), domain.AnomalyUnusualPattern)
	assert.Empty(t, got)
}

func TestDetect_GiveawayLogs(t *testing.T) {
	p := emptyPreview()
	p.Logs = []string{"Congratulations, you won a giveaway!"}
	hist := history.Static{payer: {{ProgramIDs: []string{ledger.SystemProgramID}}}}

	d := NewDetector(DetectorOptions{Previewer: fakePreviewer{p: p}, History: hist, Logger: zerolog.Nop()})
	got, err := d.Detect(context.Background(), domain.NetworkMainnet, txWith(ledger.SystemProgramID), Options{})
	require.NoError(t, err)

	scam := ofType(got, domain.AnomalyPotentialScam)
	require.Len(t, scam, 1)
	assert.Equal(t, domain.SeverityWarning, scam[0].Severity)
	assert.Equal(t, "giveaway", scam[0].Details["keyword"])
}

func TestDetect_ValidationErrorPropagates(t *testing.T) {
	d := NewDetector(DetectorOptions{Previewer: fakePreviewer{err: domain.Validationf("bad")}, Logger: zerolog.Nop()})
	_, err := d.Detect(context.Background(), domain.NetworkMainnet, txWith(ledger.SystemProgramID), Options{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAnalyze_EmptyHistoryAndPreview(t *testing.T) {
	d := NewDetector(DetectorOptions{Logger: zerolog.Nop()})
	got := d.Analyze(context.Background(), domain.NetworkDevnet, txWith(ledger.SystemProgramID), nil, nil, Thresholds{})
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
