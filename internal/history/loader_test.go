package history

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx-guard/internal/domain"
	"tx-guard/internal/ledger"
	"tx-guard/internal/ledger/stub"
	"tx-guard/internal/storage/memory"
)

func detail(sig string, blockTime int64) *ledger.TransactionDetail {
	return &ledger.TransactionDetail{
		Signature:    sig,
		BlockTime:    blockTime,
		AccountKeys:  []string{"wallet", "bob", "carol"},
		PreBalances:  []uint64{100, 0, 50},
		PostBalances: []uint64{40, 60, 50},
		ProgramIDs:   []string{"prog", "prog"},
		PreTokenBalances: []ledger.TokenBalance{
			{AccountIndex: 2, Mint: "mintA", Owner: "dave", Amount: "5"},
		},
		PostTokenBalances: []ledger.TokenBalance{
			{AccountIndex: 2, Mint: "mintA", Owner: "dave", Amount: "9"},
			{AccountIndex: 3, Mint: "mintB", Owner: "wallet", Amount: "1"},
		},
	}
}

func TestFromDetail(t *testing.T) {
	e := FromDetail("wallet", detail("s1", 10))

	assert.Equal(t, "s1", e.Signature)
	assert.Equal(t, "wallet", e.Signer)
	assert.Equal(t, []string{"prog"}, e.ProgramIDs)
	assert.Equal(t, []string{"mintA", "mintB"}, e.Mints)
	assert.Equal(t, []string{"bob", "dave"}, e.Recipients)
	assert.Equal(t, int64(10), e.BlockTime)
}

func TestLoader_FetchesFromLedgerAndPersists(t *testing.T) {
	client := stub.NewClient()
	client.AddTransaction("wallet", detail("old", 10))
	client.AddTransaction("wallet", detail("new", 20))
	store := memory.NewHistoryStore()

	l := NewLoader(LoaderOptions{Provider: ledger.FixedProvider{C: client}, Store: store, Logger: zerolog.Nop()})
	ctx := context.Background()

	got, err := l.History(ctx, domain.NetworkDevnet, "wallet", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Signature)
	assert.Equal(t, "old", got[1].Signature)

	stored, err := store.GetBySigner(ctx, "wallet", 0)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// Second call is served from the store
	_, err = l.History(ctx, domain.NetworkDevnet, "wallet", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, client.Calls("getSignaturesForAddress"))
}

func TestLoader_SkipsFailedTransactions(t *testing.T) {
	client := stub.NewClient()
	failed := detail("failed", 5)
	failed.Err = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}
	client.AddTransaction("wallet", failed)
	client.AddTransaction("wallet", detail("ok", 6))

	l := NewLoader(LoaderOptions{Provider: ledger.FixedProvider{C: client}, Logger: zerolog.Nop()})
	got, err := l.History(context.Background(), domain.NetworkDevnet, "wallet", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Signature)
}

func TestLoader_LedgerFailure(t *testing.T) {
	client := stub.NewClient()
	client.Err = errors.New("connection refused")

	l := NewLoader(LoaderOptions{Provider: ledger.FixedProvider{C: client}, Logger: zerolog.Nop()})
	_, err := l.History(context.Background(), domain.NetworkDevnet, "wallet", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnectivity)
}

func TestLoader_NoProviderServesStoreOnly(t *testing.T) {
	l := NewLoader(LoaderOptions{Store: memory.NewHistoryStore(), Logger: zerolog.Nop()})
	ctx := context.Background()

	got, err := l.History(ctx, domain.NetworkDevnet, "wallet", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, l.Record(ctx, domain.HistoryEntry{Signer: "wallet", Signature: "s", BlockTime: 1}))
	require.NoError(t, l.Record(ctx, domain.HistoryEntry{Signer: "wallet", Signature: "s", BlockTime: 1}))

	got, err = l.History(ctx, domain.NetworkDevnet, "wallet", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s", got[0].Signature)
}

func TestLoader_EmptySigner(t *testing.T) {
	l := NewLoader(LoaderOptions{Logger: zerolog.Nop()})
	_, err := l.History(context.Background(), domain.NetworkDevnet, "", 10)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStatic(t *testing.T) {
	s := Static{"w": {{Signature: "a"}, {Signature: "b"}}}
	got, err := s.History(context.Background(), domain.NetworkMainnet, "w", 1)
	require.NoError(t, err)
	assert.Equal(t, []domain.HistoryEntry{{Signature: "a"}}, got)
}
