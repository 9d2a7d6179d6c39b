package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransaction_AccountsLegacyAddsFeePayer(t *testing.T) {
	tx := NewLegacyTransaction("payer", []Instruction{
		{ProgramID: "prog1", Accounts: []AccountMeta{
			{Address: "a", IsWritable: true},
			{Address: "payer"},
			{Address: "b"},
		}},
		{ProgramID: "prog2", Accounts: []AccountMeta{
			{Address: "b", IsSigner: true},
		}},
	})

	accounts := tx.Accounts()
	require.Len(t, accounts, 3)
	assert.Equal(t, AccountMeta{Address: "payer", IsSigner: true, IsWritable: true}, accounts[0])
	assert.Equal(t, AccountMeta{Address: "a", IsWritable: true}, accounts[1])
	assert.Equal(t, AccountMeta{Address: "b", IsSigner: true}, accounts[2])

	assert.Equal(t, []string{"prog1", "prog2"}, tx.ProgramIDs())
	assert.Equal(t, []string{"payer", "b"}, tx.Signers())
	assert.Equal(t, []string{"payer", "a"}, tx.WritableAccounts())
}

func TestTransaction_AccountsVersionedUsesStaticAndLookups(t *testing.T) {
	tx := NewVersionedTransaction(
		[]AccountMeta{{Address: "payer", IsSigner: true, IsWritable: true}, {Address: "ro"}},
		[]Instruction{{ProgramID: "prog", Accounts: []AccountMeta{{Address: "ro", IsWritable: true}}}},
		[]AddressTableLookup{{
			TableAddress:    "table",
			WritableIndexes: []uint8{0},
			ReadonlyIndexes: []uint8{1},
			Writable:        []string{"lw"},
			Readonly:        []string{"lr"},
		}},
	)

	require.NoError(t, tx.Validate())
	assert.Equal(t, "payer", tx.Payer())

	accounts := tx.Accounts()
	require.Len(t, accounts, 4)
	assert.True(t, accounts[1].IsWritable, "roles are merged across references")
	assert.Equal(t, "lw", accounts[2].Address)
	assert.True(t, accounts[2].IsWritable)
	assert.False(t, accounts[3].IsWritable)
}

func TestTransaction_WithInstructionsDoesNotMutateOriginal(t *testing.T) {
	orig := []Instruction{{ProgramID: "p", Data: []byte{1, 2}}}
	tx := NewLegacyTransaction("payer", orig)

	next := tx.WithInstructions(append([]Instruction{{ProgramID: "budget"}}, tx.Instructions()...))
	assert.Len(t, tx.Instructions(), 1)
	assert.Len(t, next.Instructions(), 2)

	orig[0].Data[0] = 9
	assert.Equal(t, byte(1), tx.Instructions()[0].Data[0])
}

func TestTransaction_Validate(t *testing.T) {
	tests := []struct {
		name string
		tx   Transaction
	}{
		{"missing payer", NewLegacyTransaction("", nil)},
		{"missing program", NewLegacyTransaction("payer", []Instruction{{}})},
		{"empty account", NewLegacyTransaction("payer", []Instruction{{ProgramID: "p", Accounts: []AccountMeta{{}}}})},
		{"versioned payer not signer", NewVersionedTransaction([]AccountMeta{{Address: "payer"}}, nil, nil)},
		{"unresolved lookup", NewVersionedTransaction(
			[]AccountMeta{{Address: "payer", IsSigner: true, IsWritable: true}}, nil,
			[]AddressTableLookup{{TableAddress: "t", WritableIndexes: []uint8{1}}})},
		{"zero value", Transaction{kind: TxKind(7), feePayer: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestRiskLevel_RaiseNeverLowers(t *testing.T) {
	lvl := RiskLow
	steps := []RiskLevel{RiskMedium, RiskLow, RiskHigh, RiskMedium, RiskCritical, RiskLow}
	prev := lvl
	for _, s := range steps {
		lvl = lvl.Raise(s)
		assert.GreaterOrEqual(t, lvl, prev)
		prev = lvl
	}
	assert.Equal(t, RiskCritical, lvl)
}

func TestPriorityTier_Multiplier(t *testing.T) {
	assert.Equal(t, 0.8, PriorityLow.Multiplier())
	assert.Equal(t, 1.0, PriorityMedium.Multiplier())
	assert.Equal(t, 1.5, PriorityHigh.Multiplier())
	assert.Equal(t, 3.0, PriorityUrgent.Multiplier())
	assert.Equal(t, 1.0, PriorityTier("bogus").Multiplier())
}
