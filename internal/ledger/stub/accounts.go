package stub

import (
	"encoding/binary"

	"github.com/mr-tron/base58"

	"tx-guard/internal/domain"
	"tx-guard/internal/ledger"
)

// TokenAccount builds the state of an SPL token account.
func TokenAccount(mint, owner string, amount uint64) *domain.AccountState {
	data := make([]byte, 165)
	copy(data[0:32], mustDecode(mint))
	copy(data[32:64], mustDecode(owner))
	binary.LittleEndian.PutUint64(data[64:72], amount)
	return &domain.AccountState{
		Lamports: 2039280,
		Owner:    ledger.TokenProgramID,
		Data:     data,
	}
}

// Mint builds the state of an SPL mint with the given decimals.
func Mint(decimals int) *domain.AccountState {
	data := make([]byte, 82)
	data[44] = byte(decimals)
	data[45] = 1 // is_initialized
	return &domain.AccountState{
		Lamports: 1461600,
		Owner:    ledger.TokenProgramID,
		Data:     data,
	}
}

// Wallet builds a system-owned account holding lamports.
func Wallet(lamports uint64) *domain.AccountState {
	return &domain.AccountState{Lamports: lamports, Owner: ledger.SystemProgramID}
}

// Program builds an executable program account.
func Program() *domain.AccountState {
	return &domain.AccountState{Lamports: 1, Owner: "BPFLoaderUpgradeab1e11111111111111111111111", Executable: true}
}

func mustDecode(addr string) []byte {
	b, err := base58.Decode(addr)
	if err != nil || len(b) != 32 {
		panic("stub: invalid address " + addr)
	}
	return b
}
