package anomaly

import "tx-guard/internal/ledger"

// Built-in program allow-list.
var defaultAllowedPrograms = []string{
	ledger.SystemProgramID,
	ledger.ComputeBudgetProgramID,
	ledger.TokenProgramID,
	ledger.Token2022ProgramID,
	ledger.AssociatedTokenProgram,
	ledger.MemoProgramID,
	"Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo",  // memo v1
	"Stake11111111111111111111111111111111111111",  // stake
	"Vote111111111111111111111111111111111111111",  // vote
	"AddressLookupTab1e1111111111111111111111111",  // address lookup table
	"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4",  // Jupiter v6
	"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc",  // Orca whirlpool
	"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8", // Raydium AMM v4
	"metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s",  // token metadata
}

// Lists holds the program and mint allow/deny lists.
// The zero value allows nothing and denies nothing.
type Lists struct {
	allowedPrograms map[string]struct{}
	deniedPrograms  map[string]struct{}
	deniedMints     map[string]struct{}
}

// DefaultLists returns the built-in lists.
func DefaultLists() Lists {
	return NewLists(nil, nil, nil)
}

// NewLists extends the built-in allow-list with allowed and sets the deny-lists.
// A program on both lists is treated as denied.
func NewLists(allowed, deniedPrograms, deniedMints []string) Lists {
	l := Lists{
		allowedPrograms: toSet(defaultAllowedPrograms),
		deniedPrograms:  toSet(deniedPrograms),
		deniedMints:     toSet(deniedMints),
	}
	for _, id := range allowed {
		l.allowedPrograms[id] = struct{}{}
	}
	return l
}

// ProgramAllowed reports whether id is known-safe.
func (l Lists) ProgramAllowed(id string) bool {
	if l.ProgramDenied(id) {
		return false
	}
	_, ok := l.allowedPrograms[id]
	return ok
}

// ProgramDenied reports whether id is a known-scam program.
func (l Lists) ProgramDenied(id string) bool {
	_, ok := l.deniedPrograms[id]
	return ok
}

// MintDenied reports whether mint is a known-scam token.
func (l Lists) MintDenied(mint string) bool {
	_, ok := l.deniedMints[mint]
	return ok
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}
