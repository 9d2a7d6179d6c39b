package fee

import (
	"encoding/binary"

	"tx-guard/internal/domain"
	"tx-guard/internal/ledger"
)

// Compute-budget instruction discriminators.
const (
	ixSetComputeUnitLimit = 2
	ixSetComputeUnitPrice = 3
)

// SetComputeUnitLimit builds the instruction capping compute units.
func SetComputeUnitLimit(units uint32) domain.Instruction {
	data := make([]byte, 5)
	data[0] = ixSetComputeUnitLimit
	binary.LittleEndian.PutUint32(data[1:], units)
	return domain.Instruction{ProgramID: ledger.ComputeBudgetProgramID, Data: data}
}

// SetComputeUnitPrice builds the instruction setting the priority fee in
// micro-lamports per compute unit.
func SetComputeUnitPrice(microLamports uint64) domain.Instruction {
	data := make([]byte, 9)
	data[0] = ixSetComputeUnitPrice
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return domain.Instruction{ProgramID: ledger.ComputeBudgetProgramID, Data: data}
}

// IsComputeBudget reports whether ix targets the compute-budget program.
func IsComputeBudget(ix domain.Instruction) bool {
	return ix.ProgramID == ledger.ComputeBudgetProgramID
}

// ParseComputeUnitPrice returns the unit price set by the first
// SetComputeUnitPrice instruction in ixs.
func ParseComputeUnitPrice(ixs []domain.Instruction) (uint64, bool) {
	for _, ix := range ixs {
		if IsComputeBudget(ix) && len(ix.Data) == 9 && ix.Data[0] == ixSetComputeUnitPrice {
			return binary.LittleEndian.Uint64(ix.Data[1:]), true
		}
	}
	return 0, false
}

// ParseComputeUnitLimit returns the limit set by the first
// SetComputeUnitLimit instruction in ixs.
func ParseComputeUnitLimit(ixs []domain.Instruction) (uint32, bool) {
	for _, ix := range ixs {
		if IsComputeBudget(ix) && len(ix.Data) == 5 && ix.Data[0] == ixSetComputeUnitLimit {
			return binary.LittleEndian.Uint32(ix.Data[1:]), true
		}
	}
	return 0, false
}

// WithBudget returns the instruction list prefixed by a unit limit and unit
// price. Compute-budget instructions already in ixs are dropped. ixs is not
// modified.
func WithBudget(ixs []domain.Instruction, unitLimit uint32, microLamports uint64) []domain.Instruction {
	out := make([]domain.Instruction, 0, len(ixs)+2)
	out = append(out, SetComputeUnitLimit(unitLimit), SetComputeUnitPrice(microLamports))
	for _, ix := range ixs {
		if IsComputeBudget(ix) {
			continue
		}
		out = append(out, ix.Clone())
	}
	return out
}
