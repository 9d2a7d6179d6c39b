// Package batch packs instructions into the fewest transactions that fit the
// ledger's per-transaction limits.
package batch

import (
	"context"

	"tx-guard/internal/domain"
	"tx-guard/internal/fee"
	"tx-guard/internal/ledger"
)

const (
	DefaultMaxInstructions = 20
	DefaultMaxBytes        = ledger.PacketDataSize
)

// BudgetAttacher prefixes a transaction with compute-budget instructions.
type BudgetAttacher interface {
	AttachBudget(ctx context.Context, network domain.Network, tx domain.Transaction, tier domain.PriorityTier, unitLimit *uint32) domain.Transaction
}

// Batcher groups instructions into transactions.
type Batcher struct {
	attacher        BudgetAttacher
	maxInstructions int
	maxBytes        int
	reserved        int
}

// BatcherOptions contains configuration for creating a Batcher.
type BatcherOptions struct {
	Attacher        BudgetAttacher
	MaxInstructions int // user instructions per transaction; default 20
	MaxBytes        int // estimated bytes per transaction; default 1232
}

// NewBatcher creates a Batcher.
func NewBatcher(opts BatcherOptions) *Batcher {
	maxIx := opts.MaxInstructions
	if maxIx <= 0 {
		maxIx = DefaultMaxInstructions
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Batcher{
		attacher:        opts.Attacher,
		maxInstructions: maxIx,
		maxBytes:        maxBytes,
		reserved:        EstimateSize(fee.SetComputeUnitLimit(0)) + EstimateSize(fee.SetComputeUnitPrice(0)),
	}
}

// EstimateSize returns the estimated serialized size of one instruction.
func EstimateSize(ix domain.Instruction) int {
	return 33 + 34*len(ix.Accounts) + 1 + len(ix.Data)
}

// Batch greedily packs instructions, in order, into transactions paid by
// feePayer. Each transaction holds at most MaxInstructions user instructions
// and at most MaxBytes estimated bytes including the compute-budget
// instructions attached to it.
//
// Compute-budget instructions in the input are not packed as user
// instructions: their unit limit and unit price apply to every batch.
func (b *Batcher) Batch(ctx context.Context, network domain.Network, instructions []domain.Instruction, feePayer string, tier domain.PriorityTier) ([]domain.Transaction, error) {
	if len(instructions) == 0 {
		return []domain.Transaction{}, nil
	}
	if feePayer == "" {
		return nil, domain.Validationf("batch: missing fee payer")
	}

	user, budget, err := liftBudget(instructions)
	if err != nil {
		return nil, err
	}
	if len(user) == 0 {
		return nil, domain.Validationf("batch: no instructions besides compute budget")
	}

	groups, err := b.Plan(user)
	if err != nil {
		return nil, err
	}

	txs := make([]domain.Transaction, 0, len(groups))
	for _, g := range groups {
		tx := domain.NewLegacyTransaction(feePayer, g)
		if err := tx.Validate(); err != nil {
			return nil, err
		}
		txs = append(txs, b.attach(ctx, network, tx, tier, budget))
	}
	return txs, nil
}

// callerBudget is the compute budget requested by the caller's own
// compute-budget instructions.
type callerBudget struct {
	unitLimit *uint32
	unitPrice *uint64
}

// liftBudget separates compute-budget instructions from user instructions.
// Only one unit limit and one unit price are accepted; other compute-budget
// instructions are rejected.
func liftBudget(ixs []domain.Instruction) ([]domain.Instruction, callerBudget, error) {
	var (
		user   = make([]domain.Instruction, 0, len(ixs))
		budget callerBudget
	)
	for i, ix := range ixs {
		if !fee.IsComputeBudget(ix) {
			user = append(user, ix)
			continue
		}
		single := []domain.Instruction{ix}
		if limit, ok := fee.ParseComputeUnitLimit(single); ok {
			if budget.unitLimit != nil {
				return nil, callerBudget{}, domain.Validationf("instruction %d: duplicate compute unit limit", i)
			}
			budget.unitLimit = &limit
			continue
		}
		if price, ok := fee.ParseComputeUnitPrice(single); ok {
			if budget.unitPrice != nil {
				return nil, callerBudget{}, domain.Validationf("instruction %d: duplicate compute unit price", i)
			}
			budget.unitPrice = &price
			continue
		}
		return nil, callerBudget{}, domain.Validationf("instruction %d: unsupported compute-budget instruction", i)
	}
	return user, budget, nil
}

// attach prefixes tx with its compute budget. The caller's limit and price
// win over the attacher's defaults.
func (b *Batcher) attach(ctx context.Context, network domain.Network, tx domain.Transaction, tier domain.PriorityTier, budget callerBudget) domain.Transaction {
	if b.attacher == nil {
		var prefix []domain.Instruction
		if budget.unitLimit != nil {
			prefix = append(prefix, fee.SetComputeUnitLimit(*budget.unitLimit))
		}
		if budget.unitPrice != nil {
			prefix = append(prefix, fee.SetComputeUnitPrice(*budget.unitPrice))
		}
		if len(prefix) == 0 {
			return tx
		}
		return tx.WithInstructions(append(prefix, tx.Instructions()...))
	}

	tx = b.attacher.AttachBudget(ctx, network, tx, tier, budget.unitLimit)
	if budget.unitPrice != nil {
		limit, _ := fee.ParseComputeUnitLimit(tx.Instructions())
		tx = tx.WithInstructions(fee.WithBudget(tx.Instructions(), limit, *budget.unitPrice))
	}
	return tx
}

// Plan splits instructions into order-preserving groups without building
// transactions.
func (b *Batcher) Plan(instructions []domain.Instruction) ([][]domain.Instruction, error) {
	var (
		groups  [][]domain.Instruction
		current []domain.Instruction
		size    = b.reserved
	)
	for i, ix := range instructions {
		est := EstimateSize(ix)
		if b.reserved+est > b.maxBytes {
			return nil, domain.Validationf("instruction %d: estimated %d bytes exceeds the %d byte limit", i, est, b.maxBytes-b.reserved)
		}
		if len(current) == b.maxInstructions || size+est > b.maxBytes {
			groups = append(groups, current)
			current = nil
			size = b.reserved
		}
		current = append(current, ix.Clone())
		size += est
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups, nil
}
