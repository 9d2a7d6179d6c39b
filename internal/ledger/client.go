package ledger

import (
	"context"
	"errors"
	"math"

	"tx-guard/internal/domain"
)

// Client is the ledger RPC surface consumed by the pipeline.
type Client interface {
	// Simulate dry-runs tx without signature verification. Post-state of the
	// requested accounts is returned in SimulationResult.PostAccounts.
	// A transaction that would fail yields Success=false and a nil error.
	Simulate(ctx context.Context, tx domain.Transaction, opts SimulateOptions) (*domain.SimulationResult, error)

	// GetAccountInfo returns account state, or nil if the account does not exist.
	GetAccountInfo(ctx context.Context, address string) (*domain.AccountState, error)

	// GetRecentPerformanceSamples returns up to limit samples, newest first.
	GetRecentPerformanceSamples(ctx context.Context, limit int) ([]PerformanceSample, error)

	// GetLatestBlockhash returns the most recent blockhash.
	GetLatestBlockhash(ctx context.Context) (string, error)

	// SendRaw submits a signed wire transaction and returns its signature.
	SendRaw(ctx context.Context, raw []byte) (string, error)

	// Confirm returns the status of signature, or nil if it has not reached
	// the requested commitment yet.
	Confirm(ctx context.Context, signature string, commitment Commitment) (*SignatureStatus, error)

	// GetSignaturesForAddress retrieves signatures for an address, newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetTransaction retrieves a confirmed transaction, or nil if not found.
	GetTransaction(ctx context.Context, signature string) (*TransactionDetail, error)
}

// Provider resolves the client of a network's active endpoint.
type Provider interface {
	Client(network domain.Network) (Client, error)
}

// FixedProvider serves the same client for every network.
type FixedProvider struct {
	C Client
}

// Client returns p.C.
func (p FixedProvider) Client(domain.Network) (Client, error) {
	return p.C, nil
}

// Commitment is the ledger confirmation level.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// SimulateOptions configures a dry-run.
type SimulateOptions struct {
	Accounts   []string // addresses whose post-state is returned
	Commitment Commitment
}

// PerformanceSample is one performance window of the cluster.
type PerformanceSample struct {
	Slot             uint64
	NumTransactions  uint64
	NumSlots         uint64
	SamplePeriodSecs uint64
}

// TPS returns transactions per second over the sample window.
func (s PerformanceSample) TPS() float64 {
	if s.SamplePeriodSecs == 0 {
		return 0
	}
	return float64(s.NumTransactions) / float64(s.SamplePeriodSecs)
}

// DefaultCapacityTPS is the throughput treated as full congestion.
const DefaultCapacityTPS = 5000.0

// ErrNoSamples is returned when no sample covers a non-empty window.
var ErrNoSamples = errors.New("no performance samples")

// MeanTPS averages TPS over the samples with a non-empty window.
func MeanTPS(samples []PerformanceSample) (float64, error) {
	var sum float64
	var n int
	for _, s := range samples {
		if s.SamplePeriodSecs == 0 {
			continue
		}
		sum += s.TPS()
		n++
	}
	if n == 0 {
		return 0, ErrNoSamples
	}
	return sum / float64(n), nil
}

// CongestionFromSamples maps the mean TPS of samples onto [0,1] relative to
// capacityTPS.
func CongestionFromSamples(samples []PerformanceSample, capacityTPS float64) (float64, error) {
	tps, err := MeanTPS(samples)
	if err != nil {
		return 0, err
	}
	if capacityTPS <= 0 {
		capacityTPS = DefaultCapacityTPS
	}
	return math.Max(0, math.Min(1, tps/capacityTPS)), nil
}

// SignatureStatus is the confirmation state of a transaction.
type SignatureStatus struct {
	Slot               uint64
	ConfirmationStatus Commitment
	Err                interface{} // non-nil if the transaction failed on-chain
}

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return
}

// TransactionDetail is a confirmed transaction with the balances needed to
// reconstruct signer history.
type TransactionDetail struct {
	Slot              int64
	Signature         string
	BlockTime         int64 // Unix timestamp (seconds)
	Err               interface{}
	LogMessages       []string
	AccountKeys       []string
	ProgramIDs        []string
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// TokenBalance is a token balance entry of transaction metadata.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       string // raw amount as decimal string
}
