package domain

import "time"

// Network identifies a ledger cluster.
type Network string

const (
	NetworkMainnet Network = "mainnet-beta"
	NetworkDevnet  Network = "devnet"
	NetworkTestnet Network = "testnet"
)

// Networks lists every supported network in display order.
var Networks = []Network{NetworkMainnet, NetworkDevnet, NetworkTestnet}

// IsValid reports whether n is a supported network.
func (n Network) IsValid() bool {
	switch n {
	case NetworkMainnet, NetworkDevnet, NetworkTestnet:
		return true
	}
	return false
}

// ConfirmationTimeout is how long a submitted transaction may stay unconfirmed
// before it is reported as timed out.
func (n Network) ConfirmationTimeout() time.Duration {
	if n == NetworkMainnet {
		return 60 * time.Second
	}
	return 30 * time.Second
}

// PriorityTier selects the priority-fee multiplier.
type PriorityTier string

const (
	PriorityLow    PriorityTier = "low"
	PriorityMedium PriorityTier = "medium"
	PriorityHigh   PriorityTier = "high"
	PriorityUrgent PriorityTier = "urgent"
)

// Multiplier returns the fee multiplier of the tier. Unknown tiers map to medium.
func (p PriorityTier) Multiplier() float64 {
	switch p {
	case PriorityLow:
		return 0.8
	case PriorityHigh:
		return 1.5
	case PriorityUrgent:
		return 3.0
	default:
		return 1.0
	}
}

// IsValid reports whether p is a known tier.
func (p PriorityTier) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
