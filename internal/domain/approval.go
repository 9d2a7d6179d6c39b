package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel is an ordered lattice: low < medium < high < critical.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	}
	return fmt.Sprintf("RiskLevel(%d)", int(r))
}

// Raise returns the higher of r and to. A level is never lowered.
func (r RiskLevel) Raise(to RiskLevel) RiskLevel {
	if to > r {
		return to
	}
	return r
}

// MarshalJSON encodes the level by name.
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a level name.
func (r *RiskLevel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	lvl, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = lvl
	return nil
}

// ParseRiskLevel parses a level name.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch s {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	case "critical":
		return RiskCritical, nil
	}
	return RiskLow, Validationf("unknown risk level %q", s)
}

// ApprovalStatus is the verdict of the approval gate.
type ApprovalStatus string

const (
	StatusApproved             ApprovalStatus = "approved"
	StatusRejected             ApprovalStatus = "rejected"
	StatusPending              ApprovalStatus = "pending"
	StatusRequiresConfirmation ApprovalStatus = "requires_confirmation"
)

// ApprovalResult is the single authoritative verdict for a transaction.
type ApprovalResult struct {
	Status                 ApprovalStatus     `json:"status"`
	RiskLevel              RiskLevel          `json:"riskLevel"`
	RiskFactors            []string           `json:"riskFactors"`
	Anomalies              []Anomaly          `json:"anomalies"`
	Preview                TransactionPreview `json:"preview"`
	TotalValueUSD          decimal.Decimal    `json:"totalValueUsd"`
	RequiresConfirmation   bool               `json:"requiresConfirmation"`
	RequiresHardwareWallet bool               `json:"requiresHardwareWallet"`
}

// ApprovalRecord is an audit row for one verdict.
type ApprovalRecord struct {
	TxKey                  string    // content hash of the evaluated transaction
	Network                Network
	FeePayer               string
	Status                 ApprovalStatus
	RiskLevel              RiskLevel
	RiskFactors            []string
	AnomalyCount           int
	TotalValueUSD          float64
	RequiresHardwareWallet bool
	EvaluatedAt            time.Time
}

// ConfirmationStatus is the terminal state of a submitted transaction.
type ConfirmationStatus string

const (
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationFailed    ConfirmationStatus = "failed"
	ConfirmationTimedOut  ConfirmationStatus = "timed_out"
)

// ConfirmationResult is the outcome of submitting a signed transaction.
type ConfirmationResult struct {
	Signature string             `json:"signature"`
	Status    ConfirmationStatus `json:"status"`
	Err       string             `json:"error,omitempty"`
}
