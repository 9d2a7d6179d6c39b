package domain

// AnomalyType classifies a suspicious pattern.
type AnomalyType string

const (
	AnomalyUnusualProgram         AnomalyType = "UNUSUAL_PROGRAM"
	AnomalyHighValueTransfer      AnomalyType = "HIGH_VALUE_TRANSFER"
	AnomalyUnusualAccountCreation AnomalyType = "UNUSUAL_ACCOUNT_CREATION"
	AnomalyUnusualTokenTransfer   AnomalyType = "UNUSUAL_TOKEN_TRANSFER"
	AnomalyPotentialScam          AnomalyType = "POTENTIAL_SCAM"
	AnomalyUnusualPattern         AnomalyType = "UNUSUAL_PATTERN"
)

// Severity of an anomaly.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Anomaly is one finding of the detector.
type Anomaly struct {
	Type        AnomalyType            `json:"type"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// HistoryEntry is one past transaction of a signer.
type HistoryEntry struct {
	Signature  string   // transaction signature, unique per signer
	Signer     string   // wallet the entry belongs to
	ProgramIDs []string // programs invoked
	Mints      []string // token mints touched
	Recipients []string // accounts that received value
	BlockTime  int64    // Unix timestamp in seconds, 0 if unknown
}
