package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tx-guard/internal/domain"
)

// transactionJSON is the wire shape of a transaction. Version "v0" selects
// the versioned variant; anything else is legacy.
type transactionJSON struct {
	Version        string                      `json:"version,omitempty"`
	FeePayer       string                      `json:"feePayer,omitempty"`
	Blockhash      string                      `json:"blockhash,omitempty"`
	StaticAccounts []domain.AccountMeta        `json:"staticAccounts,omitempty"`
	Instructions   []domain.Instruction        `json:"instructions"`
	Lookups        []domain.AddressTableLookup `json:"lookups,omitempty"`
}

func (t transactionJSON) toDomain() domain.Transaction {
	var tx domain.Transaction
	if t.Version == "v0" {
		tx = domain.NewVersionedTransaction(t.StaticAccounts, t.Instructions, t.Lookups)
	} else {
		tx = domain.NewLegacyTransaction(t.FeePayer, t.Instructions)
	}
	if t.Blockhash != "" {
		tx = tx.WithBlockhash(t.Blockhash)
	}
	return tx
}

// ParseTransaction decodes a transaction in its JSON wire shape.
func ParseTransaction(data []byte) (domain.Transaction, error) {
	var t transactionJSON
	if err := json.Unmarshal(data, &t); err != nil {
		return domain.Transaction{}, domain.Validationf("decode transaction: %v", err)
	}
	tx := t.toDomain()
	if err := tx.Validate(); err != nil {
		return domain.Transaction{}, fmt.Errorf("parse transaction: %w", err)
	}
	return tx, nil
}

func fromTransaction(tx domain.Transaction) transactionJSON {
	out := transactionJSON{
		FeePayer:     tx.Payer(),
		Blockhash:    tx.Blockhash(),
		Instructions: tx.Instructions(),
		Version:      "legacy",
	}
	if tx.Kind() == domain.TxVersioned {
		out.Version = "v0"
		out.StaticAccounts = tx.StaticAccounts()
		out.Lookups = tx.Lookups()
	}
	return out
}

// txRequest is the common body of transaction-scoped operations.
type txRequest struct {
	Network     domain.Network             `json:"network"`
	Transaction transactionJSON            `json:"transaction"`
	Signers     []string                   `json:"signers,omitempty"`
	TokenPrices map[string]decimal.Decimal `json:"tokenPrices,omitempty"`
}

type historyJSON struct {
	Signature  string   `json:"signature"`
	ProgramIDs []string `json:"programIds,omitempty"`
	Mints      []string `json:"mints,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	BlockTime  int64    `json:"blockTime,omitempty"`
}

func toHistory(signer string, in []historyJSON) []domain.HistoryEntry {
	if in == nil {
		return nil
	}
	out := make([]domain.HistoryEntry, 0, len(in))
	for _, h := range in {
		out = append(out, domain.HistoryEntry{
			Signature:  h.Signature,
			Signer:     signer,
			ProgramIDs: h.ProgramIDs,
			Mints:      h.Mints,
			Recipients: h.Recipients,
			BlockTime:  h.BlockTime,
		})
	}
	return out
}

type anomalyRequest struct {
	txRequest
	// History overrides the signer history; omitted loads it from the ledger.
	History []historyJSON `json:"history,omitempty"`
}

type approveRequest struct {
	anomalyRequest
	AutoApproveThresholdUSD    decimal.Decimal `json:"autoApproveThresholdUsd"`
	HardwareWalletThresholdUSD decimal.Decimal `json:"hardwareWalletThresholdUsd"`
}

type approvalRecordJSON struct {
	TxKey                  string                `json:"txKey"`
	Network                domain.Network        `json:"network"`
	FeePayer               string                `json:"feePayer"`
	Status                 domain.ApprovalStatus `json:"status"`
	RiskLevel              domain.RiskLevel      `json:"riskLevel"`
	RiskFactors            []string              `json:"riskFactors"`
	AnomalyCount           int                   `json:"anomalyCount"`
	TotalValueUSD          float64               `json:"totalValueUsd"`
	RequiresHardwareWallet bool                  `json:"requiresHardwareWallet"`
	EvaluatedAt            time.Time             `json:"evaluatedAt"`
}

func fromApprovalRecord(r *domain.ApprovalRecord) approvalRecordJSON {
	return approvalRecordJSON{
		TxKey:                  r.TxKey,
		Network:                r.Network,
		FeePayer:               r.FeePayer,
		Status:                 r.Status,
		RiskLevel:              r.RiskLevel,
		RiskFactors:            r.RiskFactors,
		AnomalyCount:           r.AnomalyCount,
		TotalValueUSD:          r.TotalValueUSD,
		RequiresHardwareWallet: r.RequiresHardwareWallet,
		EvaluatedAt:            r.EvaluatedAt,
	}
}

type budgetRequest struct {
	Network     domain.Network      `json:"network"`
	Transaction transactionJSON     `json:"transaction"`
	Tier        domain.PriorityTier `json:"tier"`
	UnitLimit   *uint32             `json:"unitLimit,omitempty"`
	// Estimate derives the unit limit from a dry-run when UnitLimit is unset.
	Estimate bool     `json:"estimate,omitempty"`
	Signers  []string `json:"signers,omitempty"`
}

type budgetResponse struct {
	Transaction        transactionJSON `json:"transaction"`
	PriorityFee        uint64          `json:"priorityFee"`
	Congestion         float64         `json:"congestion"`
	EstimatedUnitLimit *uint32         `json:"estimatedUnitLimit,omitempty"`
}

type batchRequest struct {
	Network      domain.Network       `json:"network"`
	FeePayer     string               `json:"feePayer"`
	Tier         domain.PriorityTier  `json:"tier"`
	Instructions []domain.Instruction `json:"instructions"`
}

type submitRequest struct {
	Network domain.Network `json:"network"`
	// Raw is the signed wire transaction, base64 in JSON.
	Raw         []byte           `json:"raw"`
	Transaction *transactionJSON `json:"transaction,omitempty"`
	Signer      string           `json:"signer,omitempty"`
	TimeoutMs   int64            `json:"timeoutMs,omitempty"`
}

type endpointJSON struct {
	URL      string         `json:"url"`
	WSURL    string         `json:"wsUrl,omitempty"`
	Name     string         `json:"name"`
	Network  domain.Network `json:"network"`
	Priority int            `json:"priority"`
	Weight   float64        `json:"weight"`
	IsCustom bool           `json:"isCustom"`
	Active   bool           `json:"active"`
	Metrics  *metricsJSON   `json:"metrics,omitempty"`
}

type metricsJSON struct {
	LatencyMs     int64     `json:"latencyMs"`
	Reliability   float64   `json:"reliability"`
	TPS           float64   `json:"tps"`
	SuccessRate   float64   `json:"successRate"`
	Congestion    float64   `json:"congestion"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

func (e endpointJSON) toDomain() domain.RPCEndpoint {
	weight := e.Weight
	if weight == 0 {
		weight = 1
	}
	return domain.RPCEndpoint{
		URL:      e.URL,
		WSURL:    e.WSURL,
		Name:     e.Name,
		Network:  e.Network,
		Priority: e.Priority,
		Weight:   weight,
	}
}

type healthJSON struct {
	Network   domain.Network      `json:"network"`
	Status    domain.HealthStatus `json:"status"`
	Score     float64             `json:"score"`
	Endpoints int                 `json:"endpoints"`
	Active    string              `json:"activeEndpoint,omitempty"`
}

type setActiveRequest struct {
	URL string `json:"url"`
}

type errorJSON struct {
	Error string `json:"error"`
}
