package clickhouse

import (
	"context"
	"fmt"
	"time"

	"tx-guard/internal/domain"
	"tx-guard/internal/storage"
)

// ApprovalAuditStore implements storage.ApprovalAuditStore using ClickHouse.
type ApprovalAuditStore struct {
	conn *Conn
}

// NewApprovalAuditStore creates a new ApprovalAuditStore.
func NewApprovalAuditStore(conn *Conn) *ApprovalAuditStore {
	return &ApprovalAuditStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ApprovalAuditStore = (*ApprovalAuditStore)(nil)

// Insert appends a verdict. The log is append-only; repeated evaluations of
// the same transaction produce separate rows.
func (s *ApprovalAuditStore) Insert(ctx context.Context, r *domain.ApprovalRecord) error {
	if r == nil || r.TxKey == "" {
		return storage.ErrInvalidInput
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO approval_audit (
			tx_key, network, fee_payer, status, risk_level, risk_factors,
			anomaly_count, total_value_usd, requires_hardware_wallet, evaluated_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	factors := r.RiskFactors
	if factors == nil {
		factors = []string{}
	}
	var hw uint8
	if r.RequiresHardwareWallet {
		hw = 1
	}

	err = batch.Append(
		r.TxKey, string(r.Network), r.FeePayer, string(r.Status), r.RiskLevel.String(), factors,
		uint32(r.AnomalyCount), r.TotalValueUSD, hw, r.EvaluatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByTxKey returns all verdicts for a transaction key, oldest first.
func (s *ApprovalAuditStore) GetByTxKey(ctx context.Context, txKey string) ([]*domain.ApprovalRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT tx_key, network, fee_payer, status, risk_level, risk_factors,
			anomaly_count, total_value_usd, requires_hardware_wallet, evaluated_at
		FROM approval_audit
		WHERE tx_key = ?
		ORDER BY evaluated_at ASC
	`, txKey)
	if err != nil {
		return nil, fmt.Errorf("query approval audit: %w", err)
	}
	defer rows.Close()

	var result []*domain.ApprovalRecord
	for rows.Next() {
		var (
			r                      domain.ApprovalRecord
			network, status, level string
			anomalyCount           uint32
			hw                     uint8
			evaluatedAt            time.Time
		)
		if err := rows.Scan(
			&r.TxKey, &network, &r.FeePayer, &status, &level, &r.RiskFactors,
			&anomalyCount, &r.TotalValueUSD, &hw, &evaluatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan approval audit: %w", err)
		}

		r.RiskLevel, err = domain.ParseRiskLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse risk level: %w", err)
		}
		r.Network = domain.Network(network)
		r.Status = domain.ApprovalStatus(status)
		r.AnomalyCount = int(anomalyCount)
		r.RequiresHardwareWallet = hw == 1
		r.EvaluatedAt = evaluatedAt.UTC()
		result = append(result, &r)
	}
	return result, rows.Err()
}
