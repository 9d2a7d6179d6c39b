package memory

import (
	"context"
	"sort"
	"sync"

	"tx-guard/internal/domain"
	"tx-guard/internal/storage"
)

// ApprovalAuditStore is an in-memory implementation of storage.ApprovalAuditStore.
type ApprovalAuditStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.ApprovalRecord // keyed by tx key
}

// NewApprovalAuditStore creates a new in-memory approval audit store.
func NewApprovalAuditStore() *ApprovalAuditStore {
	return &ApprovalAuditStore{
		data: make(map[string][]*domain.ApprovalRecord),
	}
}

// Insert appends a verdict record.
func (s *ApprovalAuditStore) Insert(_ context.Context, r *domain.ApprovalRecord) error {
	if r == nil || r.TxKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[r.TxKey] = append(s.data[r.TxKey], copyRecord(r))
	return nil
}

// GetByTxKey returns all verdicts for a transaction key, oldest first.
func (s *ApprovalAuditStore) GetByTxKey(_ context.Context, txKey string) ([]*domain.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.ApprovalRecord, 0, len(s.data[txKey]))
	for _, r := range s.data[txKey] {
		result = append(result, copyRecord(r))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].EvaluatedAt.Before(result[j].EvaluatedAt)
	})
	return result, nil
}

func copyRecord(r *domain.ApprovalRecord) *domain.ApprovalRecord {
	cp := *r
	cp.RiskFactors = append([]string(nil), r.RiskFactors...)
	return &cp
}

var _ storage.ApprovalAuditStore = (*ApprovalAuditStore)(nil)
