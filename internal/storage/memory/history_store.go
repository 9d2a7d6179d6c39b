package memory

import (
	"context"
	"sort"
	"sync"

	"tx-guard/internal/domain"
	"tx-guard/internal/storage"
)

// HistoryStore is an in-memory implementation of storage.HistoryStore.
type HistoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*domain.HistoryEntry // signer -> signature -> entry
}

// NewHistoryStore creates a new in-memory history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		data: make(map[string]map[string]*domain.HistoryEntry),
	}
}

// Insert adds an entry. Returns ErrDuplicateKey if (signer, signature) exists.
func (s *HistoryStore) Insert(_ context.Context, e *domain.HistoryEntry) error {
	if e == nil || e.Signer == "" || e.Signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bySig, ok := s.data[e.Signer]
	if !ok {
		bySig = make(map[string]*domain.HistoryEntry)
		s.data[e.Signer] = bySig
	}
	if _, exists := bySig[e.Signature]; exists {
		return storage.ErrDuplicateKey
	}
	bySig[e.Signature] = copyHistory(e)
	return nil
}

// GetBySigner returns up to limit entries of signer, newest first.
func (s *HistoryStore) GetBySigner(_ context.Context, signer string, limit int) ([]*domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.HistoryEntry
	for _, e := range s.data[signer] {
		result = append(result, copyHistory(e))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].BlockTime != result[j].BlockTime {
			return result[i].BlockTime > result[j].BlockTime
		}
		return result[i].Signature < result[j].Signature
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func copyHistory(e *domain.HistoryEntry) *domain.HistoryEntry {
	cp := *e
	cp.ProgramIDs = append([]string(nil), e.ProgramIDs...)
	cp.Mints = append([]string(nil), e.Mints...)
	cp.Recipients = append([]string(nil), e.Recipients...)
	return &cp
}

var _ storage.HistoryStore = (*HistoryStore)(nil)
