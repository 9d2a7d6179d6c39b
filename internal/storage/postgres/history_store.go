package postgres

import (
	"context"
	"fmt"

	"tx-guard/internal/domain"
	"tx-guard/internal/storage"
)

// HistoryStore is a PostgreSQL implementation of storage.HistoryStore.
type HistoryStore struct {
	pool *Pool
}

// NewHistoryStore creates a new PostgreSQL history store.
func NewHistoryStore(pool *Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// Insert adds an entry. Returns ErrDuplicateKey if (signer, signature) exists.
func (s *HistoryStore) Insert(ctx context.Context, e *domain.HistoryEntry) error {
	if e == nil || e.Signer == "" || e.Signature == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO signer_history (signer, signature, program_ids, mints, recipients, block_time)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.Signer, e.Signature, nonNil(e.ProgramIDs), nonNil(e.Mints), nonNil(e.Recipients), e.BlockTime)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// GetBySigner returns up to limit entries of signer, newest first.
func (s *HistoryStore) GetBySigner(ctx context.Context, signer string, limit int) ([]*domain.HistoryEntry, error) {
	query := `
		SELECT signer, signature, program_ids, mints, recipients, block_time
		FROM signer_history
		WHERE signer = $1
		ORDER BY block_time DESC, signature ASC
	`
	args := []interface{}{signer}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	var result []*domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.Signer, &e.Signature, &e.ProgramIDs, &e.Mints, &e.Recipients, &e.BlockTime); err != nil {
			return nil, err
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ storage.HistoryStore = (*HistoryStore)(nil)
