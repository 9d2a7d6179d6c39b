package history

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tx-guard/internal/domain"
	"tx-guard/internal/ledger"
	"tx-guard/internal/storage"
)

const fetchConcurrency = 8

// Loader serves signer history from the store, filling it from the ledger
// when the store has nothing for the signer.
type Loader struct {
	provider ledger.Provider
	store    storage.HistoryStore
	limit    int
	logger   zerolog.Logger
}

// LoaderOptions contains configuration for creating a Loader.
type LoaderOptions struct {
	Provider ledger.Provider      // optional; without it only stored history is served
	Store    storage.HistoryStore // optional
	Limit    int                  // default DefaultLimit
	Logger   zerolog.Logger
}

// NewLoader creates a new history loader.
func NewLoader(opts LoaderOptions) *Loader {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Loader{
		provider: opts.Provider,
		store:    opts.Store,
		limit:    limit,
		logger:   opts.Logger.With().Str("component", "history").Logger(),
	}
}

// History returns up to limit entries of signer, newest first.
// Steps:
// 1. Read the store; a non-empty result is returned as is.
// 2. Otherwise list the signer's signatures on the ledger and fetch each
//    successful transaction concurrently.
// 3. Convert with FromDetail and persist, skipping entries already stored.
func (l *Loader) History(ctx context.Context, network domain.Network, signer string, limit int) ([]domain.HistoryEntry, error) {
	if signer == "" {
		return nil, domain.Validationf("empty signer")
	}
	if limit <= 0 {
		limit = l.limit
	}

	if l.store != nil {
		stored, err := l.store.GetBySigner(ctx, signer, limit)
		if err != nil {
			l.logger.Warn().Err(err).Str("signer", signer).Msg("read stored history")
		} else if len(stored) > 0 {
			out := make([]domain.HistoryEntry, len(stored))
			for i, e := range stored {
				out[i] = *e
			}
			return out, nil
		}
	}

	if l.provider == nil {
		return nil, nil
	}
	entries, err := l.fetch(ctx, network, signer, limit)
	if err != nil {
		return nil, err
	}
	l.persist(ctx, entries)
	return entries, nil
}

// Record stores one entry. Duplicates are ignored.
func (l *Loader) Record(ctx context.Context, e domain.HistoryEntry) error {
	if l.store == nil {
		return nil
	}
	if err := l.store.Insert(ctx, &e); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

func (l *Loader) fetch(ctx context.Context, network domain.Network, signer string, limit int) ([]domain.HistoryEntry, error) {
	client, err := l.provider.Client(network)
	if err != nil {
		return nil, err
	}

	sigs, err := client.GetSignaturesForAddress(ctx, signer, &ledger.SignaturesOpts{Limit: limit})
	if err != nil {
		return nil, domain.Connectivity("get signatures", err)
	}

	details := make([]*ledger.TransactionDetail, len(sigs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, sig := range sigs {
		// Skip failed transactions
		if sig.Err != nil {
			continue
		}
		g.Go(func() error {
			d, err := client.GetTransaction(gctx, sig.Signature)
			if err != nil {
				return fmt.Errorf("get transaction %s: %w", sig.Signature, err)
			}
			details[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, domain.Connectivity("load history", err)
	}

	entries := make([]domain.HistoryEntry, 0, len(details))
	for _, d := range details {
		if d == nil || d.Err != nil {
			continue
		}
		entries = append(entries, FromDetail(signer, d))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].BlockTime > entries[j].BlockTime
	})
	return entries, nil
}

// persist stores entries one by one, counting duplicates.
func (l *Loader) persist(ctx context.Context, entries []domain.HistoryEntry) {
	if l.store == nil {
		return
	}
	var stored, dupes, errs int
	for i := range entries {
		err := l.store.Insert(ctx, &entries[i])
		switch {
		case err == nil:
			stored++
		case errors.Is(err, storage.ErrDuplicateKey):
			dupes++
		default:
			errs++
			l.logger.Warn().Err(err).Str("signature", entries[i].Signature).Msg("store history entry")
		}
	}
	l.logger.Debug().Int("stored", stored).Int("duplicates", dupes).Int("errors", errs).Msg("history persisted")
}

var _ Provider = (*Loader)(nil)
