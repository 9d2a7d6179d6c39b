// Package submit sends signed transactions and waits for their confirmation.
package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"

	"tx-guard/internal/domain"
	"tx-guard/internal/history"
	"tx-guard/internal/ledger"
	"tx-guard/internal/observability"
)

// Submitter defaults.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultSendAttempts = 3
	DefaultSendDelay    = 500 * time.Millisecond
)

// Recorder stores the history entry of a confirmed submission.
type Recorder interface {
	Record(ctx context.Context, e domain.HistoryEntry) error
}

// Options are per-request inputs of Submit.
type Options struct {
	// Tx is the decoded transaction, used to record history. Optional.
	Tx *domain.Transaction
	// Signer owns the history entry; defaults to the fee payer of Tx.
	Signer string
	// Timeout overrides the network's confirmation deadline.
	Timeout time.Duration
}

// Submitter sends raw transactions on the active endpoint of a network.
type Submitter struct {
	provider     ledger.Provider
	watchers     WatcherProvider
	recorder     Recorder
	commitment   ledger.Commitment
	pollInterval time.Duration
	attempts     uint
	delay        time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

// SubmitterOptions contains configuration for creating a Submitter.
type SubmitterOptions struct {
	Provider     ledger.Provider
	Watchers     WatcherProvider // optional; polling only without it
	Recorder     Recorder        // optional
	Commitment   ledger.Commitment
	PollInterval time.Duration
	SendAttempts uint
	SendDelay    time.Duration
	Now          func() time.Time
	Logger       zerolog.Logger
}

// NewSubmitter creates a new submitter.
func NewSubmitter(opts SubmitterOptions) *Submitter {
	commitment := opts.Commitment
	if commitment == "" {
		commitment = ledger.CommitmentConfirmed
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	attempts := opts.SendAttempts
	if attempts == 0 {
		attempts = DefaultSendAttempts
	}
	delay := opts.SendDelay
	if delay <= 0 {
		delay = DefaultSendDelay
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Submitter{
		provider:     opts.Provider,
		watchers:     opts.Watchers,
		recorder:     opts.Recorder,
		commitment:   commitment,
		pollInterval: poll,
		attempts:     attempts,
		delay:        delay,
		now:          now,
		logger:       opts.Logger.With().Str("component", "submit").Logger(),
	}
}

// Submit sends raw and waits until it is confirmed, fails on-chain, or the
// confirmation deadline passes. Steps:
//  1. Send with retries on transport errors
//  2. Wait on a websocket subscription and poll statuses in parallel
//  3. A passed deadline yields Status=timed_out
//  4. Record confirmed transactions into the signer's history
//
// Malformed input and send failures return an error.
func (s *Submitter) Submit(ctx context.Context, network domain.Network, raw []byte, opts Options) (*domain.ConfirmationResult, error) {
	if !network.IsValid() {
		return nil, domain.Validationf("unsupported network %q", network)
	}
	if len(raw) == 0 {
		return nil, domain.Validationf("empty transaction")
	}
	signature, err := ledger.SignatureFromWire(raw)
	if err != nil {
		return nil, domain.Validationf("decode transaction: %v", err)
	}

	client, err := s.provider.Client(network)
	if err != nil {
		return nil, err
	}

	start := s.now()
	sent, err := s.send(ctx, client, raw)
	if err != nil {
		res := &domain.ConfirmationResult{Signature: signature, Status: domain.ConfirmationFailed, Err: err.Error()}
		observability.RecordSubmission(string(network), string(res.Status), s.now().Sub(start).Seconds())
		return res, err
	}
	if sent != "" {
		signature = sent
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = network.ConfirmationTimeout()
	}
	res, err := s.confirm(ctx, network, client, signature, timeout)
	observability.RecordSubmission(string(network), string(res.Status), s.now().Sub(start).Seconds())
	s.logger.Info().
		Str("network", string(network)).
		Str("signature", signature).
		Str("status", string(res.Status)).
		Msg("submission finished")

	if res.Status == domain.ConfirmationConfirmed {
		s.record(ctx, signature, opts)
	}
	return res, err
}

func (s *Submitter) send(ctx context.Context, client ledger.Client, raw []byte) (string, error) {
	var signature string
	err := retry.Do(
		func() error {
			sig, err := client.SendRaw(ctx, raw)
			if err != nil {
				return err
			}
			signature = sig
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// Node rejections are final
			var rpcErr *ledger.RPCError
			if errors.As(err, &rpcErr) || errors.Is(err, domain.ErrValidation) {
				return false
			}
			return ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug().Err(err).Uint("attempt", n+1).Msg("send retry")
		}),
	)
	if err != nil {
		var rpcErr *ledger.RPCError
		if errors.As(err, &rpcErr) || errors.Is(err, domain.ErrConnectivity) || errors.Is(err, domain.ErrTimeout) {
			return "", fmt.Errorf("send transaction: %w", err)
		}
		return "", domain.Connectivity("send transaction", err)
	}
	return signature, nil
}

// confirm waits for signature until timeout. Websocket notifications and
// status polls race; the first terminal answer wins.
func (s *Submitter) confirm(ctx context.Context, network domain.Network, client ledger.Client, signature string, timeout time.Duration) (*domain.ConfirmationResult, error) {
	res := &domain.ConfirmationResult{Signature: signature}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var notifications <-chan ledger.SignatureNotification
	if s.watchers != nil {
		if w, err := s.watchers.Watcher(waitCtx, network); err != nil {
			s.logger.Debug().Err(err).Str("network", string(network)).Msg("websocket unavailable, polling")
		} else if ch, err := w.SubscribeSignature(waitCtx, signature, s.commitment); err != nil {
			s.logger.Debug().Err(err).Str("signature", signature).Msg("subscribe failed, polling")
		} else {
			notifications = ch
		}
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	poll := func() bool {
		st, err := client.Confirm(waitCtx, signature, s.commitment)
		if err != nil {
			s.logger.Debug().Err(err).Str("signature", signature).Msg("status poll failed")
			return false
		}
		if st == nil {
			return false
		}
		settle(res, st.Err)
		return true
	}

	if poll() {
		return res, nil
	}
	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				// Connection dropped; keep polling.
				notifications = nil
				continue
			}
			settle(res, n.Err)
			return res, nil
		case <-ticker.C:
			if poll() {
				return res, nil
			}
		case <-waitCtx.Done():
			res.Status = domain.ConfirmationTimedOut
			res.Err = fmt.Sprintf("%v: not confirmed within %s", domain.ErrTimeout, timeout)
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, nil
		}
	}
}

func settle(res *domain.ConfirmationResult, chainErr interface{}) {
	if chainErr != nil {
		res.Status = domain.ConfirmationFailed
		res.Err = fmt.Sprintf("%v", chainErr)
		return
	}
	res.Status = domain.ConfirmationConfirmed
}

func (s *Submitter) record(ctx context.Context, signature string, opts Options) {
	if s.recorder == nil {
		return
	}
	signer := opts.Signer
	var entry domain.HistoryEntry
	if opts.Tx != nil {
		if signer == "" {
			signer = opts.Tx.Payer()
		}
		entry = history.FromTransaction(signer, signature, *opts.Tx, s.now().Unix())
	} else {
		entry = domain.HistoryEntry{Signature: signature, Signer: signer, BlockTime: s.now().Unix()}
	}
	if signer == "" {
		return
	}
	if err := s.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn().Err(err).Str("signature", signature).Msg("record history")
	}
}
