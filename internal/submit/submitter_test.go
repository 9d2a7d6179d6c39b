package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx-guard/internal/domain"
	"tx-guard/internal/history"
	"tx-guard/internal/ledger"
	"tx-guard/internal/ledger/stub"
	"tx-guard/internal/storage/memory"
)

type fakeWatcher struct {
	ch  chan ledger.SignatureNotification
	err error
}

func (w *fakeWatcher) SubscribeSignature(context.Context, string, ledger.Commitment) (<-chan ledger.SignatureNotification, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.ch, nil
}

func (w *fakeWatcher) Close() error { return nil }

type fakeWatchers struct{ w ledger.SignatureWatcher }

func (f fakeWatchers) Watcher(context.Context, domain.Network) (ledger.SignatureWatcher, error) {
	if f.w == nil {
		return nil, errors.New("no websocket endpoint")
	}
	return f.w, nil
}

var (
	payer     = stub.Key("payer")
	recipient = stub.Key("recipient")
)

func signedTx(t *testing.T) (domain.Transaction, []byte, string) {
	t.Helper()
	tx := domain.NewLegacyTransaction(payer, []domain.Instruction{{
		ProgramID: ledger.SystemProgramID,
		Accounts: []domain.AccountMeta{
			{Address: payer, IsSigner: true, IsWritable: true},
			{Address: recipient, IsWritable: true},
		},
		Data: []byte{2, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0},
	}}).WithBlockhash(stub.Key("blockhash"))

	raw, err := ledger.EncodeTransaction(tx)
	require.NoError(t, err)
	sig, err := ledger.SignatureFromWire(raw)
	require.NoError(t, err)
	return tx, raw, sig
}

func newSubmitter(client *stub.Client, opts SubmitterOptions) *Submitter {
	opts.Provider = ledger.FixedProvider{C: client}
	opts.PollInterval = 5 * time.Millisecond
	opts.SendDelay = time.Millisecond
	opts.Logger = zerolog.Nop()
	return NewSubmitter(opts)
}

func TestSubmit_ConfirmedByPolling(t *testing.T) {
	tx, raw, sig := signedTx(t)
	client := stub.NewClient()
	client.Statuses[sig] = &ledger.SignatureStatus{Slot: 10, ConfirmationStatus: ledger.CommitmentFinalized}

	store := memory.NewHistoryStore()
	s := newSubmitter(client, SubmitterOptions{Recorder: history.NewLoader(history.LoaderOptions{Store: store, Logger: zerolog.Nop()})})

	res, err := s.Submit(context.Background(), domain.NetworkDevnet, raw, Options{Tx: &tx})
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationConfirmed, res.Status)
	assert.Equal(t, sig, res.Signature)
	assert.Len(t, client.Sent, 1)

	entries, err := store.GetBySigner(context.Background(), payer, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sig, entries[0].Signature)
	assert.Equal(t, []string{ledger.SystemProgramID}, entries[0].ProgramIDs)
	assert.Equal(t, []string{recipient}, entries[0].Recipients)
}

func TestSubmit_FailedOnChain(t *testing.T) {
	_, raw, sig := signedTx(t)
	client := stub.NewClient()
	client.Statuses[sig] = &ledger.SignatureStatus{Err: map[string]interface{}{"InstructionError": []interface{}{0, "InsufficientFunds"}}}

	store := memory.NewHistoryStore()
	s := newSubmitter(client, SubmitterOptions{Recorder: history.NewLoader(history.LoaderOptions{Store: store, Logger: zerolog.Nop()})})

	res, err := s.Submit(context.Background(), domain.NetworkDevnet, raw, Options{Signer: payer})
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationFailed, res.Status)
	assert.Contains(t, res.Err, "InsufficientFunds")

	entries, err := store.GetBySigner(context.Background(), payer, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubmit_TimesOut(t *testing.T) {
	_, raw, _ := signedTx(t)
	client := stub.NewClient()
	s := newSubmitter(client, SubmitterOptions{})

	res, err := s.Submit(context.Background(), domain.NetworkDevnet, raw, Options{Timeout: 30 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationTimedOut, res.Status)
	assert.Contains(t, res.Err, domain.ErrTimeout.Error())
}

func TestSubmit_CallerCancellation(t *testing.T) {
	_, raw, _ := signedTx(t)
	client := stub.NewClient()
	s := newSubmitter(client, SubmitterOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// Caller deadline shorter than the confirmation timeout
	res, err := s.Submit(ctx, domain.NetworkDevnet, raw, Options{})
	require.Error(t, err)
	assert.Equal(t, domain.ConfirmationTimedOut, res.Status)
}

func TestSubmit_ConfirmedByWebsocket(t *testing.T) {
	_, raw, sig := signedTx(t)
	client := stub.NewClient()
	w := &fakeWatcher{ch: make(chan ledger.SignatureNotification, 1)}
	w.ch <- ledger.SignatureNotification{Signature: sig, Slot: 42}

	s := newSubmitter(client, SubmitterOptions{Watchers: fakeWatchers{w: w}})
	res, err := s.Submit(context.Background(), domain.NetworkMainnet, raw, Options{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationConfirmed, res.Status)
}

func TestSubmit_WebsocketDropFallsBackToPolling(t *testing.T) {
	_, raw, sig := signedTx(t)
	client := stub.NewClient()
	w := &fakeWatcher{ch: make(chan ledger.SignatureNotification)}
	close(w.ch)

	s := newSubmitter(client, SubmitterOptions{Watchers: fakeWatchers{w: w}})
	go func() {
		time.Sleep(20 * time.Millisecond)
		client.SetStatus(sig, &ledger.SignatureStatus{ConfirmationStatus: ledger.CommitmentConfirmed})
	}()

	res, err := s.Submit(context.Background(), domain.NetworkDevnet, raw, Options{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationConfirmed, res.Status)
}

func TestSubmit_SendRetries(t *testing.T) {
	_, raw, _ := signedTx(t)

	t.Run("transport errors are retried", func(t *testing.T) {
		client := stub.NewClient()
		client.Err = errors.New("connection reset")
		s := newSubmitter(client, SubmitterOptions{SendAttempts: 3})

		res, err := s.Submit(context.Background(), domain.NetworkDevnet, raw, Options{})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrConnectivity)
		assert.Equal(t, domain.ConfirmationFailed, res.Status)
		assert.Equal(t, 3, client.Calls("sendRaw"))
	})

	t.Run("node rejections are not retried", func(t *testing.T) {
		client := stub.NewClient()
		client.Err = &ledger.RPCError{Code: -32002, Message: "Blockhash not found"}
		s := newSubmitter(client, SubmitterOptions{SendAttempts: 3})

		_, err := s.Submit(context.Background(), domain.NetworkDevnet, raw, Options{})
		var rpcErr *ledger.RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, 1, client.Calls("sendRaw"))
	})
}

func TestSubmit_Validation(t *testing.T) {
	s := newSubmitter(stub.NewClient(), SubmitterOptions{})

	_, err := s.Submit(context.Background(), domain.NetworkDevnet, nil, Options{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.Submit(context.Background(), domain.NetworkDevnet, []byte{0}, Options{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, raw, _ := signedTx(t)
	_, err = s.Submit(context.Background(), "moonnet", raw, Options{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
