package stub

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"sync"

	"github.com/mr-tron/base58"

	"tx-guard/internal/domain"
	"tx-guard/internal/ledger"
)

// Client implements ledger.Client for testing.
type Client struct {
	mu sync.Mutex

	// Accounts is the pre-transaction ledger state.
	Accounts map[string]*domain.AccountState
	// Post overrides post-simulation state; a nil value marks a closed account.
	// Addresses absent from Post keep their pre-transaction state.
	Post map[string]*domain.AccountState

	SimLogs  []string
	SimErr   string
	SimUnits *uint64
	// SimulateFunc replaces the default simulation when set.
	SimulateFunc func(tx domain.Transaction, opts ledger.SimulateOptions) (*domain.SimulationResult, error)

	Samples      []ledger.PerformanceSample
	Blockhash    string
	Statuses     map[string]*ledger.SignatureStatus
	Transactions map[string]*ledger.TransactionDetail
	Signatures   map[string][]ledger.SignatureInfo
	Sent         [][]byte

	// Err, when set, is returned by every call.
	Err error

	calls map[string]int
}

// NewClient creates a new stub ledger client.
func NewClient() *Client {
	return &Client{
		Accounts:     make(map[string]*domain.AccountState),
		Post:         make(map[string]*domain.AccountState),
		Statuses:     make(map[string]*ledger.SignatureStatus),
		Transactions: make(map[string]*ledger.TransactionDetail),
		Signatures:   make(map[string][]ledger.SignatureInfo),
		Blockhash:    Key("blockhash"),
		calls:        make(map[string]int),
	}
}

// Key returns a deterministic on-curve address derived from seed.
func Key(seed string) string {
	h := sha256.Sum256([]byte(seed))
	pub := ed25519.NewKeyFromSeed(h[:]).Public().(ed25519.PublicKey)
	return base58.Encode(pub)
}

// Calls returns how many times method was invoked.
func (c *Client) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// SetAccount sets pre-transaction state of an address.
func (c *Client) SetAccount(address string, state *domain.AccountState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[address] = state
}

// SetPost sets post-simulation state of an address.
func (c *Client) SetPost(address string, state *domain.AccountState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Post[address] = state
}

// SetStatus sets the status reported for signature.
func (c *Client) SetStatus(signature string, st *ledger.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statuses[signature] = st
}

func (c *Client) record(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method]++
	return c.Err
}

// Simulate returns the configured simulation outcome.
func (c *Client) Simulate(_ context.Context, tx domain.Transaction, opts ledger.SimulateOptions) (*domain.SimulationResult, error) {
	if err := c.record("simulate"); err != nil {
		return nil, err
	}
	if c.SimulateFunc != nil {
		return c.SimulateFunc(tx, opts)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	res := &domain.SimulationResult{
		Success:       c.SimErr == "",
		Error:         c.SimErr,
		Logs:          append([]string(nil), c.SimLogs...),
		UnitsConsumed: c.SimUnits,
	}
	if len(opts.Accounts) > 0 {
		res.PostAccounts = make(map[string]*domain.AccountState, len(opts.Accounts))
		for _, addr := range opts.Accounts {
			if post, ok := c.Post[addr]; ok {
				res.PostAccounts[addr] = copyState(post)
				continue
			}
			res.PostAccounts[addr] = copyState(c.Accounts[addr])
		}
	}
	return res, nil
}

// GetAccountInfo returns the pre-transaction state of address.
func (c *Client) GetAccountInfo(_ context.Context, address string) (*domain.AccountState, error) {
	if err := c.record("getAccountInfo"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyState(c.Accounts[address]), nil
}

// GetRecentPerformanceSamples returns the configured samples.
func (c *Client) GetRecentPerformanceSamples(_ context.Context, limit int) ([]ledger.PerformanceSample, error) {
	if err := c.record("getRecentPerformanceSamples"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit > 0 && limit < len(c.Samples) {
		return append([]ledger.PerformanceSample(nil), c.Samples[:limit]...), nil
	}
	return append([]ledger.PerformanceSample(nil), c.Samples...), nil
}

// GetLatestBlockhash returns the configured blockhash.
func (c *Client) GetLatestBlockhash(_ context.Context) (string, error) {
	if err := c.record("getLatestBlockhash"); err != nil {
		return "", err
	}
	return c.Blockhash, nil
}

// SendRaw records raw and returns its first signature.
func (c *Client) SendRaw(_ context.Context, raw []byte) (string, error) {
	if err := c.record("sendRaw"); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.Sent = append(c.Sent, append([]byte(nil), raw...))
	c.mu.Unlock()
	return ledger.SignatureFromWire(raw)
}

// Confirm returns the configured status of signature.
func (c *Client) Confirm(_ context.Context, signature string, commitment ledger.Commitment) (*ledger.SignatureStatus, error) {
	if err := c.record("confirm"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.Statuses[signature]
	if !ok {
		return nil, nil
	}
	if st.Err == nil && !ledger.Reached(st.ConfirmationStatus, commitment) {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

// GetSignaturesForAddress retrieves signatures for an address from the stub store.
func (c *Client) GetSignaturesForAddress(_ context.Context, address string, opts *ledger.SignaturesOpts) ([]ledger.SignatureInfo, error) {
	if err := c.record("getSignaturesForAddress"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sigs := c.Signatures[address]
	if opts != nil && opts.Limit > 0 && opts.Limit < len(sigs) {
		return append([]ledger.SignatureInfo(nil), sigs[:opts.Limit]...), nil
	}
	return append([]ledger.SignatureInfo(nil), sigs...), nil
}

// GetTransaction retrieves a transaction by signature from the stub store.
func (c *Client) GetTransaction(_ context.Context, signature string) (*ledger.TransactionDetail, error) {
	if err := c.record("getTransaction"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.Transactions[signature]
	if !ok {
		return nil, nil
	}
	return tx, nil
}

// AddTransaction adds a confirmed transaction for each of its signers.
func (c *Client) AddTransaction(address string, tx *ledger.TransactionDetail) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
	bt := tx.BlockTime
	c.Signatures[address] = append(c.Signatures[address], ledger.SignatureInfo{
		Signature: tx.Signature,
		Slot:      tx.Slot,
		BlockTime: &bt,
	})
}

func copyState(s *domain.AccountState) *domain.AccountState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Data = append([]byte(nil), s.Data...)
	return &cp
}

var _ ledger.Client = (*Client)(nil)
