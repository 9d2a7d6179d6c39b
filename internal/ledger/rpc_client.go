package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"tx-guard/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements Client using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new ledger RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the RPC URL of the client.
func (c *HTTPClient) Endpoint() string { return c.endpoint }

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries and exponential backoff.
// Transport failures surface as domain.ErrConnectivity, an expired context
// as domain.ErrTimeout. RPC errors are returned as *RPCError without retry.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return contextError(method, ctx.Err())
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return contextError(method, ctx.Err())
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return domain.Connectivity(method, fmt.Errorf("max retries exceeded: %w", lastErr))
}

func contextError(method string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", domain.ErrTimeout, method, err)
	}
	return err
}

// Simulate dry-runs tx with signature verification disabled and the
// blockhash replaced by the node.
func (c *HTTPClient) Simulate(ctx context.Context, tx domain.Transaction, opts SimulateOptions) (*domain.SimulationResult, error) {
	wire, err := EncodeTransaction(tx)
	if err != nil {
		return nil, err
	}

	commitment := opts.Commitment
	if commitment == "" {
		commitment = CommitmentProcessed
	}
	config := map[string]interface{}{
		"encoding":               "base64",
		"sigVerify":              false,
		"replaceRecentBlockhash": true,
		"commitment":             string(commitment),
	}
	if len(opts.Accounts) > 0 {
		config["accounts"] = map[string]interface{}{
			"encoding":  "base64",
			"addresses": opts.Accounts,
		}
	}

	params := []interface{}{base64.StdEncoding.EncodeToString(wire), config}

	var result simulateResult
	if err := c.call(ctx, "simulateTransaction", params, &result); err != nil {
		return nil, err
	}

	sim := &domain.SimulationResult{
		Success:       result.Value.Err == nil,
		Logs:          result.Value.Logs,
		UnitsConsumed: result.Value.UnitsConsumed,
	}
	if result.Value.Err != nil {
		errJSON, _ := json.Marshal(result.Value.Err)
		sim.Error = string(errJSON)
	}

	if len(opts.Accounts) > 0 {
		sim.PostAccounts = make(map[string]*domain.AccountState, len(opts.Accounts))
		for i, addr := range opts.Accounts {
			if i >= len(result.Value.Accounts) || result.Value.Accounts[i] == nil {
				sim.PostAccounts[addr] = nil
				continue
			}
			state, err := result.Value.Accounts[i].toState()
			if err != nil {
				return nil, fmt.Errorf("post account %s: %w", addr, err)
			}
			sim.PostAccounts[addr] = state
		}
	}

	return sim, nil
}

type simulateResult struct {
	Value struct {
		Err           interface{}         `json:"err"`
		Logs          []string            `json:"logs"`
		Accounts      []*accountInfoValue `json:"accounts"`
		UnitsConsumed *uint64             `json:"unitsConsumed"`
	} `json:"value"`
}

// GetAccountInfo retrieves account info by address.
// Returns nil if account not found.
func (c *HTTPClient) GetAccountInfo(ctx context.Context, address string) (*domain.AccountState, error) {
	params := []interface{}{
		address,
		map[string]interface{}{
			"encoding": "base64",
		},
	}

	var result struct {
		Value *accountInfoValue `json:"value"`
	}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}

	if result.Value == nil {
		return nil, nil
	}
	return result.Value.toState()
}

type accountInfoValue struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"` // [base64_data, encoding]
	Executable bool     `json:"executable"`
}

func (v *accountInfoValue) toState() (*domain.AccountState, error) {
	data, err := decodeAccountData(v.Data)
	if err != nil {
		return nil, err
	}
	return &domain.AccountState{
		Lamports:   v.Lamports,
		Owner:      v.Owner,
		Data:       data,
		Executable: v.Executable,
	}, nil
}

// GetRecentPerformanceSamples retrieves recent performance windows.
func (c *HTTPClient) GetRecentPerformanceSamples(ctx context.Context, limit int) ([]PerformanceSample, error) {
	var result []struct {
		Slot             uint64 `json:"slot"`
		NumTransactions  uint64 `json:"numTransactions"`
		NumSlots         uint64 `json:"numSlots"`
		SamplePeriodSecs uint64 `json:"samplePeriodSecs"`
	}
	if err := c.call(ctx, "getRecentPerformanceSamples", []interface{}{limit}, &result); err != nil {
		return nil, err
	}

	samples := make([]PerformanceSample, len(result))
	for i, r := range result {
		samples[i] = PerformanceSample{
			Slot:             r.Slot,
			NumTransactions:  r.NumTransactions,
			NumSlots:         r.NumSlots,
			SamplePeriodSecs: r.SamplePeriodSecs,
		}
	}
	return samples, nil
}

// GetLatestBlockhash retrieves the latest blockhash.
func (c *HTTPClient) GetLatestBlockhash(ctx context.Context) (string, error) {
	var result struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	params := []interface{}{map[string]interface{}{"commitment": string(CommitmentFinalized)}}
	if err := c.call(ctx, "getLatestBlockhash", params, &result); err != nil {
		return "", err
	}
	return result.Value.Blockhash, nil
}

// SendRaw submits a signed wire transaction.
func (c *HTTPClient) SendRaw(ctx context.Context, raw []byte) (string, error) {
	params := []interface{}{
		base64.StdEncoding.EncodeToString(raw),
		map[string]interface{}{
			"encoding":            "base64",
			"preflightCommitment": string(CommitmentProcessed),
		},
	}
	var signature string
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// Confirm returns the status of signature once it reached commitment.
func (c *HTTPClient) Confirm(ctx context.Context, signature string, commitment Commitment) (*SignatureStatus, error) {
	params := []interface{}{
		[]string{signature},
		map[string]interface{}{"searchTransactionHistory": true},
	}

	var result struct {
		Value []*struct {
			Slot               uint64      `json:"slot"`
			Err                interface{} `json:"err"`
			ConfirmationStatus string      `json:"confirmationStatus"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}

	if len(result.Value) == 0 || result.Value[0] == nil {
		return nil, nil
	}
	v := result.Value[0]
	status := &SignatureStatus{
		Slot:               v.Slot,
		ConfirmationStatus: Commitment(v.ConfirmationStatus),
		Err:                v.Err,
	}
	if status.Err == nil && !Reached(status.ConfirmationStatus, commitment) {
		return nil, nil
	}
	return status, nil
}

// Reached reports whether have is at least as strong as want.
func Reached(have, want Commitment) bool {
	return commitmentRank(have) >= commitmentRank(want)
}

func commitmentRank(c Commitment) int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	}
	return 0
}

// GetSignaturesForAddress retrieves signatures for an address with pagination.
func (c *HTTPClient) GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error) {
	config := make(map[string]interface{})
	if opts != nil {
		if opts.Before != "" {
			config["before"] = opts.Before
		}
		if opts.Until != "" {
			config["until"] = opts.Until
		}
		if opts.Limit > 0 {
			config["limit"] = opts.Limit
		}
	}

	params := []interface{}{address}
	if len(config) > 0 {
		params = append(params, config)
	}

	var result []struct {
		Signature string      `json:"signature"`
		Slot      int64       `json:"slot"`
		BlockTime *int64      `json:"blockTime"`
		Err       interface{} `json:"err"`
	}
	if err := c.call(ctx, "getSignaturesForAddress", params, &result); err != nil {
		return nil, err
	}

	sigs := make([]SignatureInfo, len(result))
	for i, r := range result {
		sigs[i] = SignatureInfo{
			Signature: r.Signature,
			Slot:      r.Slot,
			BlockTime: r.BlockTime,
			Err:       r.Err,
		}
	}
	return sigs, nil
}

// GetTransaction retrieves a transaction by signature.
func (c *HTTPClient) GetTransaction(ctx context.Context, signature string) (*TransactionDetail, error) {
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "json",
			"maxSupportedTransactionVersion": 0,
		},
	}

	var result *getTransactionResult
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	tx := &TransactionDetail{
		Slot:      result.Slot,
		Signature: signature,
	}
	if result.BlockTime != nil {
		tx.BlockTime = *result.BlockTime
	}

	if result.Transaction.Message != nil {
		tx.AccountKeys = append(tx.AccountKeys, result.Transaction.Message.AccountKeys...)
	}
	if m := result.Meta; m != nil {
		tx.Err = m.Err
		tx.LogMessages = m.LogMessages
		tx.PreBalances = m.PreBalances
		tx.PostBalances = m.PostBalances
		if m.LoadedAddresses != nil {
			tx.AccountKeys = append(tx.AccountKeys, m.LoadedAddresses.Writable...)
			tx.AccountKeys = append(tx.AccountKeys, m.LoadedAddresses.Readonly...)
		}
		tx.PreTokenBalances = convertTokenBalances(m.PreTokenBalances)
		tx.PostTokenBalances = convertTokenBalances(m.PostTokenBalances)
	}

	if result.Transaction.Message != nil {
		seen := make(map[string]bool)
		for _, ix := range result.Transaction.Message.Instructions {
			if ix.ProgramIDIndex < 0 || ix.ProgramIDIndex >= len(tx.AccountKeys) {
				continue
			}
			p := tx.AccountKeys[ix.ProgramIDIndex]
			if !seen[p] {
				seen[p] = true
				tx.ProgramIDs = append(tx.ProgramIDs, p)
			}
		}
	}

	return tx, nil
}

type getTransactionResult struct {
	Slot        int64               `json:"slot"`
	BlockTime   *int64              `json:"blockTime"`
	Meta        *getTransactionMeta `json:"meta"`
	Transaction getTransactionTx    `json:"transaction"`
}

type getTransactionMeta struct {
	Err               interface{}       `json:"err"`
	LogMessages       []string          `json:"logMessages"`
	PreBalances       []uint64          `json:"preBalances"`
	PostBalances      []uint64          `json:"postBalances"`
	PreTokenBalances  []rawTokenBalance `json:"preTokenBalances"`
	PostTokenBalances []rawTokenBalance `json:"postTokenBalances"`
	LoadedAddresses   *loadedAddresses  `json:"loadedAddresses"`
}

type loadedAddresses struct {
	Writable []string `json:"writable"`
	Readonly []string `json:"readonly"`
}

type getTransactionTx struct {
	Message *getTransactionMessage `json:"message"`
}

type getTransactionMessage struct {
	AccountKeys  []string                 `json:"accountKeys"`
	Instructions []getTransactionCompiled `json:"instructions"`
}

type getTransactionCompiled struct {
	ProgramIDIndex int `json:"programIdIndex"`
}

type rawTokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount string `json:"amount"`
	} `json:"uiTokenAmount"`
}

func convertTokenBalances(in []rawTokenBalance) []TokenBalance {
	if len(in) == 0 {
		return nil
	}
	out := make([]TokenBalance, len(in))
	for i, b := range in {
		out[i] = TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint,
			Owner:        b.Owner,
			Amount:       b.UITokenAmount.Amount,
		}
	}
	return out
}

var _ Client = (*HTTPClient)(nil)
