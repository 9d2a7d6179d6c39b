package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tx-guard/internal/domain"
)

// rpcServer answers every request with the result produced by handle.
func rpcServer(t *testing.T, handle func(req rpcRequest) interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  handle(req),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPClient_Simulate(t *testing.T) {
	payer := testKey(1)
	dest := testKey(2)

	server := rpcServer(t, func(req rpcRequest) interface{} {
		if req.Method != "simulateTransaction" {
			t.Errorf("expected method simulateTransaction, got %s", req.Method)
		}
		if len(req.Params) != 2 {
			t.Fatalf("expected 2 params, got %d", len(req.Params))
		}
		if _, err := base64.StdEncoding.DecodeString(req.Params[0].(string)); err != nil {
			t.Errorf("expected base64 transaction: %v", err)
		}
		cfg := req.Params[1].(map[string]interface{})
		if cfg["sigVerify"] != false {
			t.Errorf("expected sigVerify=false, got %v", cfg["sigVerify"])
		}
		if cfg["replaceRecentBlockhash"] != true {
			t.Errorf("expected replaceRecentBlockhash=true")
		}
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 10},
			"value": map[string]interface{}{
				"err":           nil,
				"logs":          []string{"Program 11111111111111111111111111111111 invoke [1]"},
				"unitsConsumed": 150,
				"accounts": []interface{}{
					map[string]interface{}{
						"lamports":   900,
						"owner":      SystemProgramID,
						"data":       []string{"", "base64"},
						"executable": false,
					},
					nil,
				},
			},
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	tx := domain.NewLegacyTransaction(payer, []domain.Instruction{transferIx(payer, dest)})

	res, err := client.Simulate(context.Background(), tx, SimulateOptions{Accounts: []string{payer, dest}})
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if !res.Success {
		t.Errorf("expected success, got error %q", res.Error)
	}
	if res.UnitsConsumed == nil || *res.UnitsConsumed != 150 {
		t.Errorf("expected 150 units, got %v", res.UnitsConsumed)
	}
	if res.PostAccounts[payer] == nil || res.PostAccounts[payer].Lamports != 900 {
		t.Errorf("expected payer post lamports 900, got %+v", res.PostAccounts[payer])
	}
	if st, ok := res.PostAccounts[dest]; !ok || st != nil {
		t.Errorf("expected dest present and nil, got %+v (present=%v)", st, ok)
	}
}

func TestHTTPClient_SimulateFailureIsResult(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) interface{} {
		return map[string]interface{}{
			"value": map[string]interface{}{
				"err":  map[string]interface{}{"InstructionError": []interface{}{0, map[string]interface{}{"Custom": 1}}},
				"logs": []string{"Program log: insufficient funds"},
			},
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	payer := testKey(1)
	tx := domain.NewLegacyTransaction(payer, []domain.Instruction{transferIx(payer, testKey(2))})

	res, err := client.Simulate(context.Background(), tx, SimulateOptions{})
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if res.Success {
		t.Fatal("expected failed simulation")
	}
	if !strings.Contains(res.Error, "InstructionError") {
		t.Errorf("expected InstructionError in %q", res.Error)
	}
}

func TestHTTPClient_GetAccountInfo(t *testing.T) {
	data := []byte{1, 2, 3}
	server := rpcServer(t, func(req rpcRequest) interface{} {
		if req.Params[0] == "missing" {
			return map[string]interface{}{"value": nil}
		}
		return map[string]interface{}{
			"value": map[string]interface{}{
				"lamports":   42,
				"owner":      TokenProgramID,
				"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
				"executable": false,
			},
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	info, err := client.GetAccountInfo(ctx, "present")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info == nil || info.Lamports != 42 || string(info.Data) != string(data) {
		t.Errorf("unexpected account: %+v", info)
	}

	info, err = client.GetAccountInfo(ctx, "missing")
	if err != nil {
		t.Fatalf("GetAccountInfo missing: %v", err)
	}
	if info != nil {
		t.Errorf("expected nil for missing account, got %+v", info)
	}
}

func TestHTTPClient_GetRecentPerformanceSamples(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) interface{} {
		if req.Method != "getRecentPerformanceSamples" {
			t.Errorf("unexpected method %s", req.Method)
		}
		return []map[string]interface{}{
			{"slot": 100, "numTransactions": 120000, "numSlots": 150, "samplePeriodSecs": 60},
		}
	})
	defer server.Close()

	samples, err := NewHTTPClient(server.URL).GetRecentPerformanceSamples(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetRecentPerformanceSamples: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(samples))
	}
	if samples[0].TPS() != 2000 {
		t.Errorf("expected 2000 tps, got %f", samples[0].TPS())
	}
}

func TestHTTPClient_Confirm(t *testing.T) {
	status := "processed"
	server := rpcServer(t, func(req rpcRequest) interface{} {
		return map[string]interface{}{
			"value": []interface{}{
				map[string]interface{}{"slot": 5, "err": nil, "confirmationStatus": status},
			},
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	st, err := client.Confirm(ctx, "sig", CommitmentConfirmed)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if st != nil {
		t.Errorf("processed must not satisfy confirmed, got %+v", st)
	}

	status = "finalized"
	st, err = client.Confirm(ctx, "sig", CommitmentConfirmed)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if st == nil || st.Slot != 5 {
		t.Errorf("expected status at slot 5, got %+v", st)
	}
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32602, "message": "invalid params"},
		})
	}))
	defer server.Close()

	_, err := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond)).GetLatestBlockhash(context.Background())
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if rpcErr.Code != -32602 {
		t.Errorf("expected code -32602, got %d", rpcErr.Code)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 request, got %d", hits.Load())
	}
}

func TestHTTPClient_ConnectivityAfterRetries(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	_, err := client.GetLatestBlockhash(context.Background())
	if !errors.Is(err, domain.ErrConnectivity) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestHTTPClient_RetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]interface{}{"value": map[string]interface{}{"blockhash": "abc"}},
		})
	}))
	defer server.Close()

	hash, err := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond)).GetLatestBlockhash(context.Background())
	if err != nil {
		t.Fatalf("GetLatestBlockhash: %v", err)
	}
	if hash != "abc" {
		t.Errorf("expected abc, got %s", hash)
	}
}

func TestHTTPClient_GetTransaction(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) interface{} {
		if req.Params[0] == "missing" {
			return nil
		}
		return map[string]interface{}{
			"slot":      99,
			"blockTime": 1700000000,
			"meta": map[string]interface{}{
				"err":          nil,
				"preBalances":  []uint64{100, 0},
				"postBalances": []uint64{50, 45},
				"postTokenBalances": []interface{}{
					map[string]interface{}{
						"accountIndex":  1,
						"mint":          "mintA",
						"owner":         "ownerB",
						"uiTokenAmount": map[string]interface{}{"amount": "10"},
					},
				},
				"loadedAddresses": map[string]interface{}{"writable": []string{"lw"}, "readonly": []string{}},
			},
			"transaction": map[string]interface{}{
				"message": map[string]interface{}{
					"accountKeys":  []string{"payer", "dest", SystemProgramID},
					"instructions": []interface{}{map[string]interface{}{"programIdIndex": 2}},
				},
			},
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	tx, err := client.GetTransaction(ctx, "sig1")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx == nil {
		t.Fatal("expected transaction, got nil")
	}
	if len(tx.AccountKeys) != 4 || tx.AccountKeys[3] != "lw" {
		t.Errorf("expected loaded address appended, got %v", tx.AccountKeys)
	}
	if len(tx.ProgramIDs) != 1 || tx.ProgramIDs[0] != SystemProgramID {
		t.Errorf("unexpected program ids %v", tx.ProgramIDs)
	}
	if len(tx.PostTokenBalances) != 1 || tx.PostTokenBalances[0].Amount != "10" {
		t.Errorf("unexpected token balances %+v", tx.PostTokenBalances)
	}

	tx, err = client.GetTransaction(ctx, "missing")
	if err != nil {
		t.Fatalf("GetTransaction missing: %v", err)
	}
	if tx != nil {
		t.Errorf("expected nil, got %+v", tx)
	}
}

func TestHTTPClient_TimeoutIsDistinct(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewHTTPClient(server.URL).GetLatestBlockhash(ctx)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if errors.Is(err, domain.ErrConnectivity) {
		t.Errorf("timeout must not be reported as connectivity")
	}
}
