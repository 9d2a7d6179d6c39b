package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx-guard/internal/app"
	"tx-guard/internal/domain"
	"tx-guard/internal/endpoint"
	"tx-guard/internal/ledger"
	"tx-guard/internal/ledger/stub"
	"tx-guard/internal/pricing"
)

const localConfig = `
logging:
  level: error
networks:
  devnet:
    endpoints:
      - url: http://localhost:8899
        name: local
        priority: 1
`

type healthyProber struct{}

func (healthyProber) Probe(_ context.Context, ep domain.RPCEndpoint, _ ledger.Client) endpoint.ProbeResult {
	return endpoint.ProbeResult{URL: ep.URL, Latency: 40 * time.Millisecond, TPS: 2500, Congestion: 0.1, HasSamples: true}
}

func run(t *testing.T, client *stub.Client, stdin string, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(localConfig), 0o600))

	cmd := newRootCmd(&state{opts: app.Options{
		Factory: func(domain.RPCEndpoint) (ledger.Client, error) { return client, nil },
		Prober:  healthyProber{},
		Oracle:  pricing.Static{ledger.NativeMint: {Price: decimal.NewFromInt(100), Symbol: "SOL"}},
	}})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--config", path))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, stub.NewClient(), "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "version: dev")
	assert.Contains(t, out, "commit: ")
}

func TestEndpoints_Probe(t *testing.T) {
	out, err := run(t, stub.NewClient(), "", "endpoints", "--network", "devnet", "--probe")
	require.NoError(t, err)
	assert.Contains(t, out, "http://localhost:8899")
	assert.Contains(t, out, "2500")
	assert.Contains(t, out, "health: excellent")
}

func TestEndpoints_UnknownNetwork(t *testing.T) {
	_, err := run(t, stub.NewClient(), "", "endpoints", "--network", "moonnet")
	require.ErrorContains(t, err, "unknown network")
}

func TestApprove_FromStdin(t *testing.T) {
	const lamportsPerSOL = 1_000_000_000
	client := stub.NewClient()
	payer, recipient := stub.Key("payer"), stub.Key("recipient")
	client.SetAccount(payer, stub.Wallet(2*lamportsPerSOL))
	client.SetAccount(recipient, stub.Wallet(0))
	client.SetPost(payer, stub.Wallet(2*lamportsPerSOL-lamportsPerSOL/10))
	client.SetPost(recipient, stub.Wallet(lamportsPerSOL/10))

	tx, err := json.Marshal(map[string]any{
		"feePayer": payer,
		"instructions": []domain.Instruction{{
			ProgramID: ledger.SystemProgramID,
			Accounts: []domain.AccountMeta{
				{Address: payer, IsSigner: true, IsWritable: true},
				{Address: recipient, IsWritable: true},
			},
			Data: []byte{2, 0, 0, 0},
		}},
	})
	require.NoError(t, err)

	out, err := run(t, client, string(tx), "approve", "--network", "devnet", "--signer", payer)
	require.NoError(t, err)

	var res struct {
		Status        string          `json:"status"`
		RiskLevel     string          `json:"riskLevel"`
		TotalValueUSD decimal.Decimal `json:"totalValueUsd"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, string(domain.StatusApproved), res.Status)
	assert.Equal(t, "low", res.RiskLevel)
	assert.True(t, res.TotalValueUSD.Equal(decimal.NewFromInt(10)), res.TotalValueUSD.String())
}

func TestPreview_InvalidTransaction(t *testing.T) {
	_, err := run(t, stub.NewClient(), `{"instructions":[]}`, "preview", "--network", "devnet")
	require.Error(t, err)
}

func TestApprove_BadThreshold(t *testing.T) {
	payer := stub.Key("payer")
	body := `{"feePayer":"` + payer + `","instructions":[{"programId":"` + ledger.MemoProgramID + `","accounts":[],"data":"aGk="}]}`
	_, err := run(t, stub.NewClient(), body, "approve", "--auto-approve-usd", "lots")
	require.ErrorContains(t, err, "--auto-approve-usd")
}
