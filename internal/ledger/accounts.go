package ledger

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"

	"tx-guard/internal/domain"
)

const (
	tokenAccountSize = 165
	mintAccountSize  = 82
)

// TokenAccount is the decoded prefix of an SPL token account.
type TokenAccount struct {
	Mint   string
	Owner  string
	Amount uint64
}

// IsTokenAccount reports whether state looks like an SPL token account.
func IsTokenAccount(state *domain.AccountState) bool {
	return state != nil && IsTokenProgram(state.Owner) && len(state.Data) >= tokenAccountSize
}

// ParseTokenAccount parses SPL token account data.
// Token account layout: mint(32) | owner(32) | amount(8) | ...
func ParseTokenAccount(data []byte) (*TokenAccount, error) {
	if len(data) < 72 {
		return nil, fmt.Errorf("token account data too short: %d", len(data))
	}
	return &TokenAccount{
		Mint:   base58.Encode(data[0:32]),
		Owner:  base58.Encode(data[32:64]),
		Amount: binary.LittleEndian.Uint64(data[64:72]),
	}, nil
}

// ParseMintDecimals returns the decimals field of SPL mint data.
func ParseMintDecimals(data []byte) (int, error) {
	if len(data) < mintAccountSize {
		return 0, fmt.Errorf("mint data too short: %d", len(data))
	}
	// decimals at offset 44, after mintAuthority option(36) and supply(8)
	return int(data[44]), nil
}

// decodeAccountData decodes the [data, encoding] pair returned by the RPC.
func decodeAccountData(pair []string) ([]byte, error) {
	if len(pair) == 0 || pair[0] == "" {
		return nil, nil
	}
	if len(pair) > 1 && pair[1] != "base64" {
		return nil, fmt.Errorf("unsupported account encoding %q", pair[1])
	}
	decoded, err := base64.StdEncoding.DecodeString(pair[0])
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	return decoded, nil
}

func encodeBase58(b []byte) string {
	return base58.Encode(b)
}
