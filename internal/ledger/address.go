package ledger

import (
	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"tx-guard/internal/domain"
)

// Well-known program and mint addresses.
const (
	SystemProgramID        = "11111111111111111111111111111111"
	ComputeBudgetProgramID = "ComputeBudget111111111111111111111111111111"
	TokenProgramID         = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID     = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProgram = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	MemoProgramID          = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"
	NativeMint             = "So11111111111111111111111111111111111111112"

	// LamportsPerSignature is the base fee charged per required signature.
	LamportsPerSignature = 5000
	// NativeDecimals is the decimal precision of the native currency.
	NativeDecimals = 9
)

// IsTokenProgram reports whether id is an SPL token program.
func IsTokenProgram(id string) bool {
	return id == TokenProgramID || id == Token2022ProgramID
}

// DecodeAddress decodes a base58 address and checks its length.
func DecodeAddress(address string) ([32]byte, error) {
	var out [32]byte
	b, err := base58.Decode(address)
	if err != nil {
		return out, domain.Validationf("address %q: %v", address, err)
	}
	if len(b) != 32 {
		return out, domain.Validationf("address %q: expected 32 bytes, got %d", address, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// IsOnCurve reports whether the 32-byte key is a valid ed25519 point.
// Program derived addresses are off-curve and cannot sign.
func IsOnCurve(key []byte) bool {
	if len(key) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(key)
	return err == nil
}

// ValidateTransaction checks the shape of tx and the encoding of every
// address it references. Signers must be on-curve keys.
func ValidateTransaction(tx domain.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	for _, m := range tx.Accounts() {
		key, err := DecodeAddress(m.Address)
		if err != nil {
			return err
		}
		if m.IsSigner && !IsOnCurve(key[:]) {
			return domain.Validationf("signer %s is not a valid ed25519 public key", m.Address)
		}
	}
	for _, p := range tx.ProgramIDs() {
		if _, err := DecodeAddress(p); err != nil {
			return err
		}
	}
	for _, l := range tx.Lookups() {
		if _, err := DecodeAddress(l.TableAddress); err != nil {
			return err
		}
	}
	return nil
}
