package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"tx-guard/internal/domain"
)

// ComputeTransactionKey computes a deterministic content key for a transaction.
// Formula: SHA256(kind|payer|static|ix_0|...|ix_n|lookups|signers)
// where ix_i = program:addr/s/w,addr/s/w:hex(data).
// The blockhash and signatures are excluded, so re-signing or refreshing
// the blockhash of the same transaction yields the same key.
// Returns hex-encoded hash (64 characters).
func ComputeTransactionKey(tx domain.Transaction, signers []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s|%s|", tx.Kind(), tx.Payer())

	for _, m := range tx.StaticAccounts() {
		writeMeta(&b, m)
	}
	b.WriteByte('|')

	for _, ix := range tx.Instructions() {
		b.WriteString(ix.ProgramID)
		b.WriteByte(':')
		for _, m := range ix.Accounts {
			writeMeta(&b, m)
		}
		b.WriteByte(':')
		b.WriteString(hex.EncodeToString(ix.Data))
		b.WriteByte('|')
	}

	for _, l := range tx.Lookups() {
		fmt.Fprintf(&b, "%s:%v:%v;", l.TableAddress, l.WritableIndexes, l.ReadonlyIndexes)
	}
	b.WriteByte('|')

	sorted := append([]string(nil), signers...)
	sort.Strings(sorted)
	b.WriteString(strings.Join(sorted, ","))

	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])
}

func writeMeta(b *strings.Builder, m domain.AccountMeta) {
	b.WriteString(m.Address)
	b.WriteByte('/')
	b.WriteString(flag(m.IsSigner))
	b.WriteByte('/')
	b.WriteString(flag(m.IsWritable))
	b.WriteByte(',')
}

func flag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
