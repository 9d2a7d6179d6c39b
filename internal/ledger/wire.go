package ledger

import (
	"bytes"
	"sort"

	"tx-guard/internal/domain"
)

const (
	// PacketDataSize is the largest serialized transaction the ledger accepts.
	PacketDataSize = 1232

	signatureLength = 64
	versionPrefixV0 = 0x80
	maxAccountKeys  = 256
)

// messageHeader is the three-byte header of a compiled message.
type messageHeader struct {
	numRequiredSignatures       uint8
	numReadonlySignedAccounts   uint8
	numReadonlyUnsignedAccounts uint8
}

// compiledMessage is the index-addressed form of a transaction.
type compiledMessage struct {
	versioned bool
	header    messageHeader
	keys      []string
	blockhash [32]byte
	ixs       []compiledInstruction
	lookups   []domain.AddressTableLookup
}

type compiledInstruction struct {
	programIndex uint8
	accounts     []uint8
	data         []byte
}

// EncodeTransaction serializes tx to wire format with zeroed signatures,
// suitable for simulation with signature verification disabled.
func EncodeTransaction(tx domain.Transaction) ([]byte, error) {
	msg, err := compileMessage(tx)
	if err != nil {
		return nil, err
	}
	body, err := msg.serialize()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writeCompactU16(&buf, int(msg.header.numRequiredSignatures))
	buf.Write(make([]byte, signatureLength*int(msg.header.numRequiredSignatures)))
	buf.Write(body)

	if buf.Len() > PacketDataSize {
		return nil, domain.Validationf("transaction too large: %d > %d bytes", buf.Len(), PacketDataSize)
	}
	return buf.Bytes(), nil
}

// RequiredSignatures returns the number of signatures tx needs.
func RequiredSignatures(tx domain.Transaction) int {
	n := 0
	for _, m := range tx.Accounts() {
		if m.IsSigner {
			n++
		}
	}
	return n
}

func compileMessage(tx domain.Transaction) (*compiledMessage, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	lookupIndex := make(map[string]int)
	var lookupWritable, lookupReadonly []string
	if tx.Kind() == domain.TxVersioned {
		for _, l := range tx.Lookups() {
			lookupWritable = append(lookupWritable, l.Writable...)
			lookupReadonly = append(lookupReadonly, l.Readonly...)
		}
	}

	// Static keys: merged roles, lookup-loaded accounts excluded.
	var static []domain.AccountMeta
	pos := make(map[string]int)
	add := func(m domain.AccountMeta) {
		if i, ok := pos[m.Address]; ok {
			static[i].IsSigner = static[i].IsSigner || m.IsSigner
			static[i].IsWritable = static[i].IsWritable || m.IsWritable
			return
		}
		pos[m.Address] = len(static)
		static = append(static, m)
	}

	inLookup := make(map[string]bool)
	for _, a := range lookupWritable {
		inLookup[a] = true
	}
	for _, a := range lookupReadonly {
		inLookup[a] = true
	}

	payer := tx.Payer()
	add(domain.AccountMeta{Address: payer, IsSigner: true, IsWritable: true})
	for _, m := range tx.StaticAccounts() {
		add(m)
	}
	for _, ix := range tx.Instructions() {
		for _, m := range ix.Accounts {
			if inLookup[m.Address] && !m.IsSigner {
				if _, ok := pos[m.Address]; !ok {
					continue
				}
			}
			add(m)
		}
	}
	for _, p := range tx.ProgramIDs() {
		add(domain.AccountMeta{Address: p})
	}

	sort.SliceStable(static, func(i, j int) bool {
		return keyRank(static[i], payer) < keyRank(static[j], payer)
	})

	msg := &compiledMessage{versioned: tx.Kind() == domain.TxVersioned, lookups: tx.Lookups()}
	for _, m := range static {
		msg.keys = append(msg.keys, m.Address)
		switch {
		case m.IsSigner && !m.IsWritable:
			msg.header.numRequiredSignatures++
			msg.header.numReadonlySignedAccounts++
		case m.IsSigner:
			msg.header.numRequiredSignatures++
		case !m.IsWritable:
			msg.header.numReadonlyUnsignedAccounts++
		}
	}

	index := make(map[string]int, len(msg.keys))
	for i, k := range msg.keys {
		index[k] = i
	}
	next := len(msg.keys)
	for _, a := range lookupWritable {
		if _, ok := index[a]; !ok {
			lookupIndex[a] = next
		}
		next++
	}
	for _, a := range lookupReadonly {
		if _, ok := index[a]; !ok {
			if _, dup := lookupIndex[a]; !dup {
				lookupIndex[a] = next
			}
		}
		next++
	}
	if next > maxAccountKeys {
		return nil, domain.Validationf("too many account keys: %d", next)
	}

	resolve := func(addr string) (uint8, error) {
		if i, ok := index[addr]; ok {
			return uint8(i), nil
		}
		if i, ok := lookupIndex[addr]; ok {
			return uint8(i), nil
		}
		return 0, domain.Validationf("account %s not in message", addr)
	}

	for _, ix := range tx.Instructions() {
		pi, err := resolve(ix.ProgramID)
		if err != nil {
			return nil, err
		}
		ci := compiledInstruction{programIndex: pi, data: ix.Data}
		for _, m := range ix.Accounts {
			ai, err := resolve(m.Address)
			if err != nil {
				return nil, err
			}
			ci.accounts = append(ci.accounts, ai)
		}
		msg.ixs = append(msg.ixs, ci)
	}

	blockhash := tx.Blockhash()
	if blockhash == "" {
		blockhash = SystemProgramID
	}
	bh, err := DecodeAddress(blockhash)
	if err != nil {
		return nil, err
	}
	msg.blockhash = bh

	return msg, nil
}

// keyRank orders keys: fee payer, writable signers, readonly signers,
// writable non-signers, readonly non-signers.
func keyRank(m domain.AccountMeta, payer string) int {
	switch {
	case m.Address == payer:
		return 0
	case m.IsSigner && m.IsWritable:
		return 1
	case m.IsSigner:
		return 2
	case m.IsWritable:
		return 3
	default:
		return 4
	}
}

func (m *compiledMessage) serialize() ([]byte, error) {
	var buf bytes.Buffer
	if m.versioned {
		buf.WriteByte(versionPrefixV0)
	}
	buf.WriteByte(m.header.numRequiredSignatures)
	buf.WriteByte(m.header.numReadonlySignedAccounts)
	buf.WriteByte(m.header.numReadonlyUnsignedAccounts)

	writeCompactU16(&buf, len(m.keys))
	for _, k := range m.keys {
		key, err := DecodeAddress(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key[:])
	}
	buf.Write(m.blockhash[:])

	writeCompactU16(&buf, len(m.ixs))
	for _, ix := range m.ixs {
		buf.WriteByte(ix.programIndex)
		writeCompactU16(&buf, len(ix.accounts))
		buf.Write(ix.accounts)
		writeCompactU16(&buf, len(ix.data))
		buf.Write(ix.data)
	}

	if m.versioned {
		writeCompactU16(&buf, len(m.lookups))
		for _, l := range m.lookups {
			key, err := DecodeAddress(l.TableAddress)
			if err != nil {
				return nil, err
			}
			buf.Write(key[:])
			writeCompactU16(&buf, len(l.WritableIndexes))
			buf.Write(l.WritableIndexes)
			writeCompactU16(&buf, len(l.ReadonlyIndexes))
			buf.Write(l.ReadonlyIndexes)
		}
	}
	return buf.Bytes(), nil
}

// writeCompactU16 writes n as a shortvec length (7 bits per byte, LSB first).
func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

// readCompactU16 decodes a shortvec length, returning the value and bytes read.
func readCompactU16(b []byte) (int, int, error) {
	var v, shift int
	for i := 0; i < 3 && i < len(b); i++ {
		v |= int(b[i]&0x7f) << shift
		if b[i]&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, domain.Validationf("invalid compact-u16 encoding")
}

// SignatureFromWire returns the first signature of a signed wire transaction,
// base58 encoded. It is the transaction id.
func SignatureFromWire(raw []byte) (string, error) {
	n, read, err := readCompactU16(raw)
	if err != nil {
		return "", err
	}
	if n == 0 || len(raw) < read+signatureLength {
		return "", domain.Validationf("wire transaction carries no signature")
	}
	return encodeBase58(raw[read : read+signatureLength]), nil
}
