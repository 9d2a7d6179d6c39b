package domain

// TxKind tags the transaction variant.
type TxKind int

const (
	TxLegacy TxKind = iota
	TxVersioned
)

func (k TxKind) String() string {
	switch k {
	case TxLegacy:
		return "legacy"
	case TxVersioned:
		return "versioned"
	}
	return "unknown"
}

// AccountMeta is one account reference with its role.
type AccountMeta struct {
	Address    string `json:"address"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID string        `json:"programId"`
	Accounts  []AccountMeta `json:"accounts"`
	Data      []byte        `json:"data"`
}

// Clone returns a deep copy of the instruction.
func (ix Instruction) Clone() Instruction {
	out := Instruction{ProgramID: ix.ProgramID}
	if ix.Accounts != nil {
		out.Accounts = append([]AccountMeta(nil), ix.Accounts...)
	}
	if ix.Data != nil {
		out.Data = append([]byte(nil), ix.Data...)
	}
	return out
}

// AddressTableLookup references accounts loaded from an on-chain lookup table.
// Writable and Readonly hold the addresses already resolved from the table.
type AddressTableLookup struct {
	TableAddress    string   `json:"tableAddress"`
	WritableIndexes []uint8  `json:"writableIndexes"`
	ReadonlyIndexes []uint8  `json:"readonlyIndexes"`
	Writable        []string `json:"writable"`
	Readonly        []string `json:"readonly"`
}

// Transaction is a tagged variant over legacy and versioned shapes.
// Values are treated as immutable: every With* method returns a copy.
type Transaction struct {
	kind           TxKind
	feePayer       string
	staticAccounts []AccountMeta
	lookups        []AddressTableLookup
	instructions   []Instruction
	blockhash      string
}

// NewLegacyTransaction builds a legacy transaction. The fee payer is
// implicitly a writable signer.
func NewLegacyTransaction(feePayer string, instructions []Instruction) Transaction {
	return Transaction{
		kind:         TxLegacy,
		feePayer:     feePayer,
		instructions: cloneInstructions(instructions),
	}
}

// NewVersionedTransaction builds a versioned transaction. The first static
// account is the fee payer.
func NewVersionedTransaction(staticAccounts []AccountMeta, instructions []Instruction, lookups []AddressTableLookup) Transaction {
	tx := Transaction{
		kind:           TxVersioned,
		staticAccounts: append([]AccountMeta(nil), staticAccounts...),
		instructions:   cloneInstructions(instructions),
		lookups:        cloneLookups(lookups),
	}
	if len(staticAccounts) > 0 {
		tx.feePayer = staticAccounts[0].Address
	}
	return tx
}

// Kind returns the variant tag.
func (t Transaction) Kind() TxKind { return t.kind }

// Payer returns the fee payer address.
func (t Transaction) Payer() string { return t.feePayer }

// Blockhash returns the recent blockhash, empty if unset.
func (t Transaction) Blockhash() string { return t.blockhash }

// Instructions returns a copy of the instruction list.
func (t Transaction) Instructions() []Instruction {
	return cloneInstructions(t.instructions)
}

// StaticAccounts returns the static account keys of a versioned transaction.
func (t Transaction) StaticAccounts() []AccountMeta {
	return append([]AccountMeta(nil), t.staticAccounts...)
}

// Lookups returns the address table lookups of a versioned transaction.
func (t Transaction) Lookups() []AddressTableLookup {
	return cloneLookups(t.lookups)
}

// WithInstructions returns a copy of t carrying the given instructions.
func (t Transaction) WithInstructions(instructions []Instruction) Transaction {
	out := t.clone()
	out.instructions = cloneInstructions(instructions)
	return out
}

// WithBlockhash returns a copy of t carrying the given blockhash.
func (t Transaction) WithBlockhash(hash string) Transaction {
	out := t.clone()
	out.blockhash = hash
	return out
}

// WithSigners returns a copy of t in which every reference to one of the
// given addresses carries the signer role.
func (t Transaction) WithSigners(signers []string) Transaction {
	if len(signers) == 0 {
		return t
	}
	set := make(map[string]bool, len(signers))
	for _, s := range signers {
		set[s] = true
	}
	out := t.clone()
	for i := range out.staticAccounts {
		if set[out.staticAccounts[i].Address] {
			out.staticAccounts[i].IsSigner = true
		}
	}
	for i := range out.instructions {
		for j := range out.instructions[i].Accounts {
			if set[out.instructions[i].Accounts[j].Address] {
				out.instructions[i].Accounts[j].IsSigner = true
			}
		}
	}
	return out
}

// Accounts returns the deduplicated account roles of the transaction,
// ordered by first appearance. Roles of repeated addresses are merged.
// Program IDs are not included; see ProgramIDs.
func (t Transaction) Accounts() []AccountMeta {
	idx := make(map[string]int)
	var out []AccountMeta

	add := func(m AccountMeta) {
		if m.Address == "" {
			return
		}
		if i, ok := idx[m.Address]; ok {
			out[i].IsSigner = out[i].IsSigner || m.IsSigner
			out[i].IsWritable = out[i].IsWritable || m.IsWritable
			return
		}
		idx[m.Address] = len(out)
		out = append(out, m)
	}

	switch t.kind {
	case TxLegacy:
		add(AccountMeta{Address: t.feePayer, IsSigner: true, IsWritable: true})
	case TxVersioned:
		for _, m := range t.staticAccounts {
			add(m)
		}
	}

	for _, ix := range t.instructions {
		for _, m := range ix.Accounts {
			add(m)
		}
	}

	for _, l := range t.lookups {
		for _, a := range l.Writable {
			add(AccountMeta{Address: a, IsWritable: true})
		}
		for _, a := range l.Readonly {
			add(AccountMeta{Address: a})
		}
	}

	return out
}

// ProgramIDs returns the distinct invoked programs in first-appearance order.
func (t Transaction) ProgramIDs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, ix := range t.instructions {
		if ix.ProgramID == "" || seen[ix.ProgramID] {
			continue
		}
		seen[ix.ProgramID] = true
		out = append(out, ix.ProgramID)
	}
	return out
}

// Signers returns the addresses required to sign.
func (t Transaction) Signers() []string {
	var out []string
	for _, m := range t.Accounts() {
		if m.IsSigner {
			out = append(out, m.Address)
		}
	}
	return out
}

// WritableAccounts returns the addresses that may be modified.
func (t Transaction) WritableAccounts() []string {
	var out []string
	for _, m := range t.Accounts() {
		if m.IsWritable {
			out = append(out, m.Address)
		}
	}
	return out
}

// Validate checks the structural shape of the transaction.
func (t Transaction) Validate() error {
	switch t.kind {
	case TxLegacy, TxVersioned:
	default:
		return Validationf("unsupported transaction kind %d", t.kind)
	}
	if t.feePayer == "" {
		return Validationf("missing fee payer")
	}
	if t.kind == TxVersioned {
		payer := t.staticAccounts[0]
		if !payer.IsSigner || !payer.IsWritable {
			return Validationf("versioned fee payer %s must be a writable signer", payer.Address)
		}
		for i, l := range t.lookups {
			if l.TableAddress == "" {
				return Validationf("lookup %d: missing table address", i)
			}
			if len(l.Writable) != len(l.WritableIndexes) || len(l.Readonly) != len(l.ReadonlyIndexes) {
				return Validationf("lookup %d: unresolved table addresses", i)
			}
		}
	}
	for i, ix := range t.instructions {
		if ix.ProgramID == "" {
			return Validationf("instruction %d: missing program id", i)
		}
		for j, m := range ix.Accounts {
			if m.Address == "" {
				return Validationf("instruction %d: account %d: empty address", i, j)
			}
		}
	}
	return nil
}

func (t Transaction) clone() Transaction {
	return Transaction{
		kind:           t.kind,
		feePayer:       t.feePayer,
		staticAccounts: append([]AccountMeta(nil), t.staticAccounts...),
		lookups:        cloneLookups(t.lookups),
		instructions:   cloneInstructions(t.instructions),
		blockhash:      t.blockhash,
	}
}

func cloneInstructions(in []Instruction) []Instruction {
	if in == nil {
		return nil
	}
	out := make([]Instruction, len(in))
	for i, ix := range in {
		out[i] = ix.Clone()
	}
	return out
}

func cloneLookups(in []AddressTableLookup) []AddressTableLookup {
	if in == nil {
		return nil
	}
	out := make([]AddressTableLookup, len(in))
	for i, l := range in {
		out[i] = AddressTableLookup{
			TableAddress:    l.TableAddress,
			WritableIndexes: append([]uint8(nil), l.WritableIndexes...),
			ReadonlyIndexes: append([]uint8(nil), l.ReadonlyIndexes...),
			Writable:        append([]string(nil), l.Writable...),
			Readonly:        append([]string(nil), l.Readonly...),
		}
	}
	return out
}
