package domain

// AccountState is the raw state of one account.
type AccountState struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       []byte `json:"data"`
	Executable bool   `json:"executable"`
}

// SimulationResult is the outcome of a dry-run.
// Success=false is a valid outcome, not a service failure.
type SimulationResult struct {
	Success       bool                     `json:"success"`
	Logs          []string                 `json:"logs"`
	UnitsConsumed *uint64                  `json:"unitsConsumed,omitempty"`
	Error         string                   `json:"error,omitempty"`
	PostAccounts  map[string]*AccountState `json:"postAccounts,omitempty"` // nil entry: account does not exist after execution
}
