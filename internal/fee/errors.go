package fee

import "errors"

var errNoProvider = errors.New("no ledger provider configured")
