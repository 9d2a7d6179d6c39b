// Command txguard previews, vets and submits ledger transactions.
package main

import "tx-guard/internal/cli"

func main() {
	cli.Execute()
}
