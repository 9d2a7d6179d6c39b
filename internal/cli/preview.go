package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tx-guard/internal/api"
	"tx-guard/internal/approval"
	"tx-guard/internal/domain"
	"tx-guard/internal/preview"
)

// txFlags are the inputs shared by transaction-scoped commands.
type txFlags struct {
	network string
	file    string
	signers []string
}

func (f *txFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.network, "network", string(domain.NetworkDevnet), "Network (mainnet-beta, devnet, testnet)")
	cmd.Flags().StringVarP(&f.file, "file", "f", "-", "Transaction JSON file, - for stdin")
	cmd.Flags().StringSliceVar(&f.signers, "signer", nil, "Signer address (repeatable)")
}

func (f *txFlags) load(cmd *cobra.Command) (domain.Network, domain.Transaction, error) {
	network := domain.Network(f.network)
	if !network.IsValid() {
		return "", domain.Transaction{}, fmt.Errorf("unknown network %q", f.network)
	}

	var (
		data []byte
		err  error
	)
	if f.file == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(f.file)
	}
	if err != nil {
		return "", domain.Transaction{}, fmt.Errorf("read transaction: %w", err)
	}

	tx, err := api.ParseTransaction(data)
	if err != nil {
		return "", domain.Transaction{}, err
	}
	return network, tx, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPreviewCmd(st *state) *cobra.Command {
	var flags txFlags
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Simulate a transaction and print its balance changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			network, tx, err := flags.load(cmd)
			if err != nil {
				return err
			}
			p, err := st.getApp().Previews.Preview(cmd.Context(), network, tx, preview.Options{Signers: flags.signers})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	flags.register(cmd)
	return cmd
}

func newApproveCmd(st *state) *cobra.Command {
	var (
		flags          txFlags
		autoApprove    string
		hardwareWallet string
	)
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Produce an approval verdict for a transaction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			network, tx, err := flags.load(cmd)
			if err != nil {
				return err
			}
			opts := approval.Options{Signers: flags.signers}
			if opts.AutoApproveThresholdUSD, err = parseUSD("auto-approve-usd", autoApprove); err != nil {
				return err
			}
			if opts.HardwareWalletThresholdUSD, err = parseUSD("hardware-wallet-usd", hardwareWallet); err != nil {
				return err
			}

			res, err := st.getApp().Gate.Approve(cmd.Context(), network, tx, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&autoApprove, "auto-approve-usd", "", "Auto-approve threshold in USD (defaults to config)")
	cmd.Flags().StringVar(&hardwareWallet, "hardware-wallet-usd", "", "Hardware wallet threshold in USD (defaults to config)")
	return cmd
}

func parseUSD(flag, v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid --%s value: %w", flag, err)
	}
	return d, nil
}
