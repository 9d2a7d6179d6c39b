// Package cli implements the txguard command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tx-guard/internal/app"
	"tx-guard/internal/config"
	"tx-guard/internal/logging"
)

// state is shared by the commands of one root command.
type state struct {
	cfgFile  string
	logLevel string
	opts     app.Options
	app      *app.App
}

// NewRootCmd builds the txguard command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&state{})
}

func newRootCmd(st *state) *cobra.Command {
	root := &cobra.Command{
		Use:           "txguard",
		Short:         "Preview, vet and submit ledger transactions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&st.cfgFile, "config", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&st.logLevel, "log-level", "", "Override log level defined in config")

	withApp := func(cmd *cobra.Command) *cobra.Command {
		run := cmd.RunE
		cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
			if err := st.init(cmd); err != nil {
				return err
			}
			defer func() { err = errors.Join(err, st.close()) }()
			return run(cmd, args)
		}
		return cmd
	}

	root.AddCommand(withApp(newServeCmd(st)))
	root.AddCommand(withApp(newPreviewCmd(st)))
	root.AddCommand(withApp(newApproveCmd(st)))
	root.AddCommand(withApp(newEndpointsCmd(st)))
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (st *state) init(cmd *cobra.Command) error {
	if st.app != nil {
		return nil
	}

	cfg, err := config.Load(st.cfgFile)
	if err != nil {
		return err
	}
	if st.logLevel != "" {
		cfg.Logging.Level = st.logLevel
	}

	logger := logging.NewLogger(cfg.Logging)
	a, err := app.New(cmd.Context(), cfg, logger, st.opts)
	if err != nil {
		return err
	}
	st.app = a
	return nil
}

func (st *state) close() error {
	if st.app == nil {
		return nil
	}
	err := st.app.Close()
	st.app = nil
	return err
}

func (st *state) getApp() *app.App {
	if st.app == nil {
		panic("application not initialized")
	}
	return st.app
}
