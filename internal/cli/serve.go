package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tx-guard/internal/api"
)

func newServeCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background endpoint monitoring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := st.getApp()
			httpCfg := a.Config.HTTP
			srv := api.NewServer(a, a.Logger)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.Run(ctx)
			})
			g.Go(func() error {
				return srv.ListenAndServe(ctx, httpCfg.Addr, httpCfg.ReadTimeout, httpCfg.WriteTimeout, httpCfg.ShutdownTimeout)
			})
			err := g.Wait()
			a.Logger.Info().Msg("shut down")
			return err
		},
	}
}
