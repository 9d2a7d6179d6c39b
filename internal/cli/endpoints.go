package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tx-guard/internal/domain"
)

func newEndpointsCmd(st *state) *cobra.Command {
	var (
		network string
		probe   bool
	)
	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "List RPC endpoints of a network with their latest metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n := domain.Network(network)
			if !n.IsValid() {
				return fmt.Errorf("unknown network %q", network)
			}

			mon := st.getApp().Monitor
			if probe {
				mon.Tick(cmd.Context())
			}
			active, _ := mon.ActiveEndpoint(n)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "Active\tName\tURL\tPriority\tLatency(ms)\tReliability\tTPS\tCustom")
			for _, ep := range mon.ListEndpoints(n) {
				mark := ""
				if ep.URL == active.URL {
					mark = "*"
				}
				latency, reliability, tps := "-", "-", "-"
				if m, ok := mon.Metrics(ep.URL); ok && m.Probed() {
					latency = fmt.Sprintf("%d", m.LatencyMs)
					reliability = fmt.Sprintf("%.2f", m.Reliability)
					tps = fmt.Sprintf("%.0f", m.TPS)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%t\n",
					mark, ep.Name, ep.URL, ep.Priority, latency, reliability, tps, ep.IsCustom)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			h := mon.Health(n)
			fmt.Fprintf(cmd.OutOrStdout(), "\nhealth: %s (score %.2f over %d probed)\n", h.Status, h.Score, h.Endpoints)
			return nil
		},
	}
	cmd.Flags().StringVar(&network, "network", string(domain.NetworkDevnet), "Network (mainnet-beta, devnet, testnet)")
	cmd.Flags().BoolVar(&probe, "probe", false, "Probe every endpoint before listing")
	return cmd
}
