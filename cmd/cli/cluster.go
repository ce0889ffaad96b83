package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/baxromumarov/ha-master/pkg/protocol"
	"github.com/spf13/cobra"
)

func newHealthCommand(g *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check health of a specific node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			health, err := g.client().HealthCheck(cmd.Context(), addr)
			if err != nil {
				fmt.Fprintf(out, "✗ Node %s is DOWN: %v\n", addr, err)
				return fmt.Errorf("node %s is down", addr)
			}

			fmt.Fprintf(out, "✓ Node %s is UP\n", addr)
			fmt.Fprintf(out, "  Role: %s\n", health.Role)
			fmt.Fprintf(out, "  Status: %s\n", health.Status)
			fmt.Fprintf(out, "  Accepting transactions: %t\n", health.Accessible)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "node address to check")
	_ = cmd.MarkFlagRequired("addr")
	return cmd
}

func newStatusCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check status of all --nodes and find the master",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(g.nodes) == 0 {
				return fmt.Errorf("--nodes is required")
			}
			out := cmd.OutOrStdout()
			client := g.client()

			fmt.Fprintln(out, "Cluster Status:")
			fmt.Fprintln(out, "---------------")

			for _, addr := range g.nodes {
				addr = strings.TrimSpace(addr)
				if addr == "" {
					continue
				}

				health, err := client.HealthCheck(cmd.Context(), addr)
				if err != nil {
					fmt.Fprintf(out, "  ✗ %s: DOWN\n", addr)
					continue
				}

				marker := "🔹"
				if health.Role == string(protocol.RoleMaster) {
					marker = "👑"
				}
				fmt.Fprintf(out, "  %s %s: %s (%s)\n", marker, addr, health.Status, health.Role)
			}
			return nil
		},
	}
}

func newDashboardCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show the member table and open transactions as seen by the master",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := g.masterAddr(cmd.Context())
			if err != nil {
				return err
			}
			client := g.client()
			info, err := client.ClusterNodes(cmd.Context(), addr)
			if err != nil {
				return err
			}
			active, err := client.ActiveTx(cmd.Context(), addr)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Cluster Dashboard")
			fmt.Fprintln(out, "-----------------")
			if info.MasterAddr != "" {
				fmt.Fprintf(out, "Master:   %s\n", info.MasterAddr)
			} else {
				fmt.Fprintln(out, "Master:   unknown")
			}
			if !info.Generated.IsZero() {
				fmt.Fprintf(out, "Snapshot: %s\n", info.Generated.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "Open transactions: %d\n", active.Total)
			fmt.Fprintln(out, "Nodes:")

			for _, n := range info.Nodes {
				status := "DOWN"
				if n.Alive {
					status = "UP"
				}
				fmt.Fprintf(out, "  - %s [%s] (%s)\n", n.Address, n.Role, status)
			}
			return nil
		},
	}
}
