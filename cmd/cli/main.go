package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/baxromumarov/ha-master/pkg/protocol"
	"github.com/baxromumarov/ha-master/pkg/transport"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

type globalOptions struct {
	master  string
	nodes   []string
	timeout time.Duration
	retries int
}

func (o *globalOptions) client() *transport.HTTPClient {
	return transport.NewHTTPClient(o.timeout).WithRetry(o.retries, 200*time.Millisecond)
}

// masterAddr returns --master, or asks every --nodes member for its role
func (o *globalOptions) masterAddr(ctx context.Context) (string, error) {
	if o.master != "" {
		return o.master, nil
	}
	if len(o.nodes) == 0 {
		return "", fmt.Errorf("--master or --nodes is required")
	}
	if addr := findMaster(ctx, o.client(), o.nodes); addr != "" {
		return addr, nil
	}
	return "", fmt.Errorf("no master among %s", strings.Join(o.nodes, ","))
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "ha-cli",
		Short:         "Talk to an ha-master cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.master, "master", "m", "", "master address")
	flags.StringSliceVar(&opts.nodes, "nodes", nil, "cluster members to search for the master")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Second, "per request timeout")
	flags.IntVar(&opts.retries, "retries", 0, "retries on transport errors and 5xx responses")

	cmd.AddCommand(
		newInitializeCommand(opts),
		newFinishCommand(opts),
		newKeepAliveCommand(opts),
		newActiveCommand(opts),
		newHealthCommand(opts),
		newStatusCommand(opts),
		newDashboardCommand(opts),
	)
	return cmd
}

func findMaster(ctx context.Context, client *transport.HTTPClient, nodes []string) string {
	for _, addr := range nodes {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}

		role, err := client.GetRole(ctx, addr)
		if err != nil {
			continue
		}

		if role.Role == string(protocol.RoleMaster) {
			return addr
		}
	}
	return ""
}
