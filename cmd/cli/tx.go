package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/baxromumarov/ha-master/pkg/protocol"
	"github.com/spf13/cobra"
)

type contextOptions struct {
	session  int64
	machine  int32
	event    int64
	masterID int32
	checksum int64
	applied  []string
}

func (o *contextOptions) bind(cmd *cobra.Command, full bool) {
	f := cmd.Flags()
	f.Int64Var(&o.session, "session", 0, "slave session id")
	f.Int64Var(&o.event, "event", 0, "event identifier within the session")
	f.Int32Var(&o.machine, "machine", 0, "slave machine id")
	if !full {
		return
	}
	f.Int32Var(&o.masterID, "master-id", 0, "master id the slave believes in")
	f.Int64Var(&o.checksum, "checksum", 0, "slave store checksum")
	f.StringSliceVar(&o.applied, "applied", nil, "last applied transactions as source:txid")
}

func (o *contextOptions) build() (protocol.RequestContext, error) {
	applied, err := parseApplied(o.applied)
	if err != nil {
		return protocol.RequestContext{}, err
	}
	rc := protocol.NewRequestContext(o.session, o.machine, o.event, applied, o.masterID, o.checksum)
	return rc, rc.Validate()
}

func parseApplied(raw []string) ([]protocol.Tx, error) {
	out := make([]protocol.Tx, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		source, id, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("applied entry %q: want source:txid", item)
		}
		txID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("applied entry %q: %w", item, err)
		}
		out = append(out, protocol.Tx{DataSource: source, TxID: txID})
	}
	return out, nil
}

func printTxResponse(cmd *cobra.Command, what string, rc protocol.RequestContext, resp *protocol.TxResponse) error {
	out := cmd.OutOrStdout()
	if resp.OK() {
		fmt.Fprintf(out, "✓ %s %s\n", what, rc.Key())
		if resp.TransactionID != "" {
			fmt.Fprintf(out, "  Transaction: %s\n", resp.TransactionID)
		}
		return nil
	}

	fmt.Fprintf(out, "✗ %s %s: %s\n", what, rc.Key(), resp.Code)
	if resp.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", resp.Error)
	}
	if resp.Code.Retryable() {
		fmt.Fprintln(out, "  The master is not accepting requests; retry later")
	}
	return fmt.Errorf("%s: %s", what, resp.Code)
}

func newInitializeCommand(g *globalOptions) *cobra.Command {
	opts := &contextOptions{}
	cmd := &cobra.Command{
		Use:   "initialize",
		Short: "Ask the master to begin a transaction for a request context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rc, err := opts.build()
			if err != nil {
				return err
			}
			addr, err := g.masterAddr(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := g.client().InitializeTx(cmd.Context(), addr, rc)
			if err != nil {
				return err
			}
			return printTxResponse(cmd, "initialize", rc, resp)
		},
	}
	opts.bind(cmd, true)
	return cmd
}

func newFinishCommand(g *globalOptions) *cobra.Command {
	opts := &contextOptions{}
	var rollback bool
	cmd := &cobra.Command{
		Use:   "finish",
		Short: "Commit or roll back the transaction of a request context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rc, err := opts.build()
			if err != nil {
				return err
			}
			addr, err := g.masterAddr(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := g.client().FinishTx(cmd.Context(), addr, rc, !rollback)
			if err != nil {
				return err
			}
			what := "commit"
			if rollback {
				what = "rollback"
			}
			return printTxResponse(cmd, what, rc, resp)
		},
	}
	opts.bind(cmd, false)
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back instead of committing")
	return cmd
}

func newKeepAliveCommand(g *globalOptions) *cobra.Command {
	opts := &contextOptions{}
	cmd := &cobra.Command{
		Use:   "keepalive",
		Short: "Reset the idle timer of a transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rc, err := opts.build()
			if err != nil {
				return err
			}
			addr, err := g.masterAddr(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := g.client().KeepAlive(cmd.Context(), addr, rc)
			if err != nil {
				return err
			}
			return printTxResponse(cmd, "keepalive", rc, resp)
		},
	}
	opts.bind(cmd, false)
	return cmd
}

func newActiveCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "List transactions the master holds open",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := g.masterAddr(cmd.Context())
			if err != nil {
				return err
			}
			active, err := g.client().ActiveTx(cmd.Context(), addr)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tMACHINE\tTRANSACTION\tIDLE")
			now := time.Now()
			for _, tx := range active.Transactions {
				key := protocol.ContextKey{SessionID: tx.SessionID, EventIdentifier: tx.EventIdentifier}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", key, tx.MachineID, tx.TransactionID,
					now.Sub(tx.LastActivity).Truncate(time.Second))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d active\n", active.Total)
			return nil
		},
	}
}
