package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nodewatch/internal/client"
	"nodewatch/internal/constants"
	"nodewatch/internal/rpc"
	"nodewatch/internal/types"
	"nodewatch/internal/utils"
)

var (
	noDashboard bool
	noMonitor   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live fleet status until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if noMonitor {
			cfg.AutoMonitor = false
		}
		app, err := newApp()
		if err != nil {
			return err
		}
		client.PrintBanner()
		app.Watch(os.Stdin, !noDashboard)
		app.Close()
		return nil
	},
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the wallet's nodes over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), constants.RequestTimeout)
		defer cancel()

		records, stats, err := app.Nodes(ctx)
		if err != nil {
			return fmt.Errorf("%s", types.Reason(err))
		}

		if !tableOutput() {
			return render(struct {
				Wallet  string               `json:"wallet"`
				Summary types.AggregateStats `json:"summary"`
				Nodes   []types.NodeRecord   `json:"nodes"`
			}{app.Signer.Address(), stats, records})
		}

		client.PrintBanner()
		client.PrintField("wallet", utils.ShortAddress(app.Signer.Address()), constants.ColorCyan)
		client.PrintField("fleet", client.FleetLine(stats), constants.ColorReset)
		fmt.Println()
		client.PrintNodes(records)
		fmt.Println()
		return nil
	},
}

type execResult struct {
	Node            string          `json:"node"`
	Command         string          `json:"command"`
	AuthorizedUntil time.Time       `json:"authorized_until"`
	Success         bool            `json:"success"`
	Code            string          `json:"code,omitempty"`
	Error           string          `json:"error,omitempty"`
	Message         string          `json:"message,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

var execCmd = &cobra.Command{
	Use:   "exec <node> <command> [args...]",
	Short: "Authorize against a node and run a remote command",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.AutoMonitor = false
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), client.ExecTimeout(cfg))
		defer cancel()

		node, command := args[0], args[1]
		reply, token, err := app.Exec(ctx, node, command, args[2:])
		if err != nil {
			if rpc.IsTimeout(err) {
				return fmt.Errorf("%s timed out", command)
			}
			return fmt.Errorf("%s", types.Reason(err))
		}

		if !tableOutput() {
			return render(execResult{
				Node:            node,
				Command:         command,
				AuthorizedUntil: token.ExpiresAt,
				Success:         reply.Success,
				Code:            reply.Code,
				Error:           reply.Error,
				Message:         reply.Message,
				Data:            reply.Data,
			})
		}

		client.PrintBanner()
		client.PrintField("node", node, constants.ColorCyan)
		client.PrintField("authorized", "until "+token.ExpiresAt.Format(constants.TimeFormatShort), constants.ColorGreen)
		fmt.Println()
		client.PrintReply(reply)
		return nil
	},
}

func init() {
	watchCmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "do not start the local dashboard")
	watchCmd.Flags().BoolVar(&noMonitor, "no-monitor", false, "authenticate without starting the status stream")
}
