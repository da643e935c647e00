package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/devmonitor/mcp"
)

func newStatusCmd(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the evaluation server's health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			checker, err := mcp.NewStatusChecker(a.cfg.Server.URL, nil)
			if err != nil {
				return err
			}

			status, err := checker.Check(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(status)
			}
			fmt.Fprintf(out, "Server:             %s\n", checker.URL())
			fmt.Fprintf(out, "Status:             %s\n", status.Status)
			fmt.Fprintf(out, "Agent connected:    %t\n", status.AgentConnected)
			fmt.Fprintf(out, "Active connections: %d\n", status.ActiveConnections)
			if !status.Healthy() {
				return fmt.Errorf("server reports status %q", status.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the status as JSON")
	return cmd
}
