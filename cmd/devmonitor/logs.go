package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/devmonitor/logger"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Manage the client log",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the default log file and its rotated backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Close()
			n, err := logger.ClearLogs()
			if err != nil {
				return fmt.Errorf("clear logs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d log file(s)\n", n)
			return nil
		},
	})
	return cmd
}
