package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/devmonitor/mcp"
)

func newContinueCmd(a *app) *cobra.Command {
	var (
		req      mcp.ContinueRequest
		timeout  time.Duration
		overHTTP bool
	)

	cmd := &cobra.Command{
		Use:   "continue [prompt]",
		Short: "Ask the server to drive a stalled conversation forward",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				req.Prompt = args[0]
			}

			client, err := a.newRequester(overHTTP)
			if err != nil {
				return err
			}
			defer client.Close()

			var opts []mcp.RequestOption
			if timeout > 0 {
				opts = append(opts, mcp.WithTimeout(timeout))
			}

			cont, err := client.SendContinue(cmd.Context(), req, opts...)
			if err != nil {
				return err
			}
			if !cont.Success {
				return fmt.Errorf("server could not continue: %s", cont.Response)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cont.Response)
			return nil
		},
	}

	cmd.Flags().BoolVar(&req.TimeoutOccurred, "timeout-occurred", false, "the assistant stopped because it timed out")
	cmd.Flags().StringVar(&req.ErrorMessage, "error-message", "", "error the assistant reported, if any")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "reply timeout (default from config)")
	cmd.Flags().BoolVar(&overHTTP, "http", false, "send over the HTTP message endpoint instead of a WebSocket")
	return cmd
}
