package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhubert/devmonitor/logger"
	"github.com/zhubert/devmonitor/paths"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}
	cmd.AddCommand(newConfigInitCmd(a), newConfigPathCmd(a))
	return cmd
}

func newConfigInitCmd(a *app) *cobra.Command {
	var (
		output string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective settings to config.yaml",
		Long: `Writes the settings currently in effect, including environment and flag
overrides, to the config file. An existing file is kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "" {
				a.cfg.SetFilePath(output)
			}
			path := a.cfg.FilePath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := a.cfg.Save(); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default: the loaded config path)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show where devmonitor keeps its files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logsDir, err := paths.LogsDir()
			if err != nil {
				return err
			}
			layout := "xdg"
			if paths.IsFlatLayout() {
				layout = "flat"
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config file: %s\n", a.cfg.FilePath())
			fmt.Fprintf(out, "Logs dir:    %s\n", logsDir)
			fmt.Fprintf(out, "Log file:    %s\n", logger.Path())
			fmt.Fprintf(out, "Layout:      %s\n", layout)
			return nil
		},
	}
}
