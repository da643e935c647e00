package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/devmonitor/config"
	"github.com/zhubert/devmonitor/logger"
	"github.com/zhubert/devmonitor/mcp"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	serverURL  string
	logFile    string
	debug      bool
}

// app carries state from PersistentPreRunE into the subcommands.
type app struct {
	flags globalFlags
	cfg   *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "devmonitor",
		Short: "Evaluate code suggestions against the evaluation server",
		Long: `devmonitor sends proposed code changes to the evaluation server and
reports its verdict. It also drives stalled conversations forward and
monitors the connection.

Settings are read from config.yaml in the config directory and may be
overridden with DEVMONITOR_* environment variables or the flags below.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "config file (default: config.yaml in the config directory)")
	pf.StringVar(&a.flags.serverURL, "server", "", "evaluation server WebSocket URL")
	pf.StringVar(&a.flags.logFile, "log-file", "", "log file (default: devmonitor.log in the logs directory)")
	pf.BoolVar(&a.flags.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newEvaluateCmd(a),
		newContinueCmd(a),
		newStatusCmd(a),
		newWatchCmd(a),
		newConfigCmd(a),
		newLogsCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	var err error
	if a.flags.configPath != "" {
		a.cfg, err = config.LoadFrom(a.flags.configPath)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if a.flags.serverURL != "" {
		a.cfg.SetServerURL(a.flags.serverURL)
		if err := a.cfg.Validate(); err != nil {
			return err
		}
	}

	logPath := a.flags.logFile
	if logPath == "" {
		logPath = a.cfg.Log.File
	}
	if logPath == "" {
		if logPath, err = logger.DefaultLogPath(); err != nil {
			return err
		}
	}
	if err := logger.Init(logPath); err != nil {
		return err
	}
	logger.SetDebug(a.flags.debug || a.cfg.Log.Debug)
	return nil
}

// newClient builds a client from the loaded config.
func (a *app) newClient(opts ...mcp.Option) (*mcp.Client, error) {
	return mcp.New(a.cfg.MCPSettings(), opts...)
}

// requester is the request surface shared by the WebSocket and HTTP clients.
type requester interface {
	EvaluateSuggestion(ctx context.Context, req mcp.SuggestionRequest, opts ...mcp.RequestOption) (*mcp.Evaluation, error)
	SendContinue(ctx context.Context, req mcp.ContinueRequest, opts ...mcp.RequestOption) (*mcp.Continuation, error)
	ContextStore() *mcp.ContextStore
	Close() error
}

// newRequester returns the HTTP message client when overHTTP is set and the
// WebSocket client otherwise.
func (a *app) newRequester(overHTTP bool) (requester, error) {
	if overHTTP {
		h, err := mcp.NewHTTPClient(a.cfg.MCPSettings(), nil)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
	c, err := a.newClient()
	if err != nil {
		return nil, err
	}
	return c, nil
}
