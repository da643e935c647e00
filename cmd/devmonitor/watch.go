package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/zhubert/devmonitor/logger"
	"github.com/zhubert/devmonitor/mcp"
)

func newWatchCmd(a *app) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Hold a connection open and report its state",
		Long: `Connects to the evaluation server and prints every connection state
change until interrupted. Prometheus metrics are served on --metrics-addr.

Exits with an error once reconnect attempts are exhausted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, a, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9464", "address for the /metrics endpoint (empty disables it)")
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, a *app, metricsAddr string) error {
	log := logger.WithComponent("watch")
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := mcp.NewMetrics(reg)

	if metricsAddr != "" {
		srv, err := serveMetrics(metricsAddr, reg)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Serving metrics on http://%s/metrics\n", srv.Addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	var outMu sync.Mutex
	printf := func(w io.Writer, format string, args ...any) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(w, format, args...)
	}

	exhausted := make(chan error, 1)
	notifier := mcp.NotifierFunc(func(err error) {
		printf(errOut, "%s %v\n", time.Now().Format(time.TimeOnly), err)
		if errors.Is(err, mcp.ErrReconnectExhausted) {
			select {
			case exhausted <- err:
			default:
			}
		}
	})

	client, err := a.newClient(
		mcp.WithMetrics(metrics),
		mcp.WithNotifier(notifier),
		mcp.WithStateListener(func(from, to mcp.ConnectionState) {
			printf(out, "%s %s -> %s\n", time.Now().Format(time.TimeOnly), from, to)
		}),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	log.Info("watching", "endpoint", client.Endpoint())
	if err := client.Connect(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-exhausted:
		return err
	}
}

// serveMetrics starts the /metrics endpoint in the background.
func serveMetrics(addr string, reg *prometheus.Registry) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithComponent("watch").Error("metrics server stopped", "error", err)
		}
	}()
	return srv, nil
}
