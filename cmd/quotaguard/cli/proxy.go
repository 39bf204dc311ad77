package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tkingovr/quotaguard/internal/audit"
	"github.com/tkingovr/quotaguard/internal/config"
	"github.com/tkingovr/quotaguard/internal/pipeline"
	stdioproxy "github.com/tkingovr/quotaguard/internal/proxy/stdio"
)

var downstreamAddr string

var proxyCmd = &cobra.Command{
	Use:   "proxy [flags] -- <command> [args...]",
	Short: "Start the stdio rate limiting proxy",
	Long: `Start a stdio proxy that reads call envelopes from stdin, runs them
through the rate limit filter and forwards admitted calls to the
upstream subprocess.

The command after -- is the upstream to spawn.`,
	Example: `  quotaguard proxy -c quotaguard.yaml -- ./user-service
  quotaguard proxy -c quotaguard.yaml --downstream-addr 10.0.0.7 -- python upstream.py`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProxy,
}

func init() {
	proxyCmd.Flags().StringVar(&downstreamAddr, "downstream-addr", "127.0.0.1",
		"address reported as the downstream peer for remote_address descriptors")
	rootCmd.AddCommand(proxyCmd)
}

func runProxy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	p, store, err := buildProxy(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer p.Close()
	defer store.Close()

	remote, err := netip.ParseAddr(downstreamAddr)
	if err != nil {
		return fmt.Errorf("invalid --downstream-addr: %w", err)
	}

	logger.Info("starting stdio proxy",
		slog.String("command", args[0]),
		slog.Any("args", args[1:]),
		slog.String("config", cfgFile),
		slog.String("backend", cfg.Backend),
	)

	proxy := stdioproxy.NewProxy(logger, p.Chain, store, p.Stats.Scope(stdioproxy.ListenerScope), remote)
	return ignoreCanceled(proxy.Run(ctx, args[0], args[1:]))
}

func buildProxy(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*pipeline.Pipeline, *audit.JSONLStore, error) {
	store, err := audit.NewJSONLStore(cfg.LogDir)
	if err != nil {
		return nil, nil, fmt.Errorf("creating decision log: %w", err)
	}
	p, err := pipeline.Build(ctx, cfg, pipeline.Options{Logger: logger, Registerer: reg})
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("building pipeline: %w", err)
	}
	return p, store, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func ignoreCanceled(err error) error {
	if err == context.Canceled {
		return nil
	}
	return err
}
