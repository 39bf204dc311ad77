package cli

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/tkingovr/quotaguard/internal/admin"
	"github.com/tkingovr/quotaguard/internal/config"
	stdioproxy "github.com/tkingovr/quotaguard/internal/proxy/stdio"
)

var adminAddr string

var serveCmd = &cobra.Command{
	Use:   "serve [flags] -- <command> [args...]",
	Short: "Start the stdio proxy and the admin server",
	Long: `Start both the stdio proxy and the admin HTTP server together.
The admin server exposes /metrics, /healthz, /config, /runtime/reload
and /api/v1/check. SIGHUP reloads the runtime flag file.`,
	Example: `  quotaguard serve -c quotaguard.yaml -- ./user-service`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().StringVar(&downstreamAddr, "downstream-addr", "127.0.0.1",
		"address reported as the downstream peer for remote_address descriptors")
	serveCmd.Flags().StringVar(&adminAddr, "admin-addr", "", "admin listen address (overrides settings.metrics_addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.MetricsAddr
	if adminAddr != "" {
		addr = adminAddr
	}
	if addr == "" {
		addr = config.DefaultMetricsAddr
	}

	remote, err := netip.ParseAddr(downstreamAddr)
	if err != nil {
		return fmt.Errorf("invalid --downstream-addr: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p, store, err := buildProxy(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer p.Close()
	defer store.Close()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				if err := p.Runtime.Reload(ctx); err != nil {
					logger.Error("runtime reload failed", "error", err)
					continue
				}
				logger.Info("runtime flags reloaded", "file", cfg.RuntimeFile)
			case <-ctx.Done():
				return
			}
		}
	}()

	srv := admin.NewServer(addr, reg, p.Runtime, p, cfg.MarshalYAML, logger)
	go func() {
		if err := srv.ListenAndServe(ctx); err != nil {
			logger.Error("admin server error", "error", err)
		}
	}()

	logger.Info("starting serve mode",
		slog.String("command", args[0]),
		slog.String("admin", addr),
		slog.String("backend", cfg.Backend),
	)

	proxy := stdioproxy.NewProxy(logger, p.Chain, store, p.Stats.Scope(stdioproxy.ListenerScope), remote)
	return ignoreCanceled(proxy.Run(ctx, args[0], args[1:]))
}
