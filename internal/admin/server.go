package admin

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tkingovr/quotaguard/internal/envelope"
	"github.com/tkingovr/quotaguard/internal/pipeline"
)

// Reloader re-reads runtime flags.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Checker dry-runs a message through the chain.
type Checker interface {
	Check(ctx context.Context, env *envelope.Envelope, remote netip.Addr) (*pipeline.CheckResult, error)
}

// Server is the admin HTTP server exposing metrics and operational hooks.
type Server struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	addr     string
	gatherer prometheus.Gatherer
	runtime  Reloader
	checker  Checker
	config   func() ([]byte, error)
}

// NewServer creates a new admin server. config renders the active
// configuration as YAML.
func NewServer(addr string, gatherer prometheus.Gatherer, rt Reloader, checker Checker,
	config func() ([]byte, error), logger *slog.Logger) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		logger:   logger,
		addr:     addr,
		gatherer: gatherer,
		runtime:  rt,
		checker:  checker,
		config:   config,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /config", s.handleConfig)
	s.mux.HandleFunc("POST /runtime/reload", s.handleRuntimeReload)
	s.mux.HandleFunc("POST /api/v1/check", s.handleAPICheck)
}

// ListenAndServe starts the admin HTTP server.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	s.logger.Info("starting admin server", "addr", s.addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler returns the HTTP handler for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}
