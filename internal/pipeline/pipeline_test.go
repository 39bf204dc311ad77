package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tkingovr/quotaguard/api"
	"github.com/tkingovr/quotaguard/internal/config"
	"github.com/tkingovr/quotaguard/internal/envelope"
	"github.com/tkingovr/quotaguard/internal/ratelimit"
)

func testOptions() Options {
	return Options{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registerer: prometheus.NewRegistry(),
	}
}

func TestBuild_LocalBackend(t *testing.T) {
	cfg, err := config.LoadBytes([]byte("version: 1\nclusters:\n  - name: users\n"))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := Build(ctx, cfg, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if _, ok := p.Service.(*ratelimit.LocalService); !ok {
		t.Errorf("expected local service, got %T", p.Service)
	}
	if got := p.Chain.Filters(); !reflect.DeepEqual(got, []string{ratelimit.FilterName}) {
		t.Errorf("unexpected filters %v", got)
	}
	if p.Clusters.Cluster("users") == nil {
		t.Error("expected users cluster")
	}
	if !p.Runtime.Snapshot().FeatureEnabled(ratelimit.RuntimeFilterEnabled, 100) {
		t.Error("expected filter enabled without a runtime file")
	}
}

func TestBuild_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	yaml := fmt.Sprintf("version: 1\nrate_limit:\n  service:\n    backend: redis\n    redis:\n      addr: %s\n", mr.Addr())
	cfg, err := config.LoadBytes([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}

	p, err := Build(context.Background(), cfg, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Service.(*ratelimit.RedisService); !ok {
		t.Errorf("expected redis service, got %T", p.Service)
	}
	if err := p.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestBuild_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	yaml := fmt.Sprintf("version: 1\nrate_limit:\n  service:\n    backend: redis\n    redis:\n      addr: %s\n", addr)
	cfg, err := config.LoadBytes([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Build(context.Background(), cfg, testOptions()); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}

func TestBuild_MissingRuntimeFile(t *testing.T) {
	cfg, err := config.LoadBytes([]byte("version: 1\nsettings:\n  runtime_file: /nonexistent/runtime.yaml\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Build(context.Background(), cfg, testOptions()); err == nil {
		t.Fatal("expected error for missing runtime file")
	}
}

func TestBuild_DuplicateRegistration(t *testing.T) {
	cfg := config.DefaultConfig()
	opts := testOptions()
	if _, err := Build(context.Background(), cfg, opts); err != nil {
		t.Fatal(err)
	}
	if _, err := Build(context.Background(), cfg, opts); err == nil {
		t.Fatal("expected second registration on the same registry to fail")
	}
}

const checkConfig = `
version: 1
rate_limit:
  service:
    limits:
      - key: generic_key
        requests_per_unit: 1
        unit: hour
clusters:
  - name: users
routes:
  - name: users
    match:
      interface: org.apache.dubbo.UserService
    route:
      cluster: users
    rate_limits:
      - actions:
          - generic_key:
              descriptor_value: users
`

func TestPipeline_Check(t *testing.T) {
	cfg, err := config.LoadBytes([]byte(checkConfig))
	if err != nil {
		t.Fatal(err)
	}
	p, err := Build(context.Background(), cfg, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	env := &envelope.Envelope{ID: 1, Service: "org.apache.dubbo.UserService", Method: "get"}

	res, err := p.Check(context.Background(), env, netip.Addr{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != api.OutcomeForwarded || res.ResponseFlags != "-" {
		t.Errorf("expected first check forwarded, got %+v", res)
	}

	res, err = p.Check(context.Background(), env, netip.Addr{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != api.OutcomeLocalReply || res.ResponseFlags != "RL" || res.Message != ratelimit.MessageOverLimit {
		t.Errorf("expected second check rate limited, got %+v", res)
	}
}
