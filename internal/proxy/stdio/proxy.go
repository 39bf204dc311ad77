package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"

	"github.com/tkingovr/quotaguard/internal/audit"
	"github.com/tkingovr/quotaguard/internal/filter"
	"github.com/tkingovr/quotaguard/internal/stats"
)

// Proxy sits between a downstream speaking line-delimited envelopes on
// stdin/stdout and the upstream service subprocess.
type Proxy struct {
	logger *slog.Logger
	chain  *filter.Chain
	store  audit.Store
	scope  stats.Scope
	remote netip.Addr
}

// NewProxy creates a new stdio proxy with the given filter chain.
func NewProxy(logger *slog.Logger, chain *filter.Chain, store audit.Store, scope stats.Scope, remote netip.Addr) *Proxy {
	return &Proxy{
		logger: logger,
		chain:  chain,
		store:  store,
		scope:  scope,
		remote: remote,
	}
}

// Run starts the proxy, spawning the subprocess and bridging stdin/stdout.
func (p *Proxy) Run(ctx context.Context, command string, args []string) error {
	proc, err := StartProcess(command, args)
	if err != nil {
		return err
	}
	defer func() {
		if err := proc.Stop(stopGracePeriod); err != nil {
			p.logger.Debug("upstream exited", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := NewSession(p.logger, p.chain, p.store, p.scope, p.remote, proc.Stdin(), os.Stdout)

	inbound := make(chan error, 1)
	outbound := make(chan error, 1)

	// Inbound: our stdin → filter chain → subprocess stdin
	go func() {
		err := session.Serve(ctx, os.Stdin)
		_ = proc.Stdin().Close()
		inbound <- err
	}()

	// Outbound: subprocess stdout → our stdout
	go func() {
		outbound <- pipeOutbound(proc.Stdout(), session.Downstream())
	}()

	select {
	case err := <-inbound:
		if err != nil {
			return err
		}
		// The upstream saw EOF on its stdin; let it answer what it has.
		select {
		case err := <-outbound:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case err := <-outbound:
		cancel()
		return err
	case <-ctx.Done():
		<-inbound
		return ctx.Err()
	}
}

func pipeOutbound(src io.Reader, dst io.Writer) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// Responses are written as one call so they never interleave with
		// local replies.
		out := make([]byte, 0, len(line)+1)
		out = append(append(out, line...), '\n')
		if _, err := dst.Write(out); err != nil {
			return fmt.Errorf("writing to stdout: %w", err)
		}
	}

	return scanner.Err()
}
