package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tkingovr/quotaguard/api"
	"github.com/tkingovr/quotaguard/internal/envelope"
	"github.com/tkingovr/quotaguard/internal/pipeline"
)

var (
	checkService string
	checkMethod  string
	checkGroup   string
	checkVersion string
	checkHeaders []string
	checkBody    string
	checkRemote  string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Dry-run a call through the rate limit filter without a running proxy",
	Long: `Check what decision a call would receive without running the proxy.
The quota service is queried for real, so a check consumes quota like
any other call. Useful for testing route and descriptor configuration.`,
	Example: `  quotaguard check -c quotaguard.yaml --service org.apache.dubbo.UserService --method get --remote 10.0.0.1
  quotaguard check -c quotaguard.yaml --service orders --method create -H tenant=acme`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkService, "service", "", "service (interface) name")
	checkCmd.Flags().StringVar(&checkMethod, "method", "", "method name")
	checkCmd.Flags().StringVar(&checkGroup, "group", "", "service group")
	checkCmd.Flags().StringVar(&checkVersion, "version", "", "service version")
	checkCmd.Flags().StringArrayVarP(&checkHeaders, "header", "H", nil, "attachment header as key=value (repeatable)")
	checkCmd.Flags().StringVar(&checkBody, "body", "", "JSON call arguments")
	checkCmd.Flags().StringVar(&checkRemote, "remote", "", "downstream peer address")
	_ = checkCmd.MarkFlagRequired("service")
	_ = checkCmd.MarkFlagRequired("method")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("--config/-c is required for check command")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	env := &envelope.Envelope{
		Type:    api.MessageTypeRequest,
		Service: checkService,
		Method:  checkMethod,
		Group:   checkGroup,
		Version: checkVersion,
	}
	if len(checkHeaders) > 0 {
		env.Headers = make(map[string]string, len(checkHeaders))
		for _, h := range checkHeaders {
			k, v, ok := strings.Cut(h, "=")
			if !ok || k == "" {
				return fmt.Errorf("invalid header %q, expected key=value", h)
			}
			env.Headers[k] = v
		}
	}
	if checkBody != "" {
		if !json.Valid([]byte(checkBody)) {
			return fmt.Errorf("--body is not valid JSON")
		}
		env.Body = json.RawMessage(checkBody)
	}

	var remote netip.Addr
	if checkRemote != "" {
		remote, err = netip.ParseAddr(checkRemote)
		if err != nil {
			return fmt.Errorf("invalid --remote: %w", err)
		}
	}

	ctx := context.Background()
	p, err := pipeline.Build(ctx, cfg, pipeline.Options{Logger: logger, Registerer: prometheus.NewRegistry()})
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}
	defer p.Close()

	result, err := p.Check(ctx, env, remote)
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
