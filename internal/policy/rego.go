package policy

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"

	"github.com/tkingovr/quotaguard/api"
)

// DefaultRegoQuery is evaluated when a rego action does not name a query.
const DefaultRegoQuery = "data.quotaguard.descriptor"

// regoEvalTimeout bounds a single evaluation on the event loop.
const regoEvalTimeout = 50 * time.Millisecond

// RegoAction builds descriptor entries with an embedded OPA/Rego policy.
//
// The query must produce either a single object or a list of objects of
// the form {"key": string, "value": string}. An undefined result makes the
// action fail, dropping the descriptor.
//
// Input available to the policy:
//
//	input.service, input.method, input.group, input.version: string
//	input.headers: object
//	input.remote_address: string
//	input.source_cluster, input.destination_cluster: string
type RegoAction struct {
	query   rego.PreparedEvalQuery
	timeout time.Duration
}

// NewRegoActionFromConfig loads the module inline or from a file.
func NewRegoActionFromConfig(cfg RegoConfig) (*RegoAction, error) {
	source := cfg.Module
	if source == "" {
		if cfg.File == "" {
			return nil, fmt.Errorf("rego: module or file is required")
		}
		data, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("reading rego module: %w", err)
		}
		source = string(data)
	}
	query := cfg.Query
	if query == "" {
		query = DefaultRegoQuery
	}
	return NewRegoAction(query, source)
}

// NewRegoAction compiles the given Rego source and query.
func NewRegoAction(query, source string) (*RegoAction, error) {
	if _, err := ast.ParseModuleWithOpts("descriptor.rego", source, ast.ParserOptions{RegoVersion: ast.RegoV1}); err != nil {
		return nil, fmt.Errorf("parsing Rego module: %w", err)
	}

	r := rego.New(
		rego.Query(query),
		rego.Module("descriptor.rego", source),
		rego.Store(inmem.New()),
	)

	prepared, err := r.PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("preparing Rego query: %w", err)
	}
	return &RegoAction{query: prepared, timeout: regoEvalTimeout}, nil
}

func (a *RegoAction) Populate(in *ActionInput, d *api.Descriptor) bool {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	rs, err := a.query.Eval(ctx, rego.EvalInput(regoInput(in)))
	if err != nil || len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false
	}

	entries, ok := parseRegoEntries(rs[0].Expressions[0].Value)
	if !ok {
		return false
	}
	d.Entries = append(d.Entries, entries...)
	return true
}

func regoInput(in *ActionInput) map[string]any {
	input := map[string]any{
		"source_cluster": in.LocalServiceCluster,
	}
	if in.Route != nil {
		input["destination_cluster"] = in.Route.ClusterName()
	}
	if in.RemoteAddress.IsValid() {
		input["remote_address"] = in.RemoteAddress.String()
	}
	if md := in.Metadata; md != nil {
		input["service"] = md.ServiceName
		input["method"] = md.MethodName
		input["group"] = md.Group
		input["version"] = md.Version
		headers := make(map[string]any, len(md.Headers))
		for k, v := range md.Headers {
			headers[k] = v
		}
		input["headers"] = headers
	}
	return input
}

func parseRegoEntries(v any) ([]api.DescriptorEntry, bool) {
	switch val := v.(type) {
	case map[string]any:
		e, ok := parseRegoEntry(val)
		if !ok {
			return nil, false
		}
		return []api.DescriptorEntry{e}, true
	case []any:
		if len(val) == 0 {
			return nil, false
		}
		entries := make([]api.DescriptorEntry, 0, len(val))
		for _, item := range val {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			e, ok := parseRegoEntry(m)
			if !ok {
				return nil, false
			}
			entries = append(entries, e)
		}
		return entries, true
	}
	return nil, false
}

func parseRegoEntry(m map[string]any) (api.DescriptorEntry, bool) {
	key, ok := m["key"].(string)
	if !ok || key == "" {
		return api.DescriptorEntry{}, false
	}
	value, ok := m["value"].(string)
	if !ok {
		return api.DescriptorEntry{}, false
	}
	return api.DescriptorEntry{Key: key, Value: value}, true
}
