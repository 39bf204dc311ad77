package policy

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/tkingovr/quotaguard/api"
)

// Descriptor keys emitted by the built-in actions.
const (
	KeySourceCluster      = "source_cluster"
	KeyDestinationCluster = "destination_cluster"
	KeyRemoteAddress      = "remote_address"
	KeyGenericKey         = "generic_key"
	KeyHeaderMatch        = "header_match"
)

// ActionInput is what an action may read while building a descriptor.
type ActionInput struct {
	Route               RouteInfo
	LocalServiceCluster string
	Metadata            *api.MessageMetadata
	RemoteAddress       netip.Addr
}

// Action appends entries to a descriptor. It returns false when it cannot
// produce a value, which drops the whole descriptor.
type Action interface {
	Populate(in *ActionInput, d *api.Descriptor) bool
}

// NewAction builds an action from configuration.
func NewAction(cfg ActionConfig) (Action, error) {
	var actions []Action
	if cfg.SourceCluster != nil {
		actions = append(actions, SourceClusterAction{})
	}
	if cfg.DestinationCluster != nil {
		actions = append(actions, DestinationClusterAction{})
	}
	if cfg.RemoteAddress != nil {
		actions = append(actions, RemoteAddressAction{})
	}
	if cfg.GenericKey != nil {
		actions = append(actions, GenericKeyAction{
			Key:   cfg.GenericKey.DescriptorKey,
			Value: cfg.GenericKey.DescriptorValue,
		})
	}
	if cfg.RequestHeaders != nil {
		rh := cfg.RequestHeaders
		if rh.HeaderName == "" || rh.DescriptorKey == "" {
			return nil, fmt.Errorf("request_headers: header_name and descriptor_key are required")
		}
		actions = append(actions, RequestHeadersAction{
			HeaderName:    rh.HeaderName,
			DescriptorKey: rh.DescriptorKey,
			SkipIfAbsent:  rh.SkipIfAbsent,
		})
	}
	if cfg.HeaderValueMatch != nil {
		a, err := NewHeaderValueMatchAction(*cfg.HeaderValueMatch)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if cfg.Rego != nil {
		a, err := NewRegoActionFromConfig(*cfg.Rego)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}

	switch len(actions) {
	case 0:
		return nil, fmt.Errorf("no action configured")
	case 1:
		return actions[0], nil
	default:
		return nil, fmt.Errorf("exactly one action per entry is allowed, got %d", len(actions))
	}
}

// SourceClusterAction emits the local service cluster.
type SourceClusterAction struct{}

func (SourceClusterAction) Populate(in *ActionInput, d *api.Descriptor) bool {
	d.Entries = append(d.Entries, api.DescriptorEntry{Key: KeySourceCluster, Value: in.LocalServiceCluster})
	return true
}

// DestinationClusterAction emits the cluster the route points at.
type DestinationClusterAction struct{}

func (DestinationClusterAction) Populate(in *ActionInput, d *api.Descriptor) bool {
	if in.Route == nil {
		return false
	}
	d.Entries = append(d.Entries, api.DescriptorEntry{Key: KeyDestinationCluster, Value: in.Route.ClusterName()})
	return true
}

// RemoteAddressAction emits the downstream peer address.
type RemoteAddressAction struct{}

func (RemoteAddressAction) Populate(in *ActionInput, d *api.Descriptor) bool {
	if !in.RemoteAddress.IsValid() {
		return false
	}
	d.Entries = append(d.Entries, api.DescriptorEntry{Key: KeyRemoteAddress, Value: in.RemoteAddress.String()})
	return true
}

// GenericKeyAction emits a constant entry.
type GenericKeyAction struct {
	Key   string
	Value string
}

func (a GenericKeyAction) Populate(_ *ActionInput, d *api.Descriptor) bool {
	key := a.Key
	if key == "" {
		key = KeyGenericKey
	}
	d.Entries = append(d.Entries, api.DescriptorEntry{Key: key, Value: a.Value})
	return true
}

// RequestHeadersAction copies an attachment header value.
type RequestHeadersAction struct {
	HeaderName    string
	DescriptorKey string
	SkipIfAbsent  bool
}

func (a RequestHeadersAction) Populate(in *ActionInput, d *api.Descriptor) bool {
	v, ok := in.Metadata.Header(a.HeaderName)
	if !ok {
		return a.SkipIfAbsent
	}
	d.Entries = append(d.Entries, api.DescriptorEntry{Key: a.DescriptorKey, Value: v})
	return true
}

// HeaderValueMatchAction emits a constant entry when all header matchers
// agree with ExpectMatch.
type HeaderValueMatchAction struct {
	Key         string
	Value       string
	ExpectMatch bool
	matchers    []headerMatcher
}

type headerMatcher struct {
	HeaderMatcher
	re *regexp.Regexp
}

// NewHeaderValueMatchAction compiles the header matchers.
func NewHeaderValueMatchAction(cfg HeaderValueMatchConfig) (*HeaderValueMatchAction, error) {
	if len(cfg.Headers) == 0 {
		return nil, fmt.Errorf("header_value_match: at least one header is required")
	}
	a := &HeaderValueMatchAction{
		Key:         cfg.DescriptorKey,
		Value:       cfg.DescriptorValue,
		ExpectMatch: true,
	}
	if cfg.ExpectMatch != nil {
		a.ExpectMatch = *cfg.ExpectMatch
	}
	for _, hm := range cfg.Headers {
		if hm.Name == "" {
			return nil, fmt.Errorf("header_value_match: header name is required")
		}
		m := headerMatcher{HeaderMatcher: hm}
		if hm.Regex != "" {
			re, err := regexp.Compile(hm.Regex)
			if err != nil {
				return nil, fmt.Errorf("header_value_match: header %q regex invalid: %w", hm.Name, err)
			}
			m.re = re
		}
		a.matchers = append(a.matchers, m)
	}
	return a, nil
}

func (a *HeaderValueMatchAction) Populate(in *ActionInput, d *api.Descriptor) bool {
	if a.ExpectMatch != a.matches(in.Metadata) {
		return false
	}
	key := a.Key
	if key == "" {
		key = KeyHeaderMatch
	}
	d.Entries = append(d.Entries, api.DescriptorEntry{Key: key, Value: a.Value})
	return true
}

func (a *HeaderValueMatchAction) matches(md *api.MessageMetadata) bool {
	for _, m := range a.matchers {
		if !m.matches(md) {
			return false
		}
	}
	return true
}

func (m *headerMatcher) matches(md *api.MessageMetadata) bool {
	v, ok := md.Header(m.Name)

	var result bool
	switch {
	case m.Present != nil:
		result = ok == *m.Present
	case !ok:
		result = false
	case m.Exact != "":
		result = v == m.Exact
	case m.Prefix != "":
		result = strings.HasPrefix(v, m.Prefix)
	case m.re != nil:
		result = m.re.MatchString(v)
	default:
		result = true
	}

	if m.InvertMatch {
		return !result
	}
	return result
}
