package policy

// RateLimitConfig configures one rate limit policy entry of a route.
type RateLimitConfig struct {
	Stage      uint32         `yaml:"stage" json:"stage"`
	DisableKey string         `yaml:"disable_key,omitempty" json:"disable_key,omitempty"`
	Actions    []ActionConfig `yaml:"actions" json:"actions"`
}

// ActionConfig configures a single descriptor action. Exactly one field
// must be set.
type ActionConfig struct {
	SourceCluster      *SourceClusterConfig      `yaml:"source_cluster,omitempty" json:"source_cluster,omitempty"`
	DestinationCluster *DestinationClusterConfig `yaml:"destination_cluster,omitempty" json:"destination_cluster,omitempty"`
	RemoteAddress      *RemoteAddressConfig      `yaml:"remote_address,omitempty" json:"remote_address,omitempty"`
	GenericKey         *GenericKeyConfig         `yaml:"generic_key,omitempty" json:"generic_key,omitempty"`
	RequestHeaders     *RequestHeadersConfig     `yaml:"request_headers,omitempty" json:"request_headers,omitempty"`
	HeaderValueMatch   *HeaderValueMatchConfig   `yaml:"header_value_match,omitempty" json:"header_value_match,omitempty"`
	Rego               *RegoConfig               `yaml:"rego,omitempty" json:"rego,omitempty"`
}

type SourceClusterConfig struct{}

type DestinationClusterConfig struct{}

type RemoteAddressConfig struct{}

// GenericKeyConfig emits a constant descriptor entry.
type GenericKeyConfig struct {
	DescriptorKey   string `yaml:"descriptor_key,omitempty" json:"descriptor_key,omitempty"`
	DescriptorValue string `yaml:"descriptor_value" json:"descriptor_value"`
}

// RequestHeadersConfig copies an attachment header into the descriptor.
type RequestHeadersConfig struct {
	HeaderName    string `yaml:"header_name" json:"header_name"`
	DescriptorKey string `yaml:"descriptor_key" json:"descriptor_key"`
	SkipIfAbsent  bool   `yaml:"skip_if_absent,omitempty" json:"skip_if_absent,omitempty"`
}

// HeaderValueMatchConfig emits a constant entry when the headers match.
type HeaderValueMatchConfig struct {
	DescriptorKey   string          `yaml:"descriptor_key,omitempty" json:"descriptor_key,omitempty"`
	DescriptorValue string          `yaml:"descriptor_value" json:"descriptor_value"`
	ExpectMatch     *bool           `yaml:"expect_match,omitempty" json:"expect_match,omitempty"`
	Headers         []HeaderMatcher `yaml:"headers" json:"headers"`
}

// HeaderMatcher specifies a matching condition for a single header.
// With no condition set the header only has to be present.
type HeaderMatcher struct {
	Name        string `yaml:"name" json:"name"`
	Exact       string `yaml:"exact,omitempty" json:"exact,omitempty"`
	Prefix      string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Regex       string `yaml:"regex,omitempty" json:"regex,omitempty"`
	Present     *bool  `yaml:"present,omitempty" json:"present,omitempty"`
	InvertMatch bool   `yaml:"invert_match,omitempty" json:"invert_match,omitempty"`
}

// RegoConfig evaluates a Rego query to produce descriptor entries.
type RegoConfig struct {
	// Query defaults to data.quotaguard.descriptor.
	Query string `yaml:"query,omitempty" json:"query,omitempty"`
	// Module is inline Rego source; File is read when Module is empty.
	Module string `yaml:"module,omitempty" json:"module,omitempty"`
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
}
