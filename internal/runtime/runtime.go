package runtime

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Snapshot is an immutable view of the runtime feature flags.
type Snapshot interface {
	// FeatureEnabled reports whether key is enabled for this call. The flag
	// value is a percentage; defaultPercent applies when key is not set.
	FeatureEnabled(key string, defaultPercent uint64) bool
}

// Fraction is a flag value of Numerator out of Denominator.
type Fraction struct {
	Numerator   uint64
	Denominator uint64
}

type snapshot struct {
	values map[string]Fraction
	random func(n uint64) uint64
}

func (s *snapshot) FeatureEnabled(key string, defaultPercent uint64) bool {
	f, ok := s.values[key]
	if !ok {
		f = Fraction{Numerator: defaultPercent, Denominator: 100}
	}
	if f.Numerator == 0 || f.Denominator == 0 {
		return false
	}
	if f.Numerator >= f.Denominator {
		return true
	}
	return s.random(f.Denominator) < f.Numerator
}

// Loader owns the current snapshot and swaps it atomically on reload.
type Loader struct {
	path    string
	current atomic.Pointer[snapshot]
	random  func(n uint64) uint64
}

// NewLoader reads runtime flags from a YAML file. An empty path yields a
// loader where every flag takes its default.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path, random: rand.Uint64N}
	if err := l.Reload(context.Background()); err != nil {
		return nil, err
	}
	return l, nil
}

// NewStatic builds a loader over fixed values, given as percentages.
func NewStatic(values map[string]uint64) *Loader {
	l := &Loader{random: rand.Uint64N}
	fractions := make(map[string]Fraction, len(values))
	for k, v := range values {
		fractions[k] = Fraction{Numerator: v, Denominator: 100}
	}
	l.current.Store(&snapshot{values: fractions, random: l.random})
	return l
}

// Snapshot returns the current flag snapshot.
func (l *Loader) Snapshot() Snapshot {
	return l.current.Load()
}

// Reload re-reads the flag file and replaces the snapshot.
func (l *Loader) Reload(_ context.Context) error {
	values := map[string]Fraction{}
	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return fmt.Errorf("reading runtime file: %w", err)
		}
		values, err = Parse(data)
		if err != nil {
			return err
		}
	}
	l.current.Store(&snapshot{values: values, random: l.random})
	return nil
}

// Parse decodes a flat YAML map of flag values. A value is a percentage,
// a boolean, or {numerator, denominator} where denominator is one of
// hundred, ten_thousand or million.
func Parse(data []byte) (map[string]Fraction, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing runtime YAML: %w", err)
	}

	values := make(map[string]Fraction, len(raw))
	for key, node := range raw {
		f, err := parseValue(&node)
		if err != nil {
			return nil, fmt.Errorf("runtime key %q: %w", key, err)
		}
		values[key] = f
	}
	return values, nil
}

func parseValue(node *yaml.Node) (Fraction, error) {
	if node.Kind == yaml.MappingNode {
		var v struct {
			Numerator   uint64 `yaml:"numerator"`
			Denominator string `yaml:"denominator"`
		}
		if err := node.Decode(&v); err != nil {
			return Fraction{}, err
		}
		den, err := denominator(v.Denominator)
		if err != nil {
			return Fraction{}, err
		}
		return Fraction{Numerator: v.Numerator, Denominator: den}, nil
	}

	if node.ShortTag() == "!!bool" {
		var b bool
		if err := node.Decode(&b); err != nil {
			return Fraction{}, err
		}
		if b {
			return Fraction{Numerator: 100, Denominator: 100}, nil
		}
		return Fraction{Numerator: 0, Denominator: 100}, nil
	}

	var pct uint64
	if err := node.Decode(&pct); err != nil {
		return Fraction{}, fmt.Errorf("expected percentage, boolean or fraction: %w", err)
	}
	return Fraction{Numerator: pct, Denominator: 100}, nil
}

func denominator(name string) (uint64, error) {
	switch name {
	case "", "hundred":
		return 100, nil
	case "ten_thousand":
		return 10_000, nil
	case "million":
		return 1_000_000, nil
	}
	return 0, fmt.Errorf("unknown denominator %q", name)
}
