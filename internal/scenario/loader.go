package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// file is the multi-scenario document layout.
type file struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Parse decodes YAML holding either one scenario or a "scenarios" list.
// Unknown keys are rejected so typos fail loudly.
func Parse(data []byte) ([]Scenario, error) {
	var probe map[string]yaml.Node
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing scenario yaml: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if _, ok := probe["scenarios"]; ok {
		var f file
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("decoding scenarios: %w", err)
		}
		return f.Scenarios, nil
	}
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}
	return []Scenario{sc}, nil
}

// LoadFile reads and validates the scenarios in path.
func LoadFile(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	scs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var errs []error
	for _, sc := range scs {
		if err := sc.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s: %w", path, errors.Join(errs...))
	}
	return scs, nil
}

// LoadDir loads every .yaml and .yml file in dir, in name order. Scenario
// names must be unique across the directory.
func LoadDir(dir string) ([]Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	slices.Sort(paths)

	var out []Scenario
	seen := map[string]string{}
	for _, p := range paths {
		scs, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		for _, sc := range scs {
			if prev, dup := seen[sc.Name]; dup {
				return nil, fmt.Errorf("%w: %q defined in %s and %s", ErrInvalidScenario, sc.Name, prev, p)
			}
			seen[sc.Name] = p
		}
		out = append(out, scs...)
	}
	return out, nil
}

// Merge appends extra to base. A scenario in extra replaces the one in base
// with the same name.
func Merge(base, extra []Scenario) []Scenario {
	out := slices.Clone(base)
	for _, sc := range extra {
		i := slices.IndexFunc(out, func(s Scenario) bool { return s.Name == sc.Name })
		if i >= 0 {
			out[i] = sc
			continue
		}
		out = append(out, sc)
	}
	return out
}
