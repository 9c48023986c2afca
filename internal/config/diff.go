package config

import (
	"reflect"
	"sort"
)

// Difference is one key whose effective value is not the built-in default.
type Difference struct {
	Path    string `json:"path"`
	Default any    `json:"default"`
	Current any    `json:"current"`
}

// Diff lists the keys of cfg that differ from DefaultConfig, sorted by path.
func Diff(cfg *Config) []Difference {
	if cfg == nil {
		return nil
	}
	defaults := flatten(DefaultConfig())
	var out []Difference
	for key, cur := range flatten(*cfg) {
		def := defaults[key]
		if equalValues(def, cur) {
			continue
		}
		out = append(out, Difference{Path: key, Default: def, Current: cur})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// equalValues treats nil and empty slices as equal.
func equalValues(a, b any) bool {
	as, aok := a.([]string)
	bs, bok := b.([]string)
	if aok && bok && len(as) == 0 && len(bs) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
