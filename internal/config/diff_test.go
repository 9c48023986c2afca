package config

import (
	"testing"
	"time"
)

func TestDiff_NilConfig(t *testing.T) {
	t.Parallel()

	if diffs := Diff(nil); diffs != nil {
		t.Errorf("expected nil for nil config, got %d diffs", len(diffs))
	}
}

func TestDiff_DefaultConfig_NoDiffs(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Run.Tags = []string{}
	if diffs := Diff(&cfg); len(diffs) != 0 {
		t.Errorf("expected 0 diffs for default config, got %d:", len(diffs))
		for _, d := range diffs {
			t.Logf("  %s: default=%v current=%v", d.Path, d.Default, d.Current)
		}
	}
}

func TestDiff_ReportsChangedKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
		want   any
	}{
		{"driver", func(c *Config) { c.Target.Driver = "sim" }, "target.driver", "sim"},
		{"step timeout", func(c *Config) { c.Run.StepTimeout = 3 * time.Second }, "run.step_timeout", 3 * time.Second},
		{"tags", func(c *Config) { c.Run.Tags = []string{"smoke"} }, "run.tags", []string{"smoke"}},
		{"notify", func(c *Config) { c.Notify.On = "always" }, "notify.on", "always"},
		{"history", func(c *Config) { c.History.Enabled = false }, "history.enabled", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			diffs := Diff(&cfg)
			if len(diffs) != 1 || diffs[0].Path != tc.path {
				t.Fatalf("diffs = %+v", diffs)
			}
			if !equalValues(diffs[0].Current, tc.want) {
				t.Errorf("Current = %v, want %v", diffs[0].Current, tc.want)
			}
		})
	}
}

func TestDiff_MultipleChangesSorted(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Preflight.Attempts = 9
	cfg.MockAPI.Addr = "127.0.0.1:9999"
	cfg.Target.BaseURL = "http://staging:3000"

	diffs := Diff(&cfg)
	want := []string{"mockapi.addr", "preflight.attempts", "target.base_url"}
	if len(diffs) != len(want) {
		t.Fatalf("diffs = %+v", diffs)
	}
	for i, d := range diffs {
		if d.Path != want[i] {
			t.Errorf("diffs[%d] = %s, want %s", i, d.Path, want[i])
		}
	}
	if diffs[0].Default != "127.0.0.1:8787" {
		t.Errorf("Default = %v", diffs[0].Default)
	}
}
