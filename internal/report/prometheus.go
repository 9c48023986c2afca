package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Dicklesworthstone/dappcheck/internal/scenario"
)

// ExportPrometheus renders the report in Prometheus exposition format, for
// a textfile collector. Each metric uses the "dappcheck_" prefix.
func (r *Report) ExportPrometheus() string {
	var b strings.Builder

	run := sanitizeLabel(r.RunID)
	driver := sanitizeLabel(r.Driver)

	b.WriteString("# HELP dappcheck_scenarios_total Scenarios by final status.\n")
	b.WriteString("# TYPE dappcheck_scenarios_total gauge\n")
	for _, st := range []scenario.Status{scenario.StatusPassed, scenario.StatusFailed, scenario.StatusSkipped} {
		n := 0
		switch st {
		case scenario.StatusPassed:
			n = r.Summary.Passed
		case scenario.StatusFailed:
			n = r.Summary.Failed
		case scenario.StatusSkipped:
			n = r.Summary.Skipped
		}
		b.WriteString(fmt.Sprintf("dappcheck_scenarios_total{run=%q,driver=%q,status=%q} %d\n",
			run, driver, st, n))
	}
	b.WriteByte('\n')

	failures := make(map[string]int64, len(r.Summary.ByKind))
	for kind, n := range r.Summary.ByKind {
		failures[string(kind)] = int64(n)
	}
	if len(failures) > 0 {
		b.WriteString("# HELP dappcheck_failures_total Failed scenarios by failure kind.\n")
		b.WriteString("# TYPE dappcheck_failures_total gauge\n")
		for _, kind := range sortedKeys(failures) {
			b.WriteString(fmt.Sprintf("dappcheck_failures_total{run=%q,kind=%q} %d\n",
				run, sanitizeLabel(kind), failures[kind]))
		}
		b.WriteByte('\n')
	}

	if len(r.Results) > 0 {
		b.WriteString("# HELP dappcheck_scenario_duration_seconds Wall time of each scenario.\n")
		b.WriteString("# TYPE dappcheck_scenario_duration_seconds gauge\n")
		for _, res := range r.Results {
			b.WriteString(fmt.Sprintf("dappcheck_scenario_duration_seconds{run=%q,scenario=%q,status=%q} %.3f\n",
				run, sanitizeLabel(res.Name), res.Status, res.Duration.Seconds()))
		}
		b.WriteByte('\n')
	}

	exchanges := make(map[string]int64)
	for _, res := range r.Results {
		for _, ex := range res.Exchanges {
			exchanges[fmt.Sprintf("%s\x00%d", ex.Alias, ex.Status)]++
		}
	}
	if len(exchanges) > 0 {
		b.WriteString("# HELP dappcheck_exchanges_total Intercepted requests by alias and mocked status.\n")
		b.WriteString("# TYPE dappcheck_exchanges_total counter\n")
		for _, key := range sortedKeys(exchanges) {
			alias, status, _ := strings.Cut(key, "\x00")
			b.WriteString(fmt.Sprintf("dappcheck_exchanges_total{run=%q,alias=%q,status=%q} %d\n",
				run, sanitizeLabel(alias), status, exchanges[key]))
		}
		b.WriteByte('\n')
	}

	b.WriteString("# HELP dappcheck_run_duration_seconds Wall time of the whole run.\n")
	b.WriteString("# TYPE dappcheck_run_duration_seconds gauge\n")
	b.WriteString(fmt.Sprintf("dappcheck_run_duration_seconds{run=%q,driver=%q} %.3f\n",
		run, driver, r.DurationSeconds))

	return b.String()
}

// SavePrometheus writes ExportPrometheus output to path.
func (r *Report) SavePrometheus(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(r.ExportPrometheus()), 0644); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}

// sanitizeLabel replaces characters invalid in Prometheus labels.
func sanitizeLabel(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.' || r == '/' || r == ':' || r == ' ' {
			return r
		}
		return '_'
	}, s)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
