package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"

	"github.com/Dicklesworthstone/dappcheck/internal/scenario"
)

func sampleResults() []scenario.ScenarioResult {
	return []scenario.ScenarioResult{
		{
			Name:     "proposal-create",
			Driver:   "sim",
			Status:   scenario.StatusPassed,
			Duration: 1500 * time.Millisecond,
			Exchanges: []scenario.ExchangeSummary{
				{Alias: "createProposal", Method: "POST", Path: "/api/governance/proposal", Status: 200},
			},
		},
		{
			Name:        "agent-deploy",
			Description: "deploy an agent",
			Driver:      "sim",
			Status:      scenario.StatusFailed,
			FailureKind: scenario.FailureTimeout,
			Error:       `step 9 (await @deployAgent): timed out`,
			Duration:    10 * time.Second,
			Unmatched:   []string{"GET /api/ai/agents"},
			Artifacts:   []string{"test-results/e2e/agent-deploy-step09.png"},
			Exchanges: []scenario.ExchangeSummary{
				{Alias: "createProposal", Method: "POST", Path: "/api/governance/proposal", Status: 200},
				{Alias: "deployAgent", Method: "POST", Path: "/api/ai/deploy", Status: 500},
			},
		},
		{Name: "logout", Driver: "sim", Status: scenario.StatusSkipped, Error: "context canceled"},
	}
}

func sampleReport() *Report {
	return Generate(sampleResults(), Options{
		RunID:     "run-1",
		Driver:    "sim",
		BaseURL:   "http://localhost:3000",
		StartedAt: time.Now().Add(-12 * time.Second),
		Environment: Environment{
			Hostname: "ci-1", OS: "linux", Arch: "amd64", LogicalCPUs: 4,
		},
	})
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	r := sampleReport()

	if r.Summary.Total != 3 || r.Summary.Passed != 1 || r.Summary.Failed != 1 || r.Summary.Skipped != 1 {
		t.Fatalf("summary = %+v", r.Summary)
	}
	if r.Summary.ByKind[scenario.FailureTimeout] != 1 {
		t.Errorf("ByKind = %v", r.Summary.ByKind)
	}
	if r.DurationSeconds < 11 {
		t.Errorf("DurationSeconds = %v, want >= 11", r.DurationSeconds)
	}
	if r.OK() {
		t.Error("report with failures should not be OK")
	}
	if failed := r.Failed(); len(failed) != 1 || failed[0].Name != "agent-deploy" {
		t.Errorf("Failed() = %+v", failed)
	}

	fresh := Generate(nil, Options{})
	if _, err := uuid.Parse(fresh.RunID); err != nil {
		t.Errorf("generated run id %q: %v", fresh.RunID, err)
	}
	if !fresh.OK() {
		t.Error("empty report should be OK")
	}
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "report.json")
	r := sampleReport()
	if err := r.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.RunID != "run-1" || len(got.Results) != 3 {
		t.Fatalf("loaded = %+v", got)
	}
	if got.Results[1].FailureKind != scenario.FailureTimeout {
		t.Errorf("failure kind = %q", got.Results[1].FailureKind)
	}
	if got.Results[1].Duration != 10*time.Second {
		t.Errorf("duration = %v", got.Results[1].Duration)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing report")
	}
	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("expected error for malformed report")
	}
}

func TestEventLog(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "logs", EventsFile)
	log, err := NewEventLog(path, "run-1")
	if err != nil {
		t.Fatalf("NewEventLog: %v", err)
	}
	sink := log.Sink()
	sink(scenario.Event{Type: scenario.EventScenarioStart, Scenario: "logout"})
	sink(scenario.Event{Type: scenario.EventStepPassed, Scenario: "logout", Step: 1, Detail: "visit /"})
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := log.Record(scenario.Event{Type: scenario.EventScenarioEnd}); err != nil {
		t.Errorf("Record after Close = %v, want nil", err)
	}
	if err := log.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}

	other, err := NewEventLog(path, "run-2")
	if err != nil {
		t.Fatal(err)
	}
	_ = other.Record(scenario.Event{Type: scenario.EventScenarioEnd, Scenario: "logout", Status: scenario.StatusPassed})
	_ = other.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("not json\n")
	_ = f.Close()

	entries, err := ReadEvents(path)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Time.IsZero() {
		t.Error("timestamp should be filled in")
	}
	if entries[1].Detail != "visit /" || entries[1].Step != 1 {
		t.Errorf("entry = %+v", entries[1])
	}
	if got := EventsForRun(entries, "run-2"); len(got) != 1 || got[0].Status != scenario.StatusPassed {
		t.Errorf("EventsForRun = %+v", got)
	}

	none, err := ReadEvents(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil || none != nil {
		t.Errorf("missing log = %v, %v", none, err)
	}
}

func TestExportPrometheus(t *testing.T) {
	t.Parallel()
	out := sampleReport().ExportPrometheus()

	for _, want := range []string{
		"# TYPE dappcheck_scenarios_total gauge",
		`dappcheck_scenarios_total{run="run-1",driver="sim",status="passed"} 1`,
		`dappcheck_scenarios_total{run="run-1",driver="sim",status="failed"} 1`,
		`dappcheck_failures_total{run="run-1",kind="harness_timeout"} 1`,
		`dappcheck_scenario_duration_seconds{run="run-1",scenario="agent-deploy",status="failed"} 10.000`,
		`dappcheck_exchanges_total{run="run-1",alias="createProposal",status="200"} 2`,
		`dappcheck_exchanges_total{run="run-1",alias="deployAgent",status="500"} 1`,
		"dappcheck_run_duration_seconds",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, `alias="createProposal"`) > strings.Index(out, `alias="deployAgent"`) {
		t.Error("exchange series should be sorted")
	}

	empty := Generate(nil, Options{RunID: "r"}).ExportPrometheus()
	if strings.Contains(empty, "dappcheck_failures_total{") || strings.Contains(empty, "dappcheck_exchanges_total{") {
		t.Errorf("empty report emitted optional series:\n%s", empty)
	}

	path := filepath.Join(t.TempDir(), "metrics", "dappcheck.prom")
	if err := sampleReport().SavePrometheus(path); err != nil {
		t.Fatalf("SavePrometheus: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error(err)
	}
}

func TestSanitizeLabel(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"proposal-create", "proposal-create"},
		{`a"b`, "a_b"},
		{"line\nbreak", "line_break"},
		{"wallet:connect/1.0", "wallet:connect/1.0"},
	}
	for _, tt := range tests {
		if got := sanitizeLabel(tt.in); got != tt.want {
			t.Errorf("sanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrinterPlain(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	if p.Color() {
		t.Fatal("buffer should not be treated as a terminal")
	}
	p.Summary(sampleReport())
	out := buf.String()

	for _, want := range []string{
		"dappcheck run run-1",
		"PASS  proposal-create 1.5s",
		"FAIL  agent-deploy 10s [harness_timeout]",
		"      step 9 (await @deployAgent): timed out",
		"SKIP  logout",
		"1 passed, 1 failed, 1 skipped of 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("plain output contains escape codes")
	}
}

func TestMarkdown(t *testing.T) {
	t.Parallel()
	md := Markdown(sampleReport())
	for _, want := range []string{
		"# dappcheck run `run-1`",
		"| proposal-create | passed |  | 1.5s |",
		"| agent-deploy | failed | harness_timeout | 10s |",
		"## Failures",
		"### agent-deploy",
		"- `@deployAgent` POST /api/ai/deploy -> 500",
		"- GET /api/ai/agents",
		"agent-deploy-step09.png",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("missing %q in:\n%s", want, md)
		}
	}

	clean := Markdown(Generate([]scenario.ScenarioResult{{Name: "homepage", Status: scenario.StatusPassed}}, Options{RunID: "ok"}))
	if strings.Contains(clean, "## Failures") {
		t.Error("passing report should have no failures section")
	}

	rendered, err := RenderMarkdown(md, 80, false)
	if err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}
	if !strings.Contains(rendered, "agent-deploy") {
		t.Errorf("rendered output lost content:\n%s", rendered)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"anything", 0, "anything"},
		{"timed out waiting", 10, "timed o..."},
		{"提案の作成に失敗しました", 10, "提案の..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if runewidth.StringWidth(got) > tt.n && tt.n > 0 {
			t.Errorf("truncate(%q, %d) is %d cells wide", tt.in, tt.n, runewidth.StringWidth(got))
		}
	}
}

func TestNearMisses(t *testing.T) {
	t.Parallel()

	sim := func(v float64) *float64 { return &v }
	rep := Generate([]scenario.ScenarioResult{
		{Name: "vote", Status: scenario.StatusFailed, FailureKind: scenario.FailureAssertion, Steps: []scenario.StepResult{
			{Index: 0, Name: "visit /governance", Status: scenario.StatusPassed},
			{Index: 1, Name: `assert .proposal-item contains "Voted: Yes"`, Status: scenario.StatusFailed, Similarity: sim(0.9)},
		}},
		{Name: "deploy", Status: scenario.StatusFailed, FailureKind: scenario.FailureAssertion, Steps: []scenario.StepResult{
			{Index: 3, Name: `assert .agent-status contains "Status: Deployed"`, Status: scenario.StatusFailed, Similarity: sim(0.4)},
		}},
		{Name: "timeout", Status: scenario.StatusFailed, FailureKind: scenario.FailureTimeout, Steps: []scenario.StepResult{
			{Index: 0, Name: "await @deployAgent", Status: scenario.StatusFailed},
		}},
	}, Options{RunID: "near"})

	misses := rep.NearMisses()
	if len(misses) != 2 {
		t.Fatalf("NearMisses() = %+v", misses)
	}
	if misses[0].Scenario != "vote" || misses[1].Scenario != "deploy" {
		t.Errorf("order = %+v, want closest first", misses)
	}

	md := Markdown(rep)
	for _, want := range []string{"## Near misses", `| vote | 2: assert .proposal-item contains "Voted: Yes" | 90% |`, "| deploy | 4:"} {
		if !strings.Contains(md, want) {
			t.Errorf("missing %q in:\n%s", want, md)
		}
	}
	if strings.Contains(Markdown(sampleReport()), "## Near misses") {
		t.Error("report without assertion failures has a near misses section")
	}
}

func TestCollectEnvironment(t *testing.T) {
	t.Parallel()
	env := CollectEnvironment(context.Background(), true)
	if env.OS == "" || env.Arch == "" || env.GoVersion == "" {
		t.Errorf("runtime fields missing: %+v", env)
	}
	if !env.CI {
		t.Error("CI flag not carried")
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{1234 * time.Microsecond, "1ms"},
		{1500 * time.Millisecond, "1.5s"},
		{10 * time.Second, "10s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
