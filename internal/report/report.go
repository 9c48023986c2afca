// Package report turns scenario results into the artifacts a run leaves
// behind: a JSON report, a JSONL event log, Prometheus text metrics and a
// terminal or markdown summary.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Dicklesworthstone/dappcheck/internal/scenario"
)

// Report is the JSON document written at the end of a run.
type Report struct {
	RunID           string                    `json:"run_id"`
	Timestamp       time.Time                 `json:"timestamp"`
	DurationSeconds float64                   `json:"duration_seconds"`
	Driver          string                    `json:"driver"`
	BaseURL         string                    `json:"base_url"`
	Environment     Environment               `json:"environment"`
	Summary         scenario.Summary          `json:"summary"`
	Results         []scenario.ScenarioResult `json:"results"`
}

// Options describe the run a report is generated for.
type Options struct {
	RunID       string
	Driver      string
	BaseURL     string
	StartedAt   time.Time
	Environment Environment
}

// Generate builds a report from results. A run id is assigned when opts
// leaves it empty.
func Generate(results []scenario.ScenarioResult, opts Options) *Report {
	runID := opts.RunID
	if runID == "" {
		runID = NewRunID()
	}
	now := time.Now()
	started := opts.StartedAt
	if started.IsZero() {
		started = now
	}
	return &Report{
		RunID:           runID,
		Timestamp:       started,
		DurationSeconds: now.Sub(started).Seconds(),
		Driver:          opts.Driver,
		BaseURL:         opts.BaseURL,
		Environment:     opts.Environment,
		Summary:         scenario.Summarize(results),
		Results:         results,
	}
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// Failed returns the results that did not pass or skip.
func (r *Report) Failed() []scenario.ScenarioResult {
	var out []scenario.ScenarioResult
	for _, res := range r.Results {
		if res.Status == scenario.StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// NearMiss is a failed assertion step and how close the page came to it.
type NearMiss struct {
	Scenario   string  `json:"scenario"`
	Step       int     `json:"step"`
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
}

// NearMisses lists failed assertion steps, closest first.
func (r *Report) NearMisses() []NearMiss {
	var out []NearMiss
	for _, res := range r.Results {
		for _, st := range res.Steps {
			if st.Similarity == nil {
				continue
			}
			out = append(out, NearMiss{Scenario: res.Name, Step: st.Index, Name: st.Name, Similarity: *st.Similarity})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

// OK reports whether every scenario passed.
func (r *Report) OK() bool {
	return r.Summary.Failed == 0 && r.Summary.Skipped == 0
}

// Save writes the report as indented JSON, creating parent directories.
func (r *Report) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// Load reads a report written by Save.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", path, err)
	}
	return &r, nil
}
