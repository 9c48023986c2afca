package scenario

import (
	"time"

	"github.com/Dicklesworthstone/dappcheck/internal/intercept"
	"github.com/Dicklesworthstone/dappcheck/internal/wallet"
)

type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

type StepResult struct {
	Index       int           `json:"index"`
	Name        string        `json:"name"`
	Kind        StepKind      `json:"kind"`
	Status      Status        `json:"status"`
	Duration    time.Duration `json:"duration_ns"`
	Error       string        `json:"error,omitempty"`
	FailureKind FailureKind   `json:"failure_kind,omitempty"`
	// Similarity is how close the page came to a failed assertion, in [0,1].
	Similarity *float64 `json:"similarity,omitempty"`
}

// ExchangeSummary is the part of an exchange worth keeping in a report.
type ExchangeSummary struct {
	Alias  string    `json:"alias"`
	Method string    `json:"method"`
	Path   string    `json:"path"`
	Status int       `json:"status"`
	At     time.Time `json:"at"`
}

func summarize(ex intercept.Exchange) ExchangeSummary {
	return ExchangeSummary{
		Alias:  ex.Alias,
		Method: ex.Request.Method,
		Path:   ex.Request.Path,
		Status: ex.Response.StatusCode,
		At:     ex.At,
	}
}

type ScenarioResult struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Tags        []string            `json:"tags,omitempty"`
	Driver      string              `json:"driver"`
	Status      Status              `json:"status"`
	FailureKind FailureKind         `json:"failure_kind,omitempty"`
	Error       string              `json:"error,omitempty"`
	Err         error               `json:"-"`
	Steps       []StepResult        `json:"steps"`
	Exchanges   []ExchangeSummary   `json:"exchanges,omitempty"`
	Wallet      []wallet.Transition `json:"wallet_transitions,omitempty"`
	Unmatched   []string            `json:"unmatched_requests,omitempty"`
	Artifacts   []string            `json:"artifacts,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	Duration    time.Duration       `json:"duration_ns"`
}

// Passed reports whether every step passed.
func (r ScenarioResult) Passed() bool { return r.Status == StatusPassed }

// Summary counts results by status.
type Summary struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration_ns"`
	// ByKind counts failures per failure kind.
	ByKind map[FailureKind]int `json:"by_kind,omitempty"`
}

// Summarize aggregates results.
func Summarize(results []ScenarioResult) Summary {
	s := Summary{Total: len(results), ByKind: map[FailureKind]int{}}
	for _, r := range results {
		s.Duration += r.Duration
		switch r.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
			s.ByKind[r.FailureKind]++
		default:
			s.Skipped++
		}
	}
	return s
}
