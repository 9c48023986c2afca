package scenario

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Dicklesworthstone/dappcheck/internal/browser"
	"github.com/Dicklesworthstone/dappcheck/internal/intercept"
	"github.com/Dicklesworthstone/dappcheck/internal/observer"
)

func TestStepValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		step    Step
		wantErr bool
		kind    StepKind
	}{
		{"navigate", Visit("/"), false, KindNavigate},
		{"click", Click(browser.ByTestID("x")), false, KindAction},
		{"type without value", Step{Action: &Action{Kind: ActionType, Target: browser.ByTestID("x")}}, true, KindAction},
		{"unknown action", Step{Action: &Action{Kind: "hover", Target: browser.ByTestID("x")}}, true, KindAction},
		{"empty target", Click(browser.Target{}), true, KindAction},
		{"empty", Step{}, true, ""},
		{"mixed", Step{Navigate: "/", Await: &Await{Alias: "a"}}, true, ""},
		{"await no alias", Step{Await: &Await{}}, true, KindAwait},
		{"bad wallet method", Wallet(WalletSpec{Method: "teleport"}), true, KindWallet},
		{"assert", Assert(observer.Exists(".x")), false, KindAssert},
		{"bad assert", Assert(observer.Condition{Kind: "nope"}), true, KindAssert},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.step.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := tt.step.Kind(); got != tt.kind {
				t.Errorf("Kind() = %q, want %q", got, tt.kind)
			}
		})
	}
}

func TestScenarioValidateCollectsErrors(t *testing.T) {
	t.Parallel()

	sc := Scenario{
		Intercepts: []InterceptSpec{{Alias: "", Path: "api"}},
		Steps: []Step{
			Wait("never"),
			{},
		},
	}
	err := sc.Validate()
	if !errors.Is(err, ErrInvalidScenario) {
		t.Fatalf("Validate() error = %v, want ErrInvalidScenario", err)
	}
	for _, want := range []string{"name is required", "alias is required", "@never", "step 1"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestAwaitOnMidScenarioRegistration(t *testing.T) {
	t.Parallel()

	sc := Scenario{
		Name: "late",
		Steps: []Step{
			Intercept(InterceptSpec{Alias: "late", Method: "POST", Path: "/api/x"}),
			Wait("late"),
		},
	}
	if err := sc.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		step Step
		want string
	}{
		{Visit("/governance"), "visit /governance"},
		{Click(browser.ByTestID("vote")), `click [data-testid="vote"]`},
		{Type(browser.BySelector("input"), "hi"), `type "hi" into input`},
		{Wait("deployAgent"), "wait for @deployAgent"},
		{Wallet(WalletSpec{Method: "connect", Reject: "no"}), `wallet connect rejects "no"`},
		{Visit("/").Named("open home"), "open home"},
	}
	for _, tt := range tests {
		if got := tt.step.Describe(); got != tt.want {
			t.Errorf("Describe() = %q, want %q", got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	wait := &intercept.WaitTimeoutError{Alias: "a", Err: context.DeadlineExceeded}
	tests := []struct {
		err  error
		want FailureKind
	}{
		{nil, FailureNone},
		{&observer.AssertionError{}, FailureAssertion},
		{fmt.Errorf("wrapped: %w", &ExpectationError{}), FailureAssertion},
		{wait, FailureTimeout},
		{fmt.Errorf("%w; fired without a wait: @b (1)", wait), FailureTimeout},
		{errors.Join(browser.ErrNotFound, context.DeadlineExceeded), FailureTimeout},
		{intercept.ErrUnknownAlias, FailureHarness},
		{&StepError{Kind: FailureAssertion, Err: errors.New("x")}, FailureAssertion},
		{errors.New("driver crashed"), FailureHarness},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestStepErrorUnwraps(t *testing.T) {
	t.Parallel()

	ae := &observer.AssertionError{Condition: observer.Exists(".x"), Waited: time.Second}
	err := error(&StepError{Scenario: "s", Index: 2, Step: "assert .x exists", Kind: FailureAssertion, Err: ae})
	var got *observer.AssertionError
	if !errors.As(err, &got) {
		t.Fatal("StepError does not unwrap to AssertionError")
	}
	if !strings.Contains(err.Error(), "step 3") {
		t.Errorf("Error() = %q", err)
	}
}

const yamlOne = `
name: connect
tags: [wallet]
intercepts:
  - alias: createProposal
    method: POST
    path: /api/governance/proposal
    status: 200
    body: {proposalId: prop456}
    delay: 50ms
steps:
  - navigate: /
  - action: {kind: click, target: {testid: connect-wallet}}
  - await: {alias: createProposal, status: 200, expect: {proposalId: prop456}}
  - assert: {kind: contains, selector: .wallet-status, text: Connected}
`

const yamlMany = `
scenarios:
  - name: a
    steps:
      - navigate: /
  - name: b
    wallet:
      - {method: connect, reject: nope}
    steps:
      - navigate: /
`

func TestParse(t *testing.T) {
	t.Parallel()

	scs, err := Parse([]byte(yamlOne))
	if err != nil {
		t.Fatal(err)
	}
	if len(scs) != 1 {
		t.Fatalf("got %d scenarios", len(scs))
	}
	sc := scs[0]
	if err := sc.Validate(); err != nil {
		t.Fatal(err)
	}
	if sc.Intercepts[0].Delay != 50*time.Millisecond {
		t.Errorf("Delay = %v", sc.Intercepts[0].Delay)
	}
	if sc.Steps[1].Action.Target.TestID != "connect-wallet" {
		t.Errorf("target = %+v", sc.Steps[1].Action.Target)
	}
	if sc.Steps[2].Await.Expect["proposalId"] != "prop456" {
		t.Errorf("await = %+v", sc.Steps[2].Await)
	}
	if sc.Steps[3].Assert.Kind != observer.KindContains {
		t.Errorf("assert = %+v", sc.Steps[3].Assert)
	}

	many, err := Parse([]byte(yamlMany))
	if err != nil {
		t.Fatal(err)
	}
	if len(many) != 2 || many[1].Wallet[0].Reject != "nope" {
		t.Errorf("many = %+v", many)
	}

	if _, err := Parse([]byte("name: x\nstepz: []\n")); err == nil {
		t.Error("Parse accepted an unknown key")
	}
}

func TestLoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("01-one.yaml", yamlOne)
	write("02-many.yml", yamlMany)
	write("notes.txt", "ignored")

	scs, err := LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, sc := range scs {
		names = append(names, sc.Name)
	}
	if got := strings.Join(names, ","); got != "connect,a,b" {
		t.Errorf("names = %s", got)
	}

	write("03-dup.yaml", "name: a\nsteps:\n  - navigate: /\n")
	if _, err := LoadDir(dir); !errors.Is(err, ErrInvalidScenario) {
		t.Errorf("LoadDir() error = %v, want duplicate name error", err)
	}
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("name: bad\nsteps:\n  - await: {alias: ghost}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); !errors.Is(err, ErrInvalidScenario) {
		t.Errorf("LoadFile() error = %v", err)
	}
}

func TestFilterAndMerge(t *testing.T) {
	t.Parallel()

	all := []Scenario{
		{Name: "a", Tags: []string{"smoke", "wallet"}},
		{Name: "b", Tags: []string{"wallet"}},
		{Name: "c"},
	}
	if got := Filter(all, nil, []string{"wallet", "smoke"}); len(got) != 1 || got[0].Name != "a" {
		t.Errorf("Filter(tags) = %+v", got)
	}
	if got := Filter(all, []string{"b", "c"}, nil); len(got) != 2 {
		t.Errorf("Filter(names) = %+v", got)
	}
	merged := Merge(all, []Scenario{{Name: "b", Description: "override"}, {Name: "d"}})
	if len(merged) != 4 || merged[1].Description != "override" {
		t.Errorf("Merge() = %+v", merged)
	}
	if all[1].Description != "" {
		t.Error("Merge modified its input")
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	s := Summarize([]ScenarioResult{
		{Status: StatusPassed, Duration: time.Second},
		{Status: StatusFailed, FailureKind: FailureAssertion, Duration: time.Second},
		{Status: StatusFailed, FailureKind: FailureTimeout},
		{Status: StatusSkipped},
	})
	if s.Total != 4 || s.Passed != 1 || s.Failed != 2 || s.Skipped != 1 {
		t.Errorf("Summarize() = %+v", s)
	}
	if s.ByKind[FailureAssertion] != 1 || s.ByKind[FailureTimeout] != 1 {
		t.Errorf("ByKind = %v", s.ByKind)
	}
	if s.Duration != 2*time.Second {
		t.Errorf("Duration = %v", s.Duration)
	}
}

func TestSlug(t *testing.T) {
	t.Parallel()
	if got := slug("Proposal create / failure!"); got != "proposal-create-failure" {
		t.Errorf("slug() = %q", got)
	}
}
