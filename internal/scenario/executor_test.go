package scenario_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/dappcheck/internal/browser"
	"github.com/Dicklesworthstone/dappcheck/internal/dappsim"
	"github.com/Dicklesworthstone/dappcheck/internal/intercept"
	"github.com/Dicklesworthstone/dappcheck/internal/observer"
	"github.com/Dicklesworthstone/dappcheck/internal/ontora"
	"github.com/Dicklesworthstone/dappcheck/internal/redaction"
	"github.com/Dicklesworthstone/dappcheck/internal/scenario"
)

func newExecutor(t *testing.T, events func(scenario.Event)) (*scenario.Executor, string) {
	t.Helper()
	dir := t.TempDir()
	return scenario.NewExecutor(dappsim.NewDriver(ontora.DefaultFixtures()), scenario.Options{
		BaseURL:       "http://localhost:3000",
		StepTimeout:   300 * time.Millisecond,
		RetryInterval: 5 * time.Millisecond,
		ArtifactDir:   dir,
		OnEvent:       events,
	}), dir
}

func connectSteps() []scenario.Step {
	return []scenario.Step{
		scenario.Visit("/"),
		scenario.Click(browser.ByTestID(ontora.TestIDConnectWallet)),
		scenario.Assert(observer.Contains(ontora.SelectorWalletStatus, ontora.TextConnected)),
	}
}

func TestRunPasses(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var types []scenario.EventType
	exec, _ := newExecutor(t, func(ev scenario.Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, ev.Type)
	})
	res := exec.Run(context.Background(), scenario.Scenario{Name: "connect", Steps: connectSteps()})
	if !res.Passed() {
		t.Fatalf("Run() failed: %s", res.Error)
	}
	if res.Driver != dappsim.DriverName {
		t.Errorf("Driver = %q", res.Driver)
	}
	if len(res.Wallet) != 2 {
		t.Errorf("wallet transitions = %+v", res.Wallet)
	}
	mu.Lock()
	defer mu.Unlock()
	if types[0] != scenario.EventScenarioStart || types[len(types)-1] != scenario.EventScenarioEnd {
		t.Errorf("events = %v", types)
	}
}

func TestAssertionFailureSkipsRemainingSteps(t *testing.T) {
	t.Parallel()

	exec, dir := newExecutor(t, nil)
	steps := append(connectSteps(),
		scenario.Assert(observer.Contains(ontora.SelectorWalletAddress, "someoneElse")),
		scenario.Visit("/governance"),
	)
	res := exec.Run(context.Background(), scenario.Scenario{Name: "wrong address", Steps: steps})

	if res.Passed() || res.FailureKind != scenario.FailureAssertion {
		t.Fatalf("status=%s kind=%s err=%s", res.Status, res.FailureKind, res.Error)
	}
	var se *scenario.StepError
	if !errors.As(res.Err, &se) || se.Index != 3 {
		t.Fatalf("Err = %v, want StepError at index 3", res.Err)
	}
	var ae *observer.AssertionError
	if !errors.As(res.Err, &ae) {
		t.Error("StepError does not wrap the assertion")
	}
	if sim := res.Steps[3].Similarity; sim == nil || *sim <= 0 || *sim >= 1 {
		t.Errorf("Similarity = %v, want a partial match", sim)
	}
	if got := res.Steps[4].Status; got != scenario.StatusSkipped {
		t.Errorf("step after failure = %s, want skipped", got)
	}
	if len(res.Artifacts) != 1 || !strings.HasPrefix(res.Artifacts[0], dir) || !strings.HasSuffix(res.Artifacts[0], ".html") {
		t.Fatalf("Artifacts = %v", res.Artifacts)
	}
	if _, err := os.Stat(res.Artifacts[0]); err != nil {
		t.Error(err)
	}
}

func TestAwaitTimeoutNamesOtherHandles(t *testing.T) {
	t.Parallel()

	exec, _ := newExecutor(t, nil)
	steps := append(connectSteps(),
		scenario.Click(browser.ByTestID(ontora.TestIDNavDeployAgent)),
		scenario.Type(browser.BySelector(`input[name="agentName"]`), "Agent"),
		scenario.Click(browser.ByTestID(ontora.TestIDDeployAgent)),
		scenario.Wait(ontora.AliasCreateProposal),
	)
	res := exec.Run(context.Background(), scenario.Scenario{
		Name:       "wrong handle",
		Intercepts: ontora.DefaultIntercepts(),
		Steps:      steps,
	})
	if res.FailureKind != scenario.FailureTimeout {
		t.Fatalf("kind = %s, err = %s", res.FailureKind, res.Error)
	}
	var wt *intercept.WaitTimeoutError
	if !errors.As(res.Err, &wt) {
		t.Errorf("Err = %v, want WaitTimeoutError", res.Err)
	}
	if !strings.Contains(res.Error, "@deployAgent") {
		t.Errorf("error %q does not name the handle that fired", res.Error)
	}
}

func TestAwaitRepeatedFireIsHarnessError(t *testing.T) {
	t.Parallel()

	exec, _ := newExecutor(t, nil)
	steps := append(connectSteps(),
		scenario.Click(browser.ByTestID(ontora.TestIDNavDeployAgent)),
		scenario.Type(browser.BySelector(`input[name="agentName"]`), "Agent"),
		scenario.Click(browser.ByTestID(ontora.TestIDDeployAgent)),
		scenario.Assert(observer.Count(ontora.SelectorAgentItem, 1)),
		scenario.Type(browser.BySelector(`input[name="agentName"]`), "Agent2"),
		scenario.Click(browser.ByTestID(ontora.TestIDDeployAgent)),
		scenario.Assert(observer.Count(ontora.SelectorAgentItem, 2)),
		scenario.Wait(ontora.AliasDeployAgent),
	)
	res := exec.Run(context.Background(), scenario.Scenario{Name: "double", Intercepts: ontora.DefaultIntercepts(), Steps: steps})
	if res.FailureKind != scenario.FailureHarness || !errors.Is(res.Err, scenario.ErrRepeatedFire) {
		t.Fatalf("kind = %s, err = %v", res.FailureKind, res.Err)
	}
}

func TestDelayedResponseDoesNotOutliveStepTimeout(t *testing.T) {
	t.Parallel()

	intercepts := ontora.DefaultIntercepts()
	for i := range intercepts {
		if intercepts[i].Alias == ontora.AliasDeployAgent {
			intercepts[i].Delay = 5 * time.Second
		}
	}
	exec, _ := newExecutor(t, nil)
	steps := append(connectSteps(),
		scenario.Click(browser.ByTestID(ontora.TestIDNavDeployAgent)),
		scenario.Type(browser.BySelector(`input[name="agentName"]`), "Agent"),
		scenario.Click(browser.ByTestID(ontora.TestIDDeployAgent)),
		scenario.Wait(ontora.AliasDeployAgent),
	)

	start := time.Now()
	res := exec.Run(context.Background(), scenario.Scenario{Name: "slow backend", Intercepts: intercepts, Steps: steps})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run took %v; the delayed response held the scenario open", elapsed)
	}
	if res.FailureKind != scenario.FailureTimeout {
		t.Errorf("kind = %s, err = %s", res.FailureKind, res.Error)
	}
}

func TestAwaitExpectationMismatchIsAssertion(t *testing.T) {
	t.Parallel()

	exec, _ := newExecutor(t, nil)
	steps := append(connectSteps(),
		scenario.Click(browser.ByTestID(ontora.TestIDNavDeployAgent)),
		scenario.Type(browser.BySelector(`input[name="agentName"]`), "Agent"),
		scenario.Click(browser.ByTestID(ontora.TestIDDeployAgent)),
		scenario.WaitFor(ontora.AliasDeployAgent, http.StatusOK, map[string]string{"agentId": "agent999"}),
	)
	res := exec.Run(context.Background(), scenario.Scenario{Name: "mismatch", Intercepts: ontora.DefaultIntercepts(), Steps: steps})
	var ee *scenario.ExpectationError
	if res.FailureKind != scenario.FailureAssertion || !errors.As(res.Err, &ee) {
		t.Fatalf("kind = %s, err = %v", res.FailureKind, res.Err)
	}
	if ee.Got != ontora.MockAgentID {
		t.Errorf("Got = %q", ee.Got)
	}
}

func TestMissingTargetIsHarnessTimeout(t *testing.T) {
	t.Parallel()

	exec, _ := newExecutor(t, nil)
	res := exec.Run(context.Background(), scenario.Scenario{
		Name:  "ghost button",
		Steps: []scenario.Step{scenario.Visit("/"), scenario.Click(browser.ByTestID("ghost"))},
	})
	if res.FailureKind != scenario.FailureTimeout {
		t.Fatalf("kind = %s, err = %s", res.FailureKind, res.Error)
	}
	if !errors.Is(res.Err, browser.ErrNotFound) {
		t.Errorf("Err = %v, want ErrNotFound in chain", res.Err)
	}
}

func TestFailureTextIsRedacted(t *testing.T) {
	t.Parallel()

	const phrase = "correct horse battery staple"
	r, err := redaction.New(redaction.Config{
		Mode:    redaction.ModeRedact,
		Secrets: map[redaction.Category][]string{redaction.CategorySeedPhrase: {phrase}},
	})
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	var details []string
	exec := scenario.NewExecutor(dappsim.NewDriver(ontora.DefaultFixtures()), scenario.Options{
		BaseURL:       "http://localhost:3000",
		StepTimeout:   100 * time.Millisecond,
		RetryInterval: 5 * time.Millisecond,
		Redactor:      r,
		OnEvent: func(ev scenario.Event) {
			mu.Lock()
			defer mu.Unlock()
			details = append(details, ev.Detail)
		},
	})
	res := exec.Run(context.Background(), scenario.Scenario{
		Name:  "leaky",
		Steps: []scenario.Step{scenario.Visit("/"), scenario.Assert(observer.Contains("h1", phrase))},
	})
	if res.Passed() {
		t.Fatal("expected failure")
	}
	if strings.Contains(res.Error, phrase) || !strings.Contains(res.Error, "[REDACTED:SEED_PHRASE:") {
		t.Errorf("Error = %q", res.Error)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, d := range details {
		if strings.Contains(d, phrase) {
			t.Errorf("event detail leaks the phrase: %q", d)
		}
	}
}

func TestInvalidScenarioIsHarnessError(t *testing.T) {
	t.Parallel()

	exec, _ := newExecutor(t, nil)
	res := exec.Run(context.Background(), scenario.Scenario{Name: "bad", Steps: []scenario.Step{scenario.Wait("ghost")}})
	if res.FailureKind != scenario.FailureHarness || !errors.Is(res.Err, scenario.ErrInvalidScenario) {
		t.Fatalf("kind = %s, err = %v", res.FailureKind, res.Err)
	}
	if len(res.Steps) != 0 {
		t.Errorf("Steps = %+v, want none run", res.Steps)
	}
}

func TestRunnerIsolatesScenarios(t *testing.T) {
	t.Parallel()

	exec, _ := newExecutor(t, nil)
	failing := scenario.Scenario{
		Name:  "reject",
		Steps: append([]scenario.Step{scenario.Wallet(scenario.WalletSpec{Method: "connect", Reject: "no"})}, connectSteps()...),
	}
	passing := scenario.Scenario{Name: "ok", Steps: connectSteps()}
	runner := &scenario.Runner{Executor: exec, Parallel: 2}
	results := runner.RunAll(context.Background(), []scenario.Scenario{failing, passing, passing})

	if results[0].Passed() {
		t.Error("rejecting scenario passed")
	}
	for _, r := range results[1:] {
		if !r.Passed() {
			t.Errorf("%s failed: %s", r.Name, r.Error)
		}
	}
}

func TestRunnerSkipsAfterCancel(t *testing.T) {
	t.Parallel()

	exec, _ := newExecutor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := (&scenario.Runner{Executor: exec}).RunAll(ctx, []scenario.Scenario{{Name: "a", Steps: connectSteps()}})
	if results[0].Status != scenario.StatusSkipped {
		t.Errorf("Status = %s, want skipped", results[0].Status)
	}
}
