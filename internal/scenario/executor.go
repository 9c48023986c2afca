package scenario

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/dappcheck/internal/browser"
	"github.com/Dicklesworthstone/dappcheck/internal/intercept"
	"github.com/Dicklesworthstone/dappcheck/internal/logging"
	"github.com/Dicklesworthstone/dappcheck/internal/observer"
	"github.com/Dicklesworthstone/dappcheck/internal/redaction"
	"github.com/Dicklesworthstone/dappcheck/internal/wallet"
)

const (
	DefaultStepTimeout   = 10 * time.Second
	DefaultRetryInterval = 100 * time.Millisecond
	artifactTimeout      = 5 * time.Second
)

// EventType labels an executor event.
type EventType string

const (
	EventScenarioStart EventType = "scenario_start"
	EventStepPassed    EventType = "step_passed"
	EventStepFailed    EventType = "step_failed"
	EventExchange      EventType = "exchange"
	EventScenarioEnd   EventType = "scenario_end"
)

// Event is emitted while scenarios run.
type Event struct {
	Time     time.Time `json:"time"`
	Type     EventType `json:"type"`
	Scenario string    `json:"scenario"`
	Step     int       `json:"step,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Status   Status    `json:"status,omitempty"`
	Kind     string    `json:"kind,omitempty"`
}

// Options configures an Executor.
type Options struct {
	BaseURL       string
	StepTimeout   time.Duration
	RetryInterval time.Duration
	Selectors     observer.Selectors
	Wallet        wallet.Options
	// ArtifactDir receives screenshots and HTML of failing scenarios.
	ArtifactDir string
	Logger      *log.Logger
	// OnEvent is called synchronously from the scenario's goroutine.
	OnEvent func(Event)
	// Redactor scrubs error text and HTML artifacts. Nil disables it.
	Redactor *redaction.Redactor
}

// Env is everything one scenario run owns.
type Env struct {
	Wallet   *wallet.Provider
	Network  *intercept.Layer
	Page     browser.Page
	Observer *observer.Observer

	close func()
	once  sync.Once
}

// Close discards the page. It is safe to call more than once.
func (e *Env) Close() {
	e.once.Do(func() {
		if e.close != nil {
			e.close()
		}
	})
}

// Executor runs scenarios one at a time on fresh pages.
type Executor struct {
	driver browser.Driver
	opts   Options
}

func NewExecutor(driver browser.Driver, opts Options) *Executor {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Executor{driver: driver, opts: opts}
}

// Driver returns the driver pages are opened with.
func (e *Executor) Driver() browser.Driver { return e.driver }

// NewEnv builds the wallet and network layer of sc and opens a page bound
// to them.
func (e *Executor) NewEnv(ctx context.Context, sc Scenario) (*Env, error) {
	w := wallet.New(e.opts.Wallet)
	for _, spec := range sc.Wallet {
		if err := spec.Apply(w); err != nil {
			return nil, err
		}
	}
	layer := intercept.New()
	for _, ic := range sc.Intercepts {
		ic.Register(layer)
	}
	page, closePage, err := e.driver.Open(ctx, browser.Bootstrap{
		BaseURL: e.opts.BaseURL,
		Wallet:  w,
		Network: layer,
		Logger:  e.opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s page: %w", e.driver.Name(), err)
	}
	return &Env{
		Wallet:  w,
		Network: layer,
		Page:    page,
		Observer: observer.New(page, observer.Options{
			Timeout:   e.opts.StepTimeout,
			Selectors: e.opts.Selectors,
			Logger:    e.opts.Logger,
		}),
		close: closePage,
	}, nil
}

func (e *Executor) emit(ev Event) {
	if e.opts.OnEvent == nil {
		return
	}
	ev.Time = time.Now()
	e.opts.OnEvent(ev)
}

// Run executes sc. The first failing step ends the scenario and every
// remaining step is reported as skipped.
func (e *Executor) Run(ctx context.Context, sc Scenario) ScenarioResult {
	logger := e.opts.Logger.With("scenario", sc.Name)
	res := ScenarioResult{
		Name:        sc.Name,
		Description: sc.Description,
		Tags:        sc.Tags,
		Driver:      e.driver.Name(),
		StartedAt:   time.Now(),
	}
	e.emit(Event{Type: EventScenarioStart, Scenario: sc.Name})
	defer func() {
		res.Duration = time.Since(res.StartedAt)
		e.emit(Event{Type: EventScenarioEnd, Scenario: sc.Name, Status: res.Status, Kind: string(res.FailureKind)})
		logger.Info("scenario finished", "status", res.Status, "duration", res.Duration.Round(time.Millisecond))
	}()

	fail := func(err *StepError) {
		res.Status = StatusFailed
		res.FailureKind = err.Kind
		res.Err = err
		res.Error = e.scrub(err.Error())
	}

	if err := sc.Validate(); err != nil {
		fail(&StepError{Scenario: sc.Name, Index: -1, Kind: FailureHarness, Err: err})
		return res
	}

	env, err := e.NewEnv(ctx, sc)
	if err != nil {
		fail(&StepError{Scenario: sc.Name, Index: -1, Kind: FailureHarness, Err: err})
		return res
	}
	defer env.Close()

	var mu sync.Mutex
	env.Network.OnExchange(func(ex intercept.Exchange) {
		mu.Lock()
		res.Exchanges = append(res.Exchanges, summarize(ex))
		mu.Unlock()
		logger.Debug("exchange", "alias", ex.Alias, "method", ex.Request.Method, "path", ex.Request.Path, "status", ex.Response.StatusCode)
		e.emit(Event{Type: EventExchange, Scenario: sc.Name, Detail: fmt.Sprintf("@%s %s %s -> %d", ex.Alias, ex.Request.Method, ex.Request.Path, ex.Response.StatusCode)})
	})

	res.Status = StatusPassed
	for i, step := range sc.Steps {
		sr := StepResult{Index: i, Name: e.scrub(step.Describe()), Kind: step.Kind()}
		if res.Status == StatusFailed {
			sr.Status = StatusSkipped
			res.Steps = append(res.Steps, sr)
			continue
		}

		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, e.opts.StepTimeout)
		err := e.runStep(stepCtx, env, step)
		cancel()
		sr.Duration = time.Since(start)

		if err == nil {
			sr.Status = StatusPassed
			res.Steps = append(res.Steps, sr)
			logger.Debug("step passed", "index", i, "step", sr.Name)
			e.emit(Event{Type: EventStepPassed, Scenario: sc.Name, Step: i, Detail: sr.Name, Status: StatusPassed})
			continue
		}

		se := &StepError{Scenario: sc.Name, Index: i, Step: sr.Name, Kind: Classify(err), Err: err}
		sr.Status = StatusFailed
		sr.Error = e.scrub(err.Error())
		sr.FailureKind = se.Kind
		var ae *observer.AssertionError
		if errors.As(err, &ae) {
			sim := ae.Similarity
			sr.Similarity = &sim
		}
		res.Steps = append(res.Steps, sr)
		fail(se)
		logger.Error("step failed", "index", i, "step", sr.Name, "kind", se.Kind, "err", sr.Error)
		e.emit(Event{Type: EventStepFailed, Scenario: sc.Name, Step: i, Detail: sr.Error, Status: StatusFailed, Kind: string(se.Kind)})
		res.Artifacts = e.captureArtifacts(ctx, env.Page, sc.Name, i)
	}

	// Closing waits for in-flight page work, so no exchange lands after this.
	env.Close()
	res.Wallet = env.Wallet.Transitions()
	for _, r := range env.Network.Unmatched() {
		res.Unmatched = append(res.Unmatched, r.Method+" "+r.Path)
	}
	return res
}

func (e *Executor) runStep(ctx context.Context, env *Env, step Step) error {
	switch step.Kind() {
	case KindNavigate:
		return env.Page.Navigate(ctx, e.resolve(step.Navigate))
	case KindAction:
		return e.act(ctx, env.Page, *step.Action)
	case KindIntercept:
		step.Intercept.Register(env.Network)
		return nil
	case KindWallet:
		return step.Wallet.Apply(env.Wallet)
	case KindAwait:
		return e.await(ctx, env.Network, *step.Await)
	case KindAssert:
		return env.Observer.Expect(ctx, *step.Assert)
	}
	return fmt.Errorf("%w: %v", ErrInvalidScenario, step.Validate())
}

func (e *Executor) resolve(target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimRight(e.opts.BaseURL, "/") + target
	}
	return target
}

// act performs a, retrying while the target is not rendered yet.
func (e *Executor) act(ctx context.Context, page browser.Page, a Action) error {
	do := func() error {
		switch a.Kind {
		case ActionClick:
			return page.Click(ctx, a.Target)
		case ActionType:
			return page.Type(ctx, a.Target, a.Value)
		case ActionSelect:
			return page.Select(ctx, a.Target, a.Value)
		case ActionCheck:
			return page.Check(ctx, a.Target)
		}
		return fmt.Errorf("unknown action %q", a.Kind)
	}
	ticker := time.NewTicker(e.opts.RetryInterval)
	defer ticker.Stop()
	for {
		err := do()
		if err == nil || !errors.Is(err, browser.ErrNotFound) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s never became actionable: %w", a.Target, errors.Join(err, ctx.Err()))
		case <-ticker.C:
		}
	}
}

func (e *Executor) await(ctx context.Context, layer *intercept.Layer, a Await) error {
	h, err := layer.Handle(a.Alias)
	if err != nil {
		return err
	}
	ex, remaining, err := h.Take(ctx)
	if err != nil {
		var wt *intercept.WaitTimeoutError
		if errors.As(err, &wt) {
			if others := unconsumed(layer, a.Alias); len(others) > 0 {
				return fmt.Errorf("%w; fired without a wait: %s", err, strings.Join(others, ", "))
			}
		}
		return err
	}
	if remaining > 0 {
		return fmt.Errorf("@%s: %w (%d pending)", a.Alias, ErrRepeatedFire, remaining+1)
	}
	if a.Status != 0 && ex.Response.StatusCode != a.Status {
		return &ExpectationError{Alias: a.Alias, Field: "status", Want: fmt.Sprint(a.Status), Got: fmt.Sprint(ex.Response.StatusCode)}
	}
	for _, path := range sortedKeys(a.Expect) {
		if got := ex.Field(path).String(); got != a.Expect[path] {
			return &ExpectationError{Alias: a.Alias, Field: "response." + path, Want: a.Expect[path], Got: got}
		}
	}
	for _, path := range sortedKeys(a.Request) {
		if got := ex.RequestField(path).String(); got != a.Request[path] {
			return &ExpectationError{Alias: a.Alias, Field: "request." + path, Want: a.Request[path], Got: got}
		}
	}
	return nil
}

// unconsumed lists the handles, other than skip, that fired without being
// awaited. A wait that times out while these exist usually names the wrong
// handle.
func unconsumed(layer *intercept.Layer, skip string) []string {
	var out []string
	for alias, h := range layer.Handles() {
		if alias == skip {
			continue
		}
		if n := h.Pending(); n > 0 {
			out = append(out, fmt.Sprintf("@%s (%d)", alias, n))
		}
	}
	slices.Sort(out)
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (e *Executor) scrub(s string) string { return e.opts.Redactor.String(s) }

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func slug(s string) string {
	return strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// captureArtifacts saves what the page can show about a failure. Capture
// problems are logged, never reported as the scenario's failure.
func (e *Executor) captureArtifacts(ctx context.Context, page browser.Page, scenario string, index int) []string {
	art, ok := page.(browser.Artifacts)
	if !ok || e.opts.ArtifactDir == "" {
		return nil
	}
	if err := os.MkdirAll(e.opts.ArtifactDir, 0o755); err != nil {
		e.opts.Logger.Warn("creating artifact dir", "err", err)
		return nil
	}
	// The step context has expired by now.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), artifactTimeout)
	defer cancel()

	base := filepath.Join(e.opts.ArtifactDir, fmt.Sprintf("%s-step%02d", slug(scenario), index+1))
	var paths []string
	if png, err := art.Screenshot(ctx); err != nil {
		e.opts.Logger.Warn("capturing screenshot", "scenario", scenario, "err", err)
	} else if len(png) > 0 {
		if err := os.WriteFile(base+".png", png, 0o644); err == nil {
			paths = append(paths, base+".png")
		}
	}
	if doc, err := art.HTML(ctx); err != nil {
		e.opts.Logger.Warn("capturing html", "scenario", scenario, "err", err)
	} else if doc != "" {
		doc, findings := e.opts.Redactor.Apply(doc)
		if len(findings) > 0 {
			e.opts.Logger.Warn("secrets in page html", "scenario", scenario,
				"mode", e.opts.Redactor.Mode(), "found", redaction.Categories(findings))
		}
		if err := os.WriteFile(base+".html", []byte(doc), 0o644); err == nil {
			paths = append(paths, base+".html")
		}
	}
	return paths
}
