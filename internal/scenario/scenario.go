// Package scenario models end-to-end scenarios and runs them against a
// browser driver.
package scenario

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Dicklesworthstone/dappcheck/internal/browser"
	"github.com/Dicklesworthstone/dappcheck/internal/intercept"
	"github.com/Dicklesworthstone/dappcheck/internal/observer"
	"github.com/Dicklesworthstone/dappcheck/internal/wallet"
)

// ErrInvalidScenario wraps every validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is an independent, ordered list of steps plus the setup they
// need. Intercepts and wallet outcomes are installed before the first step.
type Scenario struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string        `json:"tags,omitempty" yaml:"tags,omitempty"`
	Intercepts  []InterceptSpec `json:"intercepts,omitempty" yaml:"intercepts,omitempty"`
	Wallet      []WalletSpec    `json:"wallet,omitempty" yaml:"wallet,omitempty"`
	Steps       []Step          `json:"steps" yaml:"steps"`
}

// HasTag reports whether the scenario carries tag.
func (s Scenario) HasTag(tag string) bool {
	return slices.Contains(s.Tags, tag)
}

// Validate reports every problem in the scenario at once.
func (s Scenario) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if len(s.Steps) == 0 {
		errs = append(errs, errors.New("at least one step is required"))
	}
	aliases := map[string]bool{}
	for i, ic := range s.Intercepts {
		if err := ic.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("intercept %d: %w", i, err))
		}
		aliases[ic.Alias] = true
	}
	for i, w := range s.Wallet {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("wallet %d: %w", i, err))
		}
	}
	for i, st := range s.Steps {
		if err := st.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d: %w", i, err))
			continue
		}
		switch st.Kind() {
		case KindIntercept:
			aliases[st.Intercept.Alias] = true
		case KindAwait:
			if !aliases[st.Await.Alias] {
				errs = append(errs, fmt.Errorf("step %d: await on @%s before it is registered", i, st.Await.Alias))
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w %q: %w", ErrInvalidScenario, s.Name, errors.Join(errs...))
}

// InterceptSpec declares a network rule and the alias of its handle.
type InterceptSpec struct {
	Alias   string            `json:"alias" yaml:"alias"`
	Method  string            `json:"method" yaml:"method"`
	Path    string            `json:"path" yaml:"path"`
	Status  int               `json:"status,omitempty" yaml:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    any               `json:"body,omitempty" yaml:"body,omitempty"`
	Delay   time.Duration     `json:"delay,omitempty" yaml:"delay,omitempty"`
}

func (ic InterceptSpec) Validate() error {
	if ic.Alias == "" {
		return errors.New("alias is required")
	}
	if ic.Path == "" || !strings.HasPrefix(ic.Path, "/") {
		return fmt.Errorf("@%s: path must start with /", ic.Alias)
	}
	if ic.Status != 0 && (ic.Status < 100 || ic.Status > 599) {
		return fmt.Errorf("@%s: status %d out of range", ic.Alias, ic.Status)
	}
	return nil
}

// Response converts the spec into the layer's response type.
func (ic InterceptSpec) Response() intercept.Response {
	r := intercept.Response{StatusCode: ic.Status, Body: ic.Body, Delay: ic.Delay}
	if len(ic.Headers) > 0 {
		r.Headers = make(map[string]string, len(ic.Headers))
		for k, v := range ic.Headers {
			r.Headers[k] = v
		}
	}
	return r
}

// Register installs the rule on layer.
func (ic InterceptSpec) Register(layer *intercept.Layer) *intercept.Handle {
	method := ic.Method
	if method == "" {
		method = http.MethodGet
	}
	return layer.Register(ic.Alias, method, ic.Path, ic.Response())
}

// WalletSpec scripts how a wallet method settles.
type WalletSpec struct {
	Method string        `json:"method" yaml:"method"`
	Reject string        `json:"reject,omitempty" yaml:"reject,omitempty"`
	Delay  time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
}

func (w WalletSpec) Validate() error {
	_, err := wallet.ParseMethod(w.Method)
	return err
}

// Outcome converts the spec into a wallet outcome.
func (w WalletSpec) Outcome() wallet.Outcome {
	out := wallet.Resolve()
	if w.Reject != "" {
		out = wallet.RejectWith(w.Reject)
	}
	out.Delay = w.Delay
	return out
}

// Apply reconfigures p.
func (w WalletSpec) Apply(p *wallet.Provider) error {
	m, err := wallet.ParseMethod(w.Method)
	if err != nil {
		return err
	}
	p.On(m, w.Outcome())
	return nil
}

// ActionKind is a user interaction.
type ActionKind string

const (
	ActionClick  ActionKind = "click"
	ActionType   ActionKind = "type"
	ActionSelect ActionKind = "select"
	ActionCheck  ActionKind = "check"
)

type Action struct {
	Kind   ActionKind     `json:"kind" yaml:"kind"`
	Target browser.Target `json:"target" yaml:"target"`
	Value  string         `json:"value,omitempty" yaml:"value,omitempty"`
}

func (a Action) Validate() error {
	switch a.Kind {
	case ActionClick, ActionCheck:
	case ActionType, ActionSelect:
		if a.Value == "" {
			return fmt.Errorf("%s needs a value", a.Kind)
		}
	default:
		return fmt.Errorf("unknown action %q", a.Kind)
	}
	return a.Target.Validate()
}

// Await waits for the next exchange on a handle and optionally checks it.
type Await struct {
	Alias  string `json:"alias" yaml:"alias"`
	Status int    `json:"status,omitempty" yaml:"status,omitempty"`
	// Expect maps response body paths (gjson syntax) to expected values.
	Expect map[string]string `json:"expect,omitempty" yaml:"expect,omitempty"`
	// Request maps request body paths to expected values.
	Request map[string]string `json:"request,omitempty" yaml:"request,omitempty"`
}

// StepKind names the single thing a step does.
type StepKind string

const (
	KindNavigate  StepKind = "navigate"
	KindAction    StepKind = "action"
	KindIntercept StepKind = "intercept"
	KindWallet    StepKind = "wallet"
	KindAwait     StepKind = "await"
	KindAssert    StepKind = "assert"
)

// Step does exactly one of its fields.
type Step struct {
	Name      string              `json:"name,omitempty" yaml:"name,omitempty"`
	Navigate  string              `json:"navigate,omitempty" yaml:"navigate,omitempty"`
	Action    *Action             `json:"action,omitempty" yaml:"action,omitempty"`
	Intercept *InterceptSpec      `json:"intercept,omitempty" yaml:"intercept,omitempty"`
	Wallet    *WalletSpec         `json:"wallet,omitempty" yaml:"wallet,omitempty"`
	Await     *Await              `json:"await,omitempty" yaml:"await,omitempty"`
	Assert    *observer.Condition `json:"assert,omitempty" yaml:"assert,omitempty"`
}

func (s Step) kinds() []StepKind {
	var ks []StepKind
	if s.Navigate != "" {
		ks = append(ks, KindNavigate)
	}
	if s.Action != nil {
		ks = append(ks, KindAction)
	}
	if s.Intercept != nil {
		ks = append(ks, KindIntercept)
	}
	if s.Wallet != nil {
		ks = append(ks, KindWallet)
	}
	if s.Await != nil {
		ks = append(ks, KindAwait)
	}
	if s.Assert != nil {
		ks = append(ks, KindAssert)
	}
	return ks
}

// Kind returns the step kind, or "" when the step is malformed.
func (s Step) Kind() StepKind {
	ks := s.kinds()
	if len(ks) != 1 {
		return ""
	}
	return ks[0]
}

func (s Step) Validate() error {
	ks := s.kinds()
	switch len(ks) {
	case 0:
		return errors.New("step does nothing")
	case 1:
	default:
		return fmt.Errorf("step mixes %v", ks)
	}
	switch ks[0] {
	case KindAction:
		return s.Action.Validate()
	case KindIntercept:
		return s.Intercept.Validate()
	case KindWallet:
		return s.Wallet.Validate()
	case KindAwait:
		if s.Await.Alias == "" {
			return errors.New("await needs an alias")
		}
	case KindAssert:
		return s.Assert.Validate()
	}
	return nil
}

// Describe renders the step for logs and reports.
func (s Step) Describe() string {
	if s.Name != "" {
		return s.Name
	}
	switch s.Kind() {
	case KindNavigate:
		return "visit " + s.Navigate
	case KindAction:
		if s.Action.Value != "" {
			return fmt.Sprintf("%s %q into %s", s.Action.Kind, s.Action.Value, s.Action.Target)
		}
		return fmt.Sprintf("%s %s", s.Action.Kind, s.Action.Target)
	case KindIntercept:
		return fmt.Sprintf("intercept %s %s as @%s", s.Intercept.Method, s.Intercept.Path, s.Intercept.Alias)
	case KindWallet:
		if s.Wallet.Reject != "" {
			return fmt.Sprintf("wallet %s rejects %q", s.Wallet.Method, s.Wallet.Reject)
		}
		return fmt.Sprintf("wallet %s resolves", s.Wallet.Method)
	case KindAwait:
		return "wait for @" + s.Await.Alias
	case KindAssert:
		return "assert " + s.Assert.String()
	}
	return "invalid step"
}

// Named returns a copy of s with a display name.
func (s Step) Named(name string) Step {
	s.Name = name
	return s
}

// Step constructors used by Go-authored catalogues.

func Visit(path string) Step { return Step{Navigate: path} }

func Click(t browser.Target) Step {
	return Step{Action: &Action{Kind: ActionClick, Target: t}}
}

func Type(t browser.Target, text string) Step {
	return Step{Action: &Action{Kind: ActionType, Target: t, Value: text}}
}

func Select(t browser.Target, value string) Step {
	return Step{Action: &Action{Kind: ActionSelect, Target: t, Value: value}}
}

func Check(t browser.Target) Step {
	return Step{Action: &Action{Kind: ActionCheck, Target: t}}
}

func Intercept(ic InterceptSpec) Step { return Step{Intercept: &ic} }

func Wallet(w WalletSpec) Step { return Step{Wallet: &w} }

func Wait(alias string) Step { return Step{Await: &Await{Alias: alias}} }

// WaitFor waits on alias and checks the status and response fields.
func WaitFor(alias string, status int, expect map[string]string) Step {
	return Step{Await: &Await{Alias: alias, Status: status, Expect: expect}}
}

func Assert(c observer.Condition) Step { return Step{Assert: &c} }
