// Package browser abstracts the page a scenario drives. The Chrome driver
// automates a real browser through chromedp; other drivers (the simulated
// DApp in dappsim) satisfy the same interfaces.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/dappcheck/internal/intercept"
	"github.com/Dicklesworthstone/dappcheck/internal/wallet"
)

// ErrNotFound is wrapped by NotFoundError.
var ErrNotFound = errors.New("element not found")

// NotFoundError reports a target that resolved to no element. Executors
// retry actions that fail with it until their step deadline.
type NotFoundError struct {
	Target Target
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%v: %s", ErrNotFound, e.Target)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Element is a snapshot of one rendered node.
type Element struct {
	Tag     string            `json:"tag"`
	Text    string            `json:"text"`
	Visible bool              `json:"visible"`
	Classes []string          `json:"classes,omitempty"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// HasClass reports whether the element carries class c.
func (e Element) HasClass(c string) bool {
	for _, cls := range e.Classes {
		if cls == c {
			return true
		}
	}
	return false
}

// Page is a single isolated browsing context.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, t Target) error
	Type(ctx context.Context, t Target, text string) error
	Select(ctx context.Context, t Target, value string) error
	Check(ctx context.Context, t Target) error
	Query(ctx context.Context, selector string) ([]Element, error)
	URL(ctx context.Context) (string, error)
}

// Artifacts is implemented by pages that can capture debugging output.
type Artifacts interface {
	Screenshot(ctx context.Context) ([]byte, error)
	HTML(ctx context.Context) (string, error)
}

// Bootstrap is everything a driver injects into a new page. The wallet and
// the interception layer are owned by the scenario and passed in here, so
// the page never shares them with another scenario.
type Bootstrap struct {
	BaseURL string
	Wallet  *wallet.Provider
	Network *intercept.Layer
	Logger  *log.Logger
}

// Driver opens fresh pages.
type Driver interface {
	Name() string
	// Open returns a page and the function that discards it.
	Open(ctx context.Context, boot Bootstrap) (Page, func(), error)
}

// Target locates an element. TestID is preferred; Selector and Text remain
// for markup that has no test ids.
type Target struct {
	TestID   string  `json:"testid,omitempty" yaml:"testid,omitempty"`
	Selector string  `json:"selector,omitempty" yaml:"selector,omitempty"`
	Text     string  `json:"text,omitempty" yaml:"text,omitempty"`
	Index    int     `json:"index,omitempty" yaml:"index,omitempty"`
	Within   *Target `json:"within,omitempty" yaml:"within,omitempty"`
}

// ByTestID targets [data-testid="id"].
func ByTestID(id string) Target { return Target{TestID: id} }

// BySelector targets a CSS selector.
func BySelector(sel string) Target { return Target{Selector: sel} }

// Containing narrows the target to elements whose text contains s.
func (t Target) Containing(s string) Target {
	t.Text = s
	return t
}

// Nth picks the i-th match (zero based).
func (t Target) Nth(i int) Target {
	t.Index = i
	return t
}

// In scopes the target to the subtree of parent.
func (t Target) In(parent Target) Target {
	t.Within = &parent
	return t
}

// CSS is the selector the target resolves through.
func (t Target) CSS() string {
	if t.TestID != "" {
		return TestIDSelector(t.TestID)
	}
	return t.Selector
}

// TestIDSelector renders the attribute selector for a test id.
func TestIDSelector(id string) string {
	return fmt.Sprintf("[data-testid=%q]", id)
}

// Validate checks that the target can be resolved.
func (t Target) Validate() error {
	if t.TestID == "" && t.Selector == "" {
		return errors.New("target needs a testid or selector")
	}
	if t.Index < 0 {
		return fmt.Errorf("target index %d is negative", t.Index)
	}
	if t.Within != nil {
		return t.Within.Validate()
	}
	return nil
}

func (t Target) String() string {
	var b strings.Builder
	b.WriteString(t.CSS())
	if t.Text != "" {
		fmt.Fprintf(&b, " containing %q", t.Text)
	}
	if t.Index > 0 {
		fmt.Fprintf(&b, " #%d", t.Index)
	}
	if t.Within != nil {
		fmt.Fprintf(&b, " within (%s)", t.Within)
	}
	return b.String()
}
