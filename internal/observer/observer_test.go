package observer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/dappcheck/internal/browser"
)

// fakePage serves canned query results keyed by selector.
type fakePage struct {
	mu       sync.Mutex
	elements map[string][]browser.Element
	url      string
	queryErr error
}

func (f *fakePage) set(sel string, els ...browser.Element) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elements[sel] = els
}

func (f *fakePage) Navigate(context.Context, string) error               { return nil }
func (f *fakePage) Click(context.Context, browser.Target) error          { return nil }
func (f *fakePage) Type(context.Context, browser.Target, string) error   { return nil }
func (f *fakePage) Select(context.Context, browser.Target, string) error { return nil }
func (f *fakePage) Check(context.Context, browser.Target) error          { return nil }
func (f *fakePage) URL(context.Context) (string, error)                  { return f.url, nil }
func (f *fakePage) Query(_ context.Context, sel string) ([]browser.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.elements[sel], nil
}

func newFake() *fakePage {
	return &fakePage{elements: map[string][]browser.Element{}, url: "http://localhost:3000/"}
}

func el(text string, classes ...string) browser.Element {
	return browser.Element{Tag: "div", Text: text, Visible: true, Classes: classes}
}

func quick(p browser.Page) *Observer {
	return New(p, Options{Timeout: 150 * time.Millisecond, Interval: 10 * time.Millisecond})
}

func TestCheckConditions(t *testing.T) {
	t.Parallel()

	page := newFake()
	page.url = "http://localhost:3000/agent-dashboard"
	page.set(".proposal-item", el("Newest proposal"), el("Voted: Yes"))
	page.set(".wallet-status", browser.Element{Tag: "span", Text: "Connected", Visible: false})
	page.set(browser.TestIDSelector("logout"), el("Logout"))

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"contains", Contains(".proposal-item", "Newest"), true},
		{"contains missing", Contains(".proposal-item", "Nope"), false},
		{"contains at index", ContainsAt(".proposal-item", 1, "Voted: Yes"), true},
		{"contains at wrong index", ContainsAt(".proposal-item", 0, "Voted: Yes"), false},
		{"index out of range", ContainsAt(".proposal-item", 5, "Voted"), false},
		{"not contains", NotContains(".proposal-item", "Failed"), true},
		{"exists", Exists(".proposal-item"), true},
		{"not exists", NotExists(".agent-item"), true},
		{"count", Count(".proposal-item", 2), true},
		{"count mismatch", Count(".proposal-item", 3), false},
		{"hidden is not visible", Visible(".wallet-status", "Connected"), false},
		{"visible by testid", VisibleTestID("logout", "Logout"), true},
		{"url includes", URLIncludes("/agent-dashboard"), true},
		{"url equals", URLEquals("http://localhost:3000/"), false},
		{"url equals full", URLEquals("http://localhost:3000/agent-dashboard"), true},
		{"url equals path", URLEquals("/agent-dashboard"), true},
		{"url equals other path", URLEquals("/"), false},
	}
	obs := quick(page)
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, observed, err := obs.Check(context.Background(), tt.cond)
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Check(%s) = %v (observed %q), want %v", tt.cond, got, observed, tt.want)
			}
		})
	}
}

func TestNotificationChannelsAreDistinct(t *testing.T) {
	t.Parallel()

	page := newFake()
	failure := el("Failed to create proposal", "notification", "notification-error")
	page.set(".notification", failure)
	page.set(".notification-error", failure)
	obs := quick(page)
	ctx := context.Background()

	if ok, _, _ := obs.Check(ctx, Failure("Failed to create proposal")); !ok {
		t.Error("error notification not observed on the error channel")
	}
	ok, observed, _ := obs.Check(ctx, Success("Failed to create proposal"))
	if ok {
		t.Error("error notification leaked into the success channel")
	}
	if !strings.Contains(observed, "other channel") {
		t.Errorf("observed = %q, want a hint about the other channel", observed)
	}
	if ok, _, _ := obs.Check(ctx, SingleFailure("Failed")); !ok {
		t.Error("SingleFailure should hold with one error notification")
	}

	page.set(".notification-error", failure, failure)
	if ok, _, _ := obs.Check(ctx, SingleFailure("Failed")); ok {
		t.Error("SingleFailure should fail with two error notifications")
	}
}

func TestNotificationCount(t *testing.T) {
	t.Parallel()

	page := newFake()
	failure := el("Failed to deploy agent", "notification", "notification-error")
	page.set(".notification-error", failure, failure)
	obs := quick(page)
	ctx := context.Background()

	tests := []struct {
		count int
		want  bool
	}{
		{0, true},
		{1, false},
		{2, true},
		{3, false},
	}
	for _, tt := range tests {
		c := Failure("Failed to deploy")
		c.Count = tt.count
		ok, observed, err := obs.Check(ctx, c)
		if err != nil {
			t.Fatal(err)
		}
		if ok != tt.want {
			t.Errorf("Check(%s) = %v (observed %q), want %v", c, ok, observed, tt.want)
		}
	}

	c := Failure("Failed")
	c.Count = 2
	if got := c.String(); got != `exactly 2 error notification "Failed"` {
		t.Errorf("String() = %q", got)
	}
}

func TestExpectWaitsForAsyncChange(t *testing.T) {
	t.Parallel()

	page := newFake()
	go func() {
		time.Sleep(30 * time.Millisecond)
		page.set(".notification", el("Proposal created successfully", "notification"))
	}()
	obs := New(page, Options{Timeout: time.Second, Interval: 5 * time.Millisecond})
	if err := obs.Expect(context.Background(), Success("Proposal created successfully")); err != nil {
		t.Fatalf("Expect() error = %v", err)
	}
}

func TestExpectTimeoutIsAssertionError(t *testing.T) {
	t.Parallel()

	page := newFake()
	page.set(".agent-status", el("Status: Failed"))
	err := quick(page).Expect(context.Background(), Contains(".agent-status", "Status: Deployed"))

	var ae *AssertionError
	if !errors.As(err, &ae) {
		t.Fatalf("Expect() error = %v, want *AssertionError", err)
	}
	if ae.Observed != "Status: Failed" {
		t.Errorf("Observed = %q", ae.Observed)
	}
	if ae.Diff == "" {
		t.Error("Diff is empty")
	}
	if ae.Similarity <= 0 || ae.Similarity >= 1 {
		t.Errorf("Similarity = %v, want a partial match", ae.Similarity)
	}
	if !strings.Contains(err.Error(), "Status: Deployed") {
		t.Errorf("error %q does not name the expected text", err)
	}
}

func TestExpectPersistentQueryErrorIsHarnessFailure(t *testing.T) {
	t.Parallel()

	page := newFake()
	page.queryErr = errors.New("target closed")
	err := quick(page).Expect(context.Background(), Exists(".agent-list"))

	var qe *QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("Expect() error = %v, want *QueryError", err)
	}
	var ae *AssertionError
	if errors.As(err, &ae) {
		t.Error("query failure reported as an assertion")
	}
}

func TestExpectCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := quick(newFake()).Expect(ctx, Exists(".never"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expect() error = %v, want context.Canceled", err)
	}
}

func TestConditionValidate(t *testing.T) {
	t.Parallel()

	bad := []Condition{
		{},
		{Kind: "glows"},
		{Kind: KindContains, Selector: ".x"},
		{Kind: KindExists},
		{Kind: KindCount, Selector: ".x", Count: -1},
		{Kind: KindURLEquals},
		{Kind: KindNotification, Channel: "info"},
		{Kind: KindNotification, Channel: ChannelError, Count: -1},
		{Kind: KindNotification, Channel: ChannelError, Count: 2, ExactlyOne: true},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", c)
		}
	}
	good := []Condition{Contains(".a", "b"), Count(".a", 0), Success("ok"), URLIncludes("/x"), VisibleTestID("id", "")}
	for _, c := range good {
		if err := c.Validate(); err != nil {
			t.Errorf("Validate(%s) = %v", c, err)
		}
	}
}
