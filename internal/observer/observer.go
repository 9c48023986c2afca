// Package observer polls a page until an expected condition holds.
package observer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/dappcheck/internal/browser"
	"github.com/Dicklesworthstone/dappcheck/internal/logging"
	"github.com/Dicklesworthstone/dappcheck/internal/output"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultInterval = 100 * time.Millisecond
)

// Selectors locate the two notification channels.
type Selectors struct {
	Success    string `json:"success" yaml:"success" mapstructure:"success" toml:"success"`
	Error      string `json:"error" yaml:"error" mapstructure:"error" toml:"error"`
	ErrorClass string `json:"error_class" yaml:"error_class" mapstructure:"error_class" toml:"error_class"`
}

// DefaultSelectors matches the Ontora notification markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Success:    ".notification",
		Error:      ".notification-error",
		ErrorClass: "notification-error",
	}
}

type Options struct {
	Timeout   time.Duration
	Interval  time.Duration
	Selectors Selectors
	Logger    *log.Logger
}

// AssertionError means the condition never held before the deadline.
type AssertionError struct {
	Condition Condition
	Observed  string
	Diff      string
	// Similarity of the observed value to the expected one, in [0,1].
	Similarity float64
	Waited     time.Duration
}

func (e *AssertionError) Error() string {
	msg := fmt.Sprintf("expected %s after %s; observed %q", e.Condition, e.Waited.Round(time.Millisecond), e.Observed)
	if e.Diff != "" {
		msg += "\ndiff: " + e.Diff
	}
	return msg
}

// QueryError means the page could not be queried up to the deadline.
type QueryError struct {
	Condition Condition
	Err       error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("querying page for %s: %v", e.Condition, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Observer evaluates conditions against one page.
type Observer struct {
	page browser.Page
	opts Options
}

func New(page browser.Page, opts Options) *Observer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Selectors == (Selectors{}) {
		opts.Selectors = DefaultSelectors()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Observer{page: page, opts: opts}
}

// Expect polls until c holds. The wait is bounded by both ctx and the
// observer timeout.
func (o *Observer) Expect(ctx context.Context, c Condition) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	start := time.Now()
	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()

	var observed string
	var lastErr error
	for {
		ok, obs, err := o.Check(ctx, c)
		switch {
		case err != nil:
			lastErr = err
		case ok:
			o.opts.Logger.Debug("condition held", "condition", c.String(), "waited", time.Since(start))
			return nil
		default:
			lastErr = nil
			observed = obs
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return fmt.Errorf("observing %s: %w", c, ctx.Err())
			}
			if lastErr != nil {
				return &QueryError{Condition: c, Err: lastErr}
			}
			d := output.ComputeDiff(c.expected(), observed)
			return &AssertionError{
				Condition:  c,
				Observed:   observed,
				Diff:       d.Inline,
				Similarity: d.Similarity,
				Waited:     time.Since(start),
			}
		case <-ticker.C:
		}
	}
}

// Check evaluates c once and returns the observed value it compared.
func (o *Observer) Check(ctx context.Context, c Condition) (bool, string, error) {
	switch c.Kind {
	case KindURLIncludes, KindURLEquals:
		u, err := o.page.URL(ctx)
		if err != nil {
			return false, "", err
		}
		if c.Kind == KindURLEquals {
			got := u
			if strings.HasPrefix(c.Text, "/") {
				got = pathOf(u)
			}
			return got == c.Text, u, nil
		}
		return strings.Contains(u, c.Text), u, nil
	case KindNotification:
		return o.checkNotification(ctx, c)
	}

	els, err := o.page.Query(ctx, c.CSS())
	if err != nil {
		return false, "", err
	}
	if c.Index != nil {
		if *c.Index >= len(els) {
			return false, fmt.Sprintf("%d element(s), no index %d", len(els), *c.Index), nil
		}
		els = els[*c.Index : *c.Index+1]
	}

	switch c.Kind {
	case KindContains:
		return anyContains(els, c.Text, false), texts(els), nil
	case KindNotContains:
		return !anyContains(els, c.Text, false), texts(els), nil
	case KindExists:
		return len(els) > 0, strconv.Itoa(len(els)) + " element(s)", nil
	case KindNotExists:
		return len(els) == 0, strconv.Itoa(len(els)) + " element(s)", nil
	case KindVisible:
		return anyContains(els, c.Text, true), texts(els), nil
	case KindCount:
		return len(els) == c.Count, strconv.Itoa(len(els)), nil
	}
	return false, "", fmt.Errorf("unknown condition kind %q", c.Kind)
}

func (o *Observer) checkNotification(ctx context.Context, c Condition) (bool, string, error) {
	success, failure, err := o.Notifications(ctx)
	if err != nil {
		return false, "", err
	}
	own, other := success, failure
	if c.Channel == ChannelError {
		own, other = failure, success
	}
	observed := texts(own)
	if n := c.notificationCount(); n > 0 {
		observed = fmt.Sprintf("%d notification(s): %s", len(own), observed)
		if len(own) != n {
			return false, observed, nil
		}
	}
	if anyContains(own, c.Text, false) {
		return true, observed, nil
	}
	if anyContains(other, c.Text, false) {
		observed += " (text found on the other channel)"
	}
	return false, observed, nil
}

// Notifications returns the elements on each channel. Elements carrying
// the error class never count as success notifications.
func (o *Observer) Notifications(ctx context.Context) (success, failure []browser.Element, err error) {
	all, err := o.page.Query(ctx, o.opts.Selectors.Success)
	if err != nil {
		return nil, nil, err
	}
	for _, el := range all {
		if !el.HasClass(o.opts.Selectors.ErrorClass) {
			success = append(success, el)
		}
	}
	failure, err = o.page.Query(ctx, o.opts.Selectors.Error)
	if err != nil {
		return nil, nil, err
	}
	return success, failure, nil
}

func (c Condition) expected() string {
	switch c.Kind {
	case KindCount:
		return strconv.Itoa(c.Count)
	case KindExists:
		return "1 element(s)"
	case KindNotExists:
		return "0 element(s)"
	case KindNotification:
		if n := c.notificationCount(); n > 0 {
			return fmt.Sprintf("%d notification(s): %s", n, c.Text)
		}
	}
	return c.Text
}

// notificationCount is the exact number of notifications required, 0 for any.
func (c Condition) notificationCount() int {
	if c.ExactlyOne {
		return 1
	}
	return c.Count
}

// pathOf strips scheme and host so "/" can stand for the site root.
func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

func anyContains(els []browser.Element, text string, visibleOnly bool) bool {
	for _, el := range els {
		if visibleOnly && !el.Visible {
			continue
		}
		if strings.Contains(el.Text, text) {
			return true
		}
	}
	return false
}

func texts(els []browser.Element) string {
	if len(els) == 0 {
		return "<none>"
	}
	parts := make([]string, len(els))
	for i, el := range els {
		parts[i] = el.Text
	}
	return strings.Join(parts, " | ")
}
