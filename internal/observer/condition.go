package observer

import (
	"errors"
	"fmt"

	"github.com/Dicklesworthstone/dappcheck/internal/browser"
)

// Kind selects how a Condition is evaluated.
type Kind string

const (
	KindContains     Kind = "contains"
	KindNotContains  Kind = "not_contains"
	KindExists       Kind = "exists"
	KindNotExists    Kind = "not_exists"
	KindVisible      Kind = "visible"
	KindCount        Kind = "count"
	KindURLIncludes  Kind = "url_includes"
	KindURLEquals    Kind = "url_equals"
	KindNotification Kind = "notification"
)

// Channel is one of the two notification surfaces.
type Channel string

const (
	ChannelSuccess Channel = "success"
	ChannelError   Channel = "error"
)

// Condition is an expected page state.
type Condition struct {
	Kind     Kind   `json:"kind" yaml:"kind"`
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	TestID   string `json:"testid,omitempty" yaml:"testid,omitempty"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
	// Index restricts the check to the n-th match; nil means all matches.
	Index *int `json:"index,omitempty" yaml:"index,omitempty"`
	// Count is the expected number of matches for count. For notification a
	// non-zero Count is the exact number of elements on the channel.
	Count   int     `json:"count,omitempty" yaml:"count,omitempty"`
	Channel Channel `json:"channel,omitempty" yaml:"channel,omitempty"`
	// ExactlyOne is shorthand for a notification Count of 1.
	ExactlyOne bool `json:"exactly_one,omitempty" yaml:"exactly_one,omitempty"`
}

// Contains expects the text of the elements matching selector to include text.
func Contains(selector, text string) Condition {
	return Condition{Kind: KindContains, Selector: selector, Text: text}
}

// ContainsAt checks only the i-th element matching selector.
func ContainsAt(selector string, i int, text string) Condition {
	return Condition{Kind: KindContains, Selector: selector, Index: &i, Text: text}
}

// NotContains expects no matching element to include text.
func NotContains(selector, text string) Condition {
	return Condition{Kind: KindNotContains, Selector: selector, Text: text}
}

// Exists expects at least one match.
func Exists(selector string) Condition {
	return Condition{Kind: KindExists, Selector: selector}
}

// NotExists expects no match at all.
func NotExists(selector string) Condition {
	return Condition{Kind: KindNotExists, Selector: selector}
}

// Visible expects a visible element; text, when set, must be contained.
func Visible(selector, text string) Condition {
	return Condition{Kind: KindVisible, Selector: selector, Text: text}
}

// VisibleTestID is Visible for a data-testid.
func VisibleTestID(id, text string) Condition {
	return Condition{Kind: KindVisible, TestID: id, Text: text}
}

// Count expects exactly n matches.
func Count(selector string, n int) Condition {
	return Condition{Kind: KindCount, Selector: selector, Count: n}
}

// URLIncludes expects the location to contain s.
func URLIncludes(s string) Condition {
	return Condition{Kind: KindURLIncludes, Text: s}
}

// URLEquals expects the location to equal s. A value starting with "/" is
// compared against the path and query only.
func URLEquals(s string) Condition {
	return Condition{Kind: KindURLEquals, Text: s}
}

// Success expects a success notification containing text.
func Success(text string) Condition {
	return Condition{Kind: KindNotification, Channel: ChannelSuccess, Text: text}
}

// Failure expects an error notification containing text.
func Failure(text string) Condition {
	return Condition{Kind: KindNotification, Channel: ChannelError, Text: text}
}

// SingleFailure expects exactly one error notification, containing text.
func SingleFailure(text string) Condition {
	c := Failure(text)
	c.ExactlyOne = true
	return c
}

// CSS is the selector the condition queries.
func (c Condition) CSS() string {
	if c.TestID != "" {
		return browser.TestIDSelector(c.TestID)
	}
	return c.Selector
}

// Validate checks the condition is well formed.
func (c Condition) Validate() error {
	switch c.Kind {
	case KindContains, KindNotContains:
		if c.CSS() == "" {
			return fmt.Errorf("%s needs a selector", c.Kind)
		}
		if c.Text == "" {
			return fmt.Errorf("%s needs text", c.Kind)
		}
	case KindExists, KindNotExists, KindVisible:
		if c.CSS() == "" {
			return fmt.Errorf("%s needs a selector", c.Kind)
		}
	case KindCount:
		if c.CSS() == "" {
			return errors.New("count needs a selector")
		}
		if c.Count < 0 {
			return errors.New("count cannot be negative")
		}
	case KindURLIncludes, KindURLEquals:
		if c.Text == "" {
			return fmt.Errorf("%s needs text", c.Kind)
		}
	case KindNotification:
		if c.Channel != ChannelSuccess && c.Channel != ChannelError {
			return fmt.Errorf("notification channel must be success or error, got %q", c.Channel)
		}
		if c.Count < 0 {
			return errors.New("count cannot be negative")
		}
		if c.ExactlyOne && c.Count > 1 {
			return fmt.Errorf("exactly_one conflicts with count %d", c.Count)
		}
	case "":
		return errors.New("condition kind is required")
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	if c.Index != nil && *c.Index < 0 {
		return errors.New("index cannot be negative")
	}
	return nil
}

func (c Condition) String() string {
	target := c.CSS()
	if c.Index != nil {
		target = fmt.Sprintf("%s[%d]", target, *c.Index)
	}
	switch c.Kind {
	case KindContains:
		return fmt.Sprintf("%s contains %q", target, c.Text)
	case KindNotContains:
		return fmt.Sprintf("%s does not contain %q", target, c.Text)
	case KindExists:
		return fmt.Sprintf("%s exists", target)
	case KindNotExists:
		return fmt.Sprintf("%s does not exist", target)
	case KindVisible:
		if c.Text != "" {
			return fmt.Sprintf("%s containing %q is visible", target, c.Text)
		}
		return fmt.Sprintf("%s is visible", target)
	case KindCount:
		return fmt.Sprintf("%s matches %d element(s)", target, c.Count)
	case KindURLIncludes:
		return fmt.Sprintf("url includes %q", c.Text)
	case KindURLEquals:
		return fmt.Sprintf("url equals %q", c.Text)
	case KindNotification:
		s := fmt.Sprintf("%s notification %q", c.Channel, c.Text)
		switch n := c.notificationCount(); n {
		case 0:
		case 1:
			s = "exactly one " + s
		default:
			s = fmt.Sprintf("exactly %d %s", n, s)
		}
		return s
	default:
		return string(c.Kind)
	}
}
