package scenario

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dicklesworthstone/dappcheck/internal/intercept"
	"github.com/Dicklesworthstone/dappcheck/internal/observer"
)

// FailureKind separates application bugs from harness problems.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureAssertion FailureKind = "assertion"
	FailureTimeout   FailureKind = "harness_timeout"
	FailureHarness   FailureKind = "harness"
)

// ErrRepeatedFire means a handle fired more than once between waits, so the
// await cannot tell which request it is looking at.
var ErrRepeatedFire = errors.New("handle fired more than once since the last wait")

// ExpectationError is a network exchange that did not carry the expected
// status or field value.
type ExpectationError struct {
	Alias string
	Field string
	Want  string
	Got   string
}

func (e *ExpectationError) Error() string {
	return fmt.Sprintf("@%s: expected %s = %q, got %q", e.Alias, e.Field, e.Want, e.Got)
}

// StepError locates a failure inside a scenario.
type StepError struct {
	Scenario string
	Index    int
	Step     string
	Kind     FailureKind
	Err      error
}

func (e *StepError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s: %v", e.Scenario, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: step %d (%s): %s: %v", e.Scenario, e.Index+1, e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Classify maps an error to its failure kind.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	var ae *observer.AssertionError
	var ee *ExpectationError
	if errors.As(err, &ae) || errors.As(err, &ee) {
		return FailureAssertion
	}
	var wt *intercept.WaitTimeoutError
	if errors.As(err, &wt) || errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureHarness
}
