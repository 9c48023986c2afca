package intercept

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// RecordedResponse is the reply the layer produced.
type RecordedResponse struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
}

// Exchange is one intercepted request/response cycle.
type Exchange struct {
	Alias    string           `json:"alias"`
	Request  RecordedRequest  `json:"request"`
	Response RecordedResponse `json:"response"`
	At       time.Time        `json:"at"`
}

// Field reads a gjson path from the response body, e.g. "proposalId".
func (e Exchange) Field(path string) gjson.Result {
	return gjson.GetBytes(e.Response.Body, path)
}

// RequestField reads a gjson path from the request body.
func (e Exchange) RequestField(path string) gjson.Result {
	return gjson.GetBytes(e.Request.Body, path)
}

// WaitTimeoutError means a handle never fired within the wait window. It is
// a harness timeout, not an assertion failure.
type WaitTimeoutError struct {
	Alias  string
	Waited time.Duration
	Fired  int
	Err    error
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v waiting for @%s (fired %d time(s) before)", e.Waited.Round(time.Millisecond), e.Alias, e.Fired)
}

func (e *WaitTimeoutError) Unwrap() error { return e.Err }

// Handle is the future returned by Register. Exchanges are queued in the
// order they fire and each Wait consumes the oldest one.
type Handle struct {
	rule *Rule

	mu     sync.Mutex
	fired  []Exchange
	next   int
	signal chan struct{}
}

func newHandle(rule *Rule) *Handle {
	return &Handle{rule: rule, signal: make(chan struct{})}
}

// Alias is the name the handle was registered under.
func (h *Handle) Alias() string { return h.rule.Alias }

// Rule returns a copy of the rule behind the handle.
func (h *Handle) Rule() Rule { return *h.rule }

func (h *Handle) deliver(ex Exchange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fired = append(h.fired, ex)
	close(h.signal)
	h.signal = make(chan struct{})
}

// Count is the total number of times the handle fired.
func (h *Handle) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fired)
}

// Pending is the number of fired exchanges not yet consumed by Wait.
func (h *Handle) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fired) - h.next
}

// Exchanges returns every exchange delivered so far.
func (h *Handle) Exchanges() []Exchange {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Exchange, len(h.fired))
	copy(out, h.fired)
	return out
}

// Wait blocks until an unconsumed exchange is available or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Exchange, error) {
	ex, _, err := h.Take(ctx)
	return ex, err
}

// Take is Wait that also reports how many exchanges were still pending once
// ex was consumed. The count is read under the same lock as the consume, so
// a second fire that landed while Take was blocked is never missed.
func (h *Handle) Take(ctx context.Context) (ex Exchange, remaining int, err error) {
	start := time.Now()
	for {
		h.mu.Lock()
		if h.next < len(h.fired) {
			ex := h.fired[h.next]
			h.next++
			remaining := len(h.fired) - h.next
			h.mu.Unlock()
			return ex, remaining, nil
		}
		sig := h.signal
		fired := len(h.fired)
		h.mu.Unlock()

		select {
		case <-sig:
		case <-ctx.Done():
			return Exchange{}, 0, &WaitTimeoutError{
				Alias:  h.rule.Alias,
				Waited: time.Since(start),
				Fired:  fired,
				Err:    ctx.Err(),
			}
		}
	}
}
