// Package intercept short-circuits outbound application requests with
// deterministic responses. Each registration yields a named Handle the
// scenario executor waits on, so assertions never race the network.
package intercept

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"
)

// ErrUnknownAlias is returned when a handle alias was never registered.
var ErrUnknownAlias = errors.New("unknown interception alias")

// Response is the canned reply for a rule.
type Response struct {
	StatusCode int               `json:"status_code" yaml:"status"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// Body is encoded as JSON unless it is already []byte or string.
	Body any `json:"body,omitempty" yaml:"body,omitempty"`
	// Delay holds the reply back, modelling a slow backend.
	Delay time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// JSON is shorthand for a JSON response.
func JSON(status int, body any) Response {
	return Response{StatusCode: status, Body: body}
}

// Encode renders the response body and headers.
func (r Response) Encode() ([]byte, http.Header, error) {
	header := http.Header{}
	for k, v := range r.Headers {
		header.Set(k, v)
	}

	var body []byte
	switch b := r.Body.(type) {
	case nil:
	case []byte:
		body = b
	case string:
		body = []byte(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding response body: %w", err)
		}
		body = data
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "application/json")
		}
	}
	return body, header, nil
}

// Status returns the configured status, defaulting to 200.
func (r Response) Status() int {
	if r.StatusCode == 0 {
		return http.StatusOK
	}
	return r.StatusCode
}

// RecordedRequest is the part of an intercepted request the harness keeps.
type RecordedRequest struct {
	Method string      `json:"method"`
	Path   string      `json:"path"`
	Query  string      `json:"query,omitempty"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`
}

// Rule is a registered interception.
type Rule struct {
	Alias    string   `json:"alias"`
	Method   string   `json:"method"`
	Pattern  string   `json:"pattern"`
	Response Response `json:"response"`
	seq      int
}

// Matches reports whether the rule applies to method and urlPath.
func (r *Rule) Matches(method, urlPath string) bool {
	if r.Method != "" && r.Method != "*" && !strings.EqualFold(r.Method, method) {
		return false
	}
	return MatchPath(r.Pattern, urlPath)
}

// MatchPath matches a request path against an exact path or a path.Match
// glob. Query strings are ignored.
func MatchPath(pattern, urlPath string) bool {
	if i := strings.IndexByte(urlPath, '?'); i >= 0 {
		urlPath = urlPath[:i]
	}
	if pattern == urlPath {
		return true
	}
	if strings.ContainsAny(pattern, "*?[") {
		ok, err := path.Match(pattern, urlPath)
		return err == nil && ok
	}
	return false
}

// Layer holds the rules of one scenario. It is safe for concurrent use.
type Layer struct {
	mu        sync.Mutex
	rules     []*Rule
	handles   map[string]*Handle
	seq       int
	observers []func(Exchange)
	unmatched []RecordedRequest
	now       func() time.Time
}

// New creates an empty layer.
func New() *Layer {
	return &Layer{
		handles: make(map[string]*Handle),
		now:     time.Now,
	}
}

// Register installs a rule and returns its handle. Registering the same
// alias again replaces the earlier handle; rules are matched newest first,
// so for a given (method, path) the last registration wins.
func (l *Layer) Register(alias, method, pattern string, resp Response) *Handle {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	rule := &Rule{
		Alias:    alias,
		Method:   strings.ToUpper(method),
		Pattern:  pattern,
		Response: resp,
		seq:      l.seq,
	}
	l.rules = append(l.rules, rule)

	h := newHandle(rule)
	l.handles[alias] = h
	return h
}

// Handle returns the handle registered under alias.
func (l *Layer) Handle(alias string) (*Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.handles[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlias, alias)
	}
	return h, nil
}

// Handles returns every live handle keyed by alias.
func (l *Layer) Handles() map[string]*Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]*Handle, len(l.handles))
	for k, v := range l.handles {
		out[k] = v
	}
	return out
}

// Rules returns the registered rules, newest first.
func (l *Layer) Rules() []Rule {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Rule, 0, len(l.rules))
	for i := len(l.rules) - 1; i >= 0; i-- {
		out = append(out, *l.rules[i])
	}
	return out
}

// OnExchange adds an observer notified after every fulfilled exchange.
func (l *Layer) OnExchange(fn func(Exchange)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}

// Unmatched returns requests that no rule claimed.
func (l *Layer) Unmatched() []RecordedRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RecordedRequest, len(l.unmatched))
	copy(out, l.unmatched)
	return out
}

// Match returns the winning rule for method and path.
func (l *Layer) Match(method, urlPath string) (*Rule, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.matchLocked(method, urlPath)
}

func (l *Layer) matchLocked(method, urlPath string) (*Rule, bool) {
	for i := len(l.rules) - 1; i >= 0; i-- {
		if l.rules[i].Matches(method, urlPath) {
			return l.rules[i], true
		}
	}
	return nil, false
}

// Intercept fulfils req from the winning rule and delivers the exchange to
// the rule's handle. ok is false when no rule matches. A delayed response is
// abandoned with ctx.Err() when ctx ends first; the handle does not fire.
func (l *Layer) Intercept(ctx context.Context, req RecordedRequest) (ex Exchange, ok bool, err error) {
	l.mu.Lock()
	rule, matched := l.matchLocked(req.Method, req.Path)
	if !matched {
		l.unmatched = append(l.unmatched, req)
		l.mu.Unlock()
		return Exchange{}, false, nil
	}
	handle := l.handles[rule.Alias]
	observers := append([]func(Exchange){}, l.observers...)
	l.mu.Unlock()

	if rule.Response.Delay > 0 {
		timer := time.NewTimer(rule.Response.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Exchange{}, true, ctx.Err()
		}
	}

	body, header, err := rule.Response.Encode()
	if err != nil {
		return Exchange{}, true, err
	}
	ex = Exchange{
		Alias:   rule.Alias,
		Request: req,
		Response: RecordedResponse{
			StatusCode: rule.Response.Status(),
			Header:     header,
			Body:       body,
		},
		At: l.now(),
	}

	// A later registration under the same alias replaces the handle; the
	// superseded rule still answers but nobody waits on it.
	if handle != nil && handle.rule == rule {
		handle.deliver(ex)
	}
	for _, fn := range observers {
		fn(ex)
	}
	return ex, true, nil
}

// ServeHTTP lets the layer act as a mock backend.
func (l *Layer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec, err := Record(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ex, ok, err := l.Intercept(r.Context(), rec)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	for k, vals := range ex.Response.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(ex.Response.StatusCode)
	_, _ = w.Write(ex.Response.Body)
}

// Record captures method, path, headers and body of r, restoring the body
// so r can still be forwarded.
func Record(r *http.Request) (RecordedRequest, error) {
	rec := RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
	}
	if r.Body != nil {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return rec, fmt.Errorf("reading request body: %w", err)
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(data))
		rec.Body = data
	}
	return rec, nil
}
