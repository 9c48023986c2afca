// Package mockapi serves an interception layer over real HTTP, so a DApp
// build pointed at it gets the same canned backend the harness uses. Rules
// can be added at runtime and exchanges are streamed over a websocket.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Dicklesworthstone/dappcheck/internal/intercept"
	"github.com/Dicklesworthstone/dappcheck/internal/scenario"
)

// ControlPrefix is where the server's own endpoints live.
const ControlPrefix = "/__dappcheck"

// Server is the mock backend.
type Server struct {
	layer  *intercept.Layer
	logger *log.Logger
	hub    *hub
	router chi.Router
}

// New builds a server around layer. Every exchange the layer fulfils is
// logged and broadcast to websocket subscribers.
func New(layer *intercept.Layer, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(nil)
	}
	s := &Server{
		layer:  layer,
		logger: logger.WithPrefix("mockapi"),
		hub:    newHub(),
	}
	layer.OnExchange(s.publish)
	s.router = s.routes()
	return s
}

// Layer returns the layer the server answers from.
func (s *Server) Layer() *intercept.Layer { return s.layer }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Route(ControlPrefix, func(r chi.Router) {
		r.Get("/rules", s.handleListRules)
		r.Post("/rules", s.handleAddRule)
		r.Get("/rules/{alias}", s.handleRule)
		r.Get("/unmatched", s.handleUnmatched)
		r.Get("/events", s.handleEvents)
	})
	r.Handle("/api/*", s.layer)
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. ready, when non-nil, receives the bound address.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready chan<- string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("mock api listening", "addr", ln.Addr().String())
	if ready != nil {
		ready <- ln.Addr().String()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.hub.closeAll()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down mock api: %w", err)
	}
	return nil
}

func (s *Server) publish(ex intercept.Exchange) {
	s.logger.Debug("exchange", "alias", ex.Alias, "method", ex.Request.Method,
		"path", ex.Request.Path, "status", ex.Response.StatusCode)
	data, err := json.Marshal(eventFrom(ex))
	if err != nil {
		s.logger.Warn("encoding exchange event", "error", err)
		return
	}
	s.hub.broadcast(data)
}

// ExchangeEvent is the websocket message for one exchange.
type ExchangeEvent struct {
	Alias        string          `json:"alias"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Status       int             `json:"status"`
	RequestBody  json.RawMessage `json:"request_body,omitempty"`
	ResponseBody json.RawMessage `json:"response_body,omitempty"`
	At           time.Time       `json:"at"`
}

func eventFrom(ex intercept.Exchange) ExchangeEvent {
	return ExchangeEvent{
		Alias:        ex.Alias,
		Method:       ex.Request.Method,
		Path:         ex.Request.Path,
		Status:       ex.Response.StatusCode,
		RequestBody:  rawJSON(ex.Request.Body),
		ResponseBody: rawJSON(ex.Response.Body),
		At:           ex.At,
	}
}

// rawJSON passes valid JSON through and quotes anything else.
func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

// RuleStatus describes a registered rule and its handle.
type RuleStatus struct {
	intercept.Rule
	Fired   int `json:"fired"`
	Pending int `json:"pending"`
	// Live is false for rules whose alias was registered again later.
	Live bool `json:"live"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"rules":       len(s.layer.Rules()),
		"subscribers": s.hub.count(),
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	handles := s.layer.Handles()
	var out []RuleStatus
	seen := map[string]bool{}
	for _, rule := range s.layer.Rules() {
		st := RuleStatus{Rule: rule}
		if h, ok := handles[rule.Alias]; ok && !seen[rule.Alias] {
			st.Fired, st.Pending, st.Live = h.Count(), h.Pending(), true
			seen[rule.Alias] = true
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid rule: %v", err))
		return
	}
	spec, err := req.spec()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := spec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h := spec.Register(s.layer)
	s.logger.Info("rule registered", "alias", spec.Alias, "method", h.Rule().Method, "path", spec.Path)
	writeJSON(w, http.StatusCreated, RuleStatus{Rule: h.Rule(), Live: true})
}

func (s *Server) handleRule(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	h, err := s.layer.Handle(alias)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	exchanges := h.Exchanges()
	events := make([]ExchangeEvent, 0, len(exchanges))
	for _, ex := range exchanges {
		events = append(events, eventFrom(ex))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rule":      RuleStatus{Rule: h.Rule(), Fired: h.Count(), Pending: h.Pending(), Live: true},
		"exchanges": events,
	})
}

func (s *Server) handleUnmatched(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int{}
	for _, req := range s.layer.Unmatched() {
		counts[req.Method+" "+req.Path]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	type entry struct {
		Request string `json:"request"`
		Count   int    `json:"count"`
	}
	out := make([]entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, entry{Request: k, Count: counts[k]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"unmatched": out})
}

// ruleRequest is the JSON accepted by POST /__dappcheck/rules. Delay is a
// Go duration string.
type ruleRequest struct {
	Alias   string            `json:"alias"`
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
	Delay   string            `json:"delay"`
}

func (r ruleRequest) spec() (scenario.InterceptSpec, error) {
	spec := scenario.InterceptSpec{
		Alias:   r.Alias,
		Method:  r.Method,
		Path:    r.Path,
		Status:  r.Status,
		Headers: r.Headers,
	}
	if len(r.Body) > 0 {
		spec.Body = []byte(r.Body)
		if spec.Headers == nil || spec.Headers["Content-Type"] == "" {
			h := map[string]string{"Content-Type": "application/json"}
			for k, v := range spec.Headers {
				h[k] = v
			}
			spec.Headers = h
		}
	}
	if r.Delay != "" {
		d, err := time.ParseDuration(r.Delay)
		if err != nil {
			return spec, fmt.Errorf("invalid delay %q: %w", r.Delay, err)
		}
		spec.Delay = d
	}
	return spec, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"statusCode": status, "error": msg})
}
