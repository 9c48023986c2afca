// Package notify announces finished runs on a webhook or in a log file.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/Dicklesworthstone/dappcheck/internal/redaction"
	"github.com/Dicklesworthstone/dappcheck/internal/report"
)

// EventType names a notification.
type EventType string

const (
	EventRunPassed EventType = "run.passed"
	EventRunFailed EventType = "run.failed"
)

// ChannelName identifies a delivery channel.
type ChannelName string

const (
	ChannelWebhook ChannelName = "webhook"
	ChannelLog     ChannelName = "log"
)

// Event is one finished run as seen by a notification template.
type Event struct {
	Type      EventType         `json:"type"`
	RunID     string            `json:"run_id"`
	Driver    string            `json:"driver"`
	BaseURL   string            `json:"base_url"`
	Total     int               `json:"total"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Duration  time.Duration     `json:"duration"`
	Message   string            `json:"message"`
	Failures  map[string]string `json:"failures,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	Enabled bool
	// URL may reference environment variables as ${NAME}.
	URL string
	// Template renders the request body. Empty means DefaultTemplate.
	Template string
	Timeout  time.Duration
	Attempts uint
}

// LogConfig configures the log channel.
type LogConfig struct {
	Enabled bool
	Path    string
}

// Config configures a Notifier.
type Config struct {
	Enabled bool
	// Events lists the enabled event types; empty enables all.
	Events  []string
	Webhook WebhookConfig
	Log     LogConfig
}

// DefaultTemplate renders a Slack-compatible body with the run fields.
const DefaultTemplate = `{"text": {{json .Message}}, "event": {{json .Type}}, "run_id": {{json .RunID}}, ` +
	`"driver": {{json .Driver}}, "base_url": {{json .BaseURL}}, "passed": {{.Passed}}, "failed": {{.Failed}}, ` +
	`"skipped": {{.Skipped}}, "total": {{.Total}}, "failures": {{jsonMap .Failures}}}`

// Notifier delivers events to the enabled channels.
type Notifier struct {
	config     Config
	enabledSet map[EventType]bool
	client     *http.Client
	redactor   *redaction.Redactor

	mu     sync.Mutex
	closed bool
}

// New returns a Notifier that sends events unredacted.
func New(cfg Config) *Notifier {
	cfg.Webhook.URL = os.ExpandEnv(cfg.Webhook.URL)
	if cfg.Webhook.Timeout <= 0 {
		cfg.Webhook.Timeout = 10 * time.Second
	}
	if cfg.Webhook.Attempts == 0 {
		cfg.Webhook.Attempts = 3
	}
	n := &Notifier{
		config:     cfg,
		enabledSet: make(map[EventType]bool),
		client:     &http.Client{Timeout: cfg.Webhook.Timeout},
	}
	for _, ev := range cfg.Events {
		n.enabledSet[EventType(ev)] = true
	}
	return n
}

// NewWithRedaction returns a Notifier that scrubs outbound text. Warn mode
// is promoted to redact: a payload leaving the process is never sent raw.
func NewWithRedaction(cfg Config, rc redaction.Config) *Notifier {
	n := New(cfg)
	if rc.Mode == redaction.ModeWarn {
		rc.Mode = redaction.ModeRedact
	}
	if r, err := redaction.New(rc); err == nil {
		n.redactor = r
	}
	return n
}

// FromReport builds the event for a finished run.
func FromReport(rep *report.Report) Event {
	ev := Event{
		Type:      EventRunPassed,
		RunID:     rep.RunID,
		Driver:    rep.Driver,
		BaseURL:   rep.BaseURL,
		Total:     rep.Summary.Total,
		Passed:    rep.Summary.Passed,
		Failed:    rep.Summary.Failed,
		Skipped:   rep.Summary.Skipped,
		Duration:  rep.Summary.Duration,
		Timestamp: time.Now(),
	}
	if rep.Summary.Failed > 0 {
		ev.Type = EventRunFailed
		ev.Failures = make(map[string]string)
		for _, r := range rep.Failed() {
			ev.Failures[r.Name] = string(r.FailureKind)
		}
	}
	ev.Message = fmt.Sprintf("dappcheck %s: %d passed, %d failed, %d skipped against %s",
		strings.TrimPrefix(string(ev.Type), "run."), ev.Passed, ev.Failed, ev.Skipped, ev.BaseURL)
	return ev
}

func (n *Notifier) enabled(t EventType) bool {
	return len(n.enabledSet) == 0 || n.enabledSet[t]
}

// Notify delivers ev to every enabled channel and joins their errors.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	if !n.config.Enabled || !n.enabled(ev.Type) {
		return nil
	}
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return errors.New("notifier closed")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev = n.sanitizeEvent(ev)

	var errs []error
	if n.config.Webhook.Enabled {
		if err := n.sendToChannel(ctx, ChannelWebhook, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if n.config.Log.Enabled {
		if err := n.sendToChannel(ctx, ChannelLog, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) sendToChannel(ctx context.Context, ch ChannelName, ev Event) error {
	switch ch {
	case ChannelWebhook:
		if !n.config.Webhook.Enabled {
			return fmt.Errorf("channel %s disabled", ch)
		}
		return n.sendWebhook(ctx, ev)
	case ChannelLog:
		if !n.config.Log.Enabled {
			return fmt.Errorf("channel %s disabled", ch)
		}
		return n.writeLog(ev)
	default:
		return fmt.Errorf("unknown channel %q", ch)
	}
}

func (n *Notifier) sanitizeEvent(ev Event) Event {
	if n.redactor == nil {
		return ev
	}
	ev.Message = n.redactor.String(ev.Message)
	if len(ev.Failures) > 0 {
		clean := make(map[string]string, len(ev.Failures))
		for k, v := range ev.Failures {
			clean[n.redactor.String(k)] = n.redactor.String(v)
		}
		ev.Failures = clean
	}
	return ev
}

var funcs = template.FuncMap{
	"json":    jsonString,
	"jsonMap": jsonMap,
}

func (n *Notifier) render(ev Event) ([]byte, error) {
	src := n.config.Webhook.Template
	if src == "" {
		src = DefaultTemplate
	}
	tmpl, err := template.New("webhook").Funcs(funcs).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parsing webhook template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ev); err != nil {
		return nil, fmt.Errorf("rendering webhook template: %w", err)
	}
	return buf.Bytes(), nil
}

// statusError is a non-2xx webhook reply.
type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("webhook returned %d", e.code) }

func (n *Notifier) sendWebhook(ctx context.Context, ev Event) error {
	if n.config.Webhook.URL == "" {
		return errors.New("webhook url is empty")
	}
	body, err := n.render(ev)
	if err != nil {
		return err
	}
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.Webhook.URL, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := n.client.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode >= 300 {
				se := &statusError{code: resp.StatusCode}
				// Client errors will not improve on retry.
				if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Unrecoverable(se)
				}
				return se
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(n.config.Webhook.Attempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}

func (n *Notifier) writeLog(ev Event) error {
	path := n.config.Log.Path
	if path == "" {
		return errors.New("log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s [%s] run=%s %s\n", ev.Timestamp.UTC().Format(time.RFC3339), ev.Type, ev.RunID, ev.Message)
	return err
}

// Close stops further delivery. It is safe to call more than once.
func (n *Notifier) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	return nil
}

func jsonString(v any) string {
	b, err := json.Marshal(fmt.Sprint(v))
	if err != nil {
		return `""`
	}
	return string(b)
}

func jsonMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
