// Package preflight checks that the DApp under test is reachable before a
// run starts, so a dead dev server shows up as one clear error instead of
// every scenario timing out.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/charmbracelet/log"
)

// Defaults mirror the preflight section of the configuration.
const (
	DefaultAttempts = 5
	DefaultDelay    = 500 * time.Millisecond
	DefaultTimeout  = 3 * time.Second
)

// ErrUnreachable wraps the last failure once attempts are exhausted.
var ErrUnreachable = errors.New("target unreachable")

// StatusError reports a response that means the target is up but broken.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s answered %d", e.URL, e.Status)
}

// Options tune a Checker.
type Options struct {
	Attempts uint
	Delay    time.Duration
	// Timeout bounds each single request.
	Timeout time.Duration
	Client  *http.Client
	Logger  *log.Logger
}

// Checker probes URLs with retries.
type Checker struct {
	opts Options
}

// New fills in defaults.
func New(opts Options) *Checker {
	if opts.Attempts == 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Checker{opts: opts}
}

// Result describes a successful probe.
type Result struct {
	URL      string        `json:"url"`
	Status   int           `json:"status"`
	Attempts uint          `json:"attempts"`
	Latency  time.Duration `json:"latency_ns"`
}

// Check GETs url until it answers below 500, or attempts run out. 4xx
// answers count as reachable: the DApp may 404 on a bare path while still
// serving its routes.
func (c *Checker) Check(ctx context.Context, url string) (Result, error) {
	var attempts uint
	res, err := retry.DoWithData(
		func() (Result, error) {
			attempts++
			return c.probe(ctx, url)
		},
		retry.Context(ctx),
		retry.Attempts(c.opts.Attempts),
		retry.Delay(c.opts.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.opts.Logger.Debug("preflight retry", "url", url, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("preflight %s: %w", url, ctx.Err())
		}
		return Result{}, fmt.Errorf("%w after %d attempts: %w", ErrUnreachable, attempts, err)
	}
	res.Attempts = attempts
	c.opts.Logger.Info("target reachable", "url", url, "status", res.Status, "attempts", attempts)
	return res, nil
}

// CheckAll probes every url and joins the failures.
func (c *Checker) CheckAll(ctx context.Context, urls ...string) ([]Result, error) {
	var (
		results []Result
		errs    []error
	)
	for _, u := range urls {
		r, err := c.Check(ctx, u)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, r)
	}
	return results, errors.Join(errs...)
}

func (c *Checker) probe(ctx context.Context, url string) (Result, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, retry.Unrecoverable(fmt.Errorf("building request: %w", err))
	}
	start := time.Now()
	resp, err := c.opts.Client.Do(req)
	if err != nil {
		return Result{}, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Result{}, &StatusError{URL: url, Status: resp.StatusCode}
	}
	return Result{URL: url, Status: resp.StatusCode, Latency: time.Since(start)}, nil
}
