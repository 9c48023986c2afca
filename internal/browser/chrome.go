package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/Dicklesworthstone/dappcheck/internal/intercept"
	"github.com/Dicklesworthstone/dappcheck/internal/wallet"
)

// WalletBinding is the runtime binding the injected wallet shim calls.
const WalletBinding = "dappcheckWallet"

const markerAttr = "data-dappcheck-target"

// ChromeOptions configures the browser allocator.
type ChromeOptions struct {
	Headless bool
	Width    int
	Height   int
	// ExecPath overrides the Chrome binary chromedp looks up.
	ExecPath string
}

// Chrome is a chromedp-backed Driver. One browser process serves every
// scenario; each Open creates a separate browser context.
type Chrome struct {
	logger        *log.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChrome starts the browser.
func NewChrome(opts ChromeOptions, logger *log.Logger) (*Chrome, error) {
	if opts.Width == 0 {
		opts.Width = 1920
	}
	if opts.Height == 0 {
		opts.Height = 1080
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(opts.Width, opts.Height),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	// First Run launches the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("starting browser: %w", err)
	}
	logger.Info("browser started", "headless", opts.Headless, "window", fmt.Sprintf("%dx%d", opts.Width, opts.Height))

	return &Chrome{
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Name implements Driver.
func (c *Chrome) Name() string { return "chrome" }

// Close shuts the browser down.
func (c *Chrome) Close() {
	c.browserCancel()
	c.allocCancel()
}

// apiPatterns pause only XHR and fetch calls. Documents, scripts and assets
// load untouched and never show up as unmatched requests.
var apiPatterns = []*fetch.RequestPattern{
	{URLPattern: "*", ResourceType: network.ResourceTypeXHR, RequestStage: fetch.RequestStageRequest},
	{URLPattern: "*", ResourceType: network.ResourceTypeFetch, RequestStage: fetch.RequestStageRequest},
}

// Open creates a new browser context, routes its requests through
// boot.Network and installs the wallet shim before any page script runs.
func (c *Chrome) Open(ctx context.Context, boot Bootstrap) (Page, func(), error) {
	tabCtx, cancel := chromedp.NewContext(c.browserCtx, chromedp.WithNewBrowserContext())
	stop := context.AfterFunc(ctx, cancel)

	logger := boot.Logger
	if logger == nil {
		logger = c.logger
	}
	p := &chromePage{ctx: tabCtx, boot: boot, logger: logger}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	setup := []chromedp.Action{
		fetch.Enable().WithPatterns(apiPatterns),
	}
	if boot.Wallet != nil {
		script := boot.Wallet.InjectionScript(WalletBinding)
		setup = append(setup,
			runtime.AddBinding(WalletBinding),
			chromedp.ActionFunc(func(ctx context.Context) error {
				_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
				return err
			}),
		)
	}
	if err := chromedp.Run(tabCtx, setup...); err != nil {
		stop()
		cancel()
		return nil, nil, fmt.Errorf("preparing browser context: %w", err)
	}

	return p, func() {
		stop()
		cancel()
	}, nil
}

type chromePage struct {
	ctx    context.Context
	boot   Bootstrap
	logger *log.Logger
}

// scoped derives a context that carries the tab and honours ctx's deadline
// and cancellation.
func (p *chromePage) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		inner := cancel
		cancel = func() {
			cancelDeadline()
			inner()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *chromePage) onEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *fetch.EventRequestPaused:
		go p.fulfil(ev)
	case *runtime.EventBindingCalled:
		if ev.Name == WalletBinding {
			go p.bridge(ev.Payload)
		}
	case *runtime.EventConsoleAPICalled:
		var args []string
		for _, arg := range ev.Args {
			if arg.Value != nil {
				args = append(args, string(arg.Value))
			}
		}
		p.logger.Debug("console", "type", ev.Type, "message", strings.Join(args, " "))
	}
}

func (p *chromePage) fulfil(ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return
	}
	exec := cdp.WithExecutor(p.ctx, c.Target)

	rec, err := recordPaused(ev.Request)
	if err != nil || p.boot.Network == nil {
		_ = fetch.ContinueRequest(ev.RequestID).Do(exec)
		return
	}
	ex, ok, err := p.boot.Network.Intercept(p.ctx, rec)
	if err != nil {
		p.logger.Warn("interception failed", "path", rec.Path, "err", err)
	}
	if !ok || err != nil {
		if err := fetch.ContinueRequest(ev.RequestID).Do(exec); err != nil {
			p.logger.Debug("continue request failed", "url", ev.Request.URL, "err", err)
		}
		return
	}

	headers := make([]*fetch.HeaderEntry, 0, len(ex.Response.Header))
	for name, values := range ex.Response.Header {
		for _, v := range values {
			headers = append(headers, &fetch.HeaderEntry{Name: name, Value: v})
		}
	}
	p.logger.Debug("fulfilled", "alias", ex.Alias, "method", rec.Method, "path", rec.Path, "status", ex.Response.StatusCode)
	err = fetch.FulfillRequest(ev.RequestID, int64(ex.Response.StatusCode)).
		WithResponseHeaders(headers).
		WithBody(base64.StdEncoding.EncodeToString(ex.Response.Body)).
		Do(exec)
	if err != nil {
		p.logger.Warn("fulfil request failed", "alias", ex.Alias, "err", err)
	}
}

func recordPaused(req *network.Request) (intercept.RecordedRequest, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return intercept.RecordedRequest{}, err
	}
	rec := intercept.RecordedRequest{
		Method: req.Method,
		Path:   u.Path,
		Query:  u.RawQuery,
		Header: http.Header{},
	}
	for k, v := range req.Headers {
		rec.Header.Set(k, fmt.Sprint(v))
	}
	for _, entry := range req.PostDataEntries {
		if entry == nil {
			continue
		}
		if data, err := base64.StdEncoding.DecodeString(entry.Bytes); err == nil {
			rec.Body = append(rec.Body, data...)
		} else {
			rec.Body = append(rec.Body, entry.Bytes...)
		}
	}
	return rec, nil
}

func (p *chromePage) bridge(payload string) {
	if p.boot.Wallet == nil {
		return
	}
	reply := p.boot.Wallet.HandleBridgeCall(p.ctx, payload)
	script, err := wallet.SettleScript(reply)
	if err != nil {
		p.logger.Warn("wallet bridge reply failed", "err", err)
		return
	}
	if err := chromedp.Run(p.ctx, chromedp.Evaluate(script, nil)); err != nil {
		p.logger.Warn("wallet bridge settle failed", "err", err)
	}
}

func (p *chromePage) Navigate(ctx context.Context, rawURL string) error {
	runCtx, cancel := p.scoped(ctx)
	defer cancel()
	start := time.Now()
	err := chromedp.Run(runCtx, chromedp.Navigate(rawURL), chromedp.WaitReady("body", chromedp.ByQuery))
	p.logger.Debug("navigate", "url", rawURL, "elapsed", time.Since(start), "err", err)
	return err
}

// locator is the JSON shape the locate script understands.
type locator struct {
	CSS    string   `json:"css"`
	Text   string   `json:"text,omitempty"`
	Index  int      `json:"index"`
	Within *locator `json:"within,omitempty"`
}

func toLocator(t Target) *locator {
	l := &locator{CSS: t.CSS(), Text: t.Text, Index: t.Index}
	if t.Within != nil {
		l.Within = toLocator(*t.Within)
	}
	return l
}

const locateScript = `(() => {
  const find = (root, t) => {
    let scope = root;
    if (t.within) {
      scope = find(root, t.within);
      if (!scope) return null;
    }
    let nodes = Array.from(scope.querySelectorAll(t.css));
    if (t.text) nodes = nodes.filter((n) => (n.innerText || n.textContent || '').includes(t.text));
    return nodes[t.index || 0] || null;
  };
  const el = find(document, %s);
  if (!el) return '';
  const mark = 'm' + Math.random().toString(36).slice(2);
  el.setAttribute(%q, mark);
  return mark;
})()`

// locate marks the element t resolves to and returns a unique selector for it.
func (p *chromePage) locate(ctx context.Context, t Target) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	spec, err := json.Marshal(toLocator(t))
	if err != nil {
		return "", err
	}
	var mark string
	if err := chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(locateScript, spec, markerAttr), &mark)); err != nil {
		return "", err
	}
	if mark == "" {
		return "", &NotFoundError{Target: t}
	}
	return fmt.Sprintf("[%s=%q]", markerAttr, mark), nil
}

func (p *chromePage) Click(ctx context.Context, t Target) error {
	runCtx, cancel := p.scoped(ctx)
	defer cancel()
	sel, err := p.locate(runCtx, t)
	if err != nil {
		return err
	}
	return chromedp.Run(runCtx,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	)
}

func (p *chromePage) Type(ctx context.Context, t Target, text string) error {
	runCtx, cancel := p.scoped(ctx)
	defer cancel()
	sel, err := p.locate(runCtx, t)
	if err != nil {
		return err
	}
	return chromedp.Run(runCtx,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	)
}

const selectScript = `(() => {
  const el = document.querySelector(%q);
  if (!el) return false;
  const setter = Object.getOwnPropertyDescriptor(HTMLSelectElement.prototype, 'value').set;
  setter.call(el, %q);
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return el.value === %[2]q;
})()`

func (p *chromePage) Select(ctx context.Context, t Target, value string) error {
	runCtx, cancel := p.scoped(ctx)
	defer cancel()
	sel, err := p.locate(runCtx, t)
	if err != nil {
		return err
	}
	var ok bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(fmt.Sprintf(selectScript, sel, value), &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("option %q not available in %s", value, t)
	}
	return nil
}

func (p *chromePage) Check(ctx context.Context, t Target) error {
	return p.Click(ctx, t)
}

const queryScript = `Array.from(document.querySelectorAll(%q)).map((el) => {
  const r = el.getBoundingClientRect();
  const st = window.getComputedStyle(el);
  const attrs = {};
  for (const a of Array.from(el.attributes)) attrs[a.name] = a.value;
  return {
    tag: el.tagName.toLowerCase(),
    text: (el.innerText || el.textContent || '').trim(),
    visible: r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none',
    classes: Array.from(el.classList),
    attrs,
  };
})`

func (p *chromePage) Query(ctx context.Context, selector string) ([]Element, error) {
	runCtx, cancel := p.scoped(ctx)
	defer cancel()
	var out []Element
	if err := chromedp.Run(runCtx, chromedp.Evaluate(fmt.Sprintf(queryScript, selector), &out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	runCtx, cancel := p.scoped(ctx)
	defer cancel()
	var loc string
	err := chromedp.Run(runCtx, chromedp.Location(&loc))
	return loc, err
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	runCtx, cancel := p.scoped(ctx)
	defer cancel()
	var buf []byte
	err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	runCtx, cancel := p.scoped(ctx)
	defer cancel()
	var html string
	err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html))
	return html, err
}
