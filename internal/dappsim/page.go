// Package dappsim is an in-process model of the Ontora front-end. It
// implements browser.Page so scenarios can run without Chrome: views are
// rendered from state on every query, clicks run their handlers, and API
// calls go through the scenario's interception layer.
package dappsim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"

	"github.com/Dicklesworthstone/dappcheck/internal/browser"
	"github.com/Dicklesworthstone/dappcheck/internal/logging"
	"github.com/Dicklesworthstone/dappcheck/internal/ontora"
	"github.com/Dicklesworthstone/dappcheck/internal/wallet"
)

// DriverName is what Driver.Name reports.
const DriverName = "sim"

// Driver opens simulated pages.
type Driver struct {
	Fixtures ontora.Fixtures
}

// NewDriver returns a driver seeded with fx.
func NewDriver(fx ontora.Fixtures) *Driver {
	return &Driver{Fixtures: fx}
}

func (d *Driver) Name() string { return DriverName }

// Open creates a page bound to the bootstrap's wallet and network layer.
func (d *Driver) Open(ctx context.Context, boot browser.Bootstrap) (browser.Page, func(), error) {
	if boot.Wallet == nil {
		return nil, nil, errors.New("sim driver: bootstrap has no wallet")
	}
	if boot.Network == nil {
		return nil, nil, errors.New("sim driver: bootstrap has no network layer")
	}
	base, err := url.Parse(boot.BaseURL)
	if err != nil || base.Host == "" {
		return nil, nil, fmt.Errorf("sim driver: invalid base url %q", boot.BaseURL)
	}
	logger := boot.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	pctx, cancel := context.WithCancel(ctx)
	p := &Page{
		fixtures: d.Fixtures,
		base:     base,
		wallet:   boot.Wallet,
		client:   boot.Network.Client(),
		logger:   logger.WithPrefix(DriverName),
		ctx:      pctx,
		cancel:   cancel,
	}
	return p, p.close, nil
}

// Page is one simulated browsing context.
type Page struct {
	mu       sync.Mutex
	st       state
	closed   bool
	fixtures ontora.Fixtures
	base     *url.URL
	wallet   *wallet.Provider
	client   *http.Client
	logger   *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (p *Page) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}

// Navigate loads url, discarding all view state as a full page load would.
func (p *Page) Navigate(ctx context.Context, raw string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u, err := p.base.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	if u.Host != p.base.Host {
		return fmt.Errorf("sim driver only serves %s, not %s", p.base.Host, u.Host)
	}
	route := u.Path
	if route == "" {
		route = ontora.RouteHome
	}
	p.mu.Lock()
	p.st = freshState(p.fixtures, route)
	p.mu.Unlock()
	p.logger.Debug("navigated", "path", route)
	return nil
}

// URL returns the current location.
func (p *Page) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.st.loaded {
		return "about:blank", nil
	}
	return p.base.Scheme + "://" + p.base.Host + p.st.path, nil
}

// Query renders the current view and returns the elements matching sel.
func (p *Page) Query(ctx context.Context, sel string) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parsed, err := parseSelector(sel)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	nodes := queryAll(p.render(), parsed)
	out := make([]browser.Element, len(nodes))
	for i, n := range nodes {
		out[i] = n.element()
	}
	return out, nil
}

func (p *Page) find(ctx context.Context, target browser.Target) (*node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return locate(p.render(), target)
}

// Click runs the handler of the target. Clicking a radio or checkbox checks it.
func (p *Page) Click(ctx context.Context, target browser.Target) error {
	p.mu.Lock()
	n, err := p.find(ctx, target)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if n.tag == "input" && isCheckable(n) {
		p.check(n)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.logger.Debug("click", "target", target.String())
	if n.onClick != nil {
		n.onClick()
	}
	return nil
}

// Type appends text to an input or textarea.
func (p *Page) Type(ctx context.Context, target browser.Target, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.find(ctx, target)
	if err != nil {
		return err
	}
	name := n.attrs["name"]
	if (n.tag != "input" && n.tag != "textarea") || isCheckable(n) || name == "" {
		return fmt.Errorf("cannot type into <%s> %s", n.tag, target)
	}
	p.st.fields[name] += text
	return nil
}

// Select picks an option of a select element by value.
func (p *Page) Select(ctx context.Context, target browser.Target, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.find(ctx, target)
	if err != nil {
		return err
	}
	if n.tag != "select" {
		return fmt.Errorf("cannot select on <%s> %s", n.tag, target)
	}
	for _, opt := range n.children {
		if opt.attrs["value"] == value {
			p.st.fields[n.attrs["name"]] = value
			return nil
		}
	}
	return fmt.Errorf("select %s has no option %q", target, value)
}

// Check ticks a radio button or checkbox.
func (p *Page) Check(ctx context.Context, target browser.Target) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.find(ctx, target)
	if err != nil {
		return err
	}
	if n.tag != "input" || !isCheckable(n) {
		return fmt.Errorf("cannot check <%s> %s", n.tag, target)
	}
	p.check(n)
	return nil
}

func isCheckable(n *node) bool {
	typ := n.attrs["type"]
	return typ == "radio" || typ == "checkbox"
}

// check must be called with p.mu held.
func (p *Page) check(n *node) {
	value := n.attrs["value"]
	if n.attrs["type"] == "checkbox" && value == "" {
		value = "on"
	}
	p.st.fields[n.attrs["name"]] = value
}

// Screenshot is not available without a browser; it returns no image.
func (p *Page) Screenshot(context.Context) ([]byte, error) { return nil, nil }

// HTML serializes the rendered view.
func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var b strings.Builder
	writeHTML(&b, p.render(), 0)
	return b.String(), nil
}

func writeHTML(b *strings.Builder, n *node, depth int) {
	indent := strings.Repeat("  ", depth)
	b.WriteString(indent + "<" + n.tag)
	if len(n.classes) > 0 {
		fmt.Fprintf(b, ` class="%s"`, html.EscapeString(strings.Join(n.classes, " ")))
	}
	keys := make([]string, 0, len(n.attrs))
	for k := range n.attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(b, ` %s="%s"`, k, html.EscapeString(n.attrs[k]))
	}
	b.WriteString(">")
	if n.text != "" {
		b.WriteString(html.EscapeString(n.text))
	}
	if len(n.children) > 0 {
		b.WriteString("\n")
		for _, c := range n.children {
			writeHTML(b, c, depth+1)
		}
		b.WriteString(indent)
	}
	b.WriteString("</" + n.tag + ">\n")
}

// update mutates state under the page lock.
func (p *Page) update(fn func(s *state)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.st)
}

func (p *Page) snapshot() state {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.st
	s.fields = make(map[string]string, len(p.st.fields))
	for k, v := range p.st.fields {
		s.fields[k] = v
	}
	return s
}

// async runs fn in the background for the lifetime of the page.
func (p *Page) async(name string, fn func(ctx context.Context)) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()
	go func() {
		defer p.wg.Done()
		p.logger.Debug("async start", "task", name)
		fn(p.ctx)
	}()
}

func (p *Page) succeed(text string) {
	p.update(func(s *state) { s.note = &notice{text: text} })
}

func (p *Page) fail(prefix string, err error) {
	text := prefix
	if err != nil {
		text += ": " + err.Error()
	}
	p.logger.Debug("error notification", "text", text)
	p.update(func(s *state) { s.note = &notice{text: text, isError: true} })
}

func (p *Page) navigateTo(route string) {
	p.update(func(s *state) { s.path = route })
}

func (p *Page) openProposalForm() { p.update(func(s *state) { s.creating = true }) }

func (p *Page) openVoteForm(id string) {
	p.update(func(s *state) {
		s.voting = id
		delete(s.fields, ontora.FieldVoteChoice)
	})
}

func (p *Page) toggleAdvanced() { p.update(func(s *state) { s.advanced = !s.advanced }) }

var errWalletRequired = errors.New(ontora.TextWalletRequired)

func (p *Page) connect() {
	p.async("connect", func(ctx context.Context) {
		key, err := p.wallet.Connect(ctx)
		if err != nil {
			p.update(func(s *state) {
				s.connected = false
				s.address = ""
			})
			p.fail(ontora.TextConnectFailed, nil)
			return
		}
		p.update(func(s *state) {
			s.connected = true
			s.address = key.String()
		})
	})
}

func (p *Page) disconnect() {
	p.async("disconnect", func(ctx context.Context) {
		if err := p.wallet.Disconnect(ctx); err != nil {
			p.fail("Failed to disconnect wallet", nil)
			return
		}
		p.update(func(s *state) {
			s.connected = false
			s.address = ""
		})
	})
}

func (p *Page) logout() {
	p.async("logout", func(ctx context.Context) {
		if err := p.wallet.Disconnect(ctx); err != nil {
			p.fail("Failed to disconnect wallet", nil)
			return
		}
		p.update(func(s *state) {
			s.connected = false
			s.address = ""
			s.path = ontora.RouteHome
		})
	})
}

func (p *Page) submitProposal() {
	s := p.snapshot()
	if !s.connected {
		p.fail(ontora.TextProposalFailed, errWalletRequired)
		return
	}
	title, desc := s.fields[ontora.FieldTitle], s.fields[ontora.FieldDescription]
	p.async("createProposal", func(ctx context.Context) {
		body, err := p.post(ctx, ontora.EndpointProposal, map[string]string{
			"title":       title,
			"description": desc,
		})
		if err != nil {
			p.fail(ontora.TextProposalFailed, err)
			return
		}
		prop := ontora.Proposal{
			ID:          gjson.GetBytes(body, "proposalId").String(),
			Title:       title,
			Description: desc,
			Status:      gjson.GetBytes(body, "status").String(),
		}
		if prop.Status == "" {
			prop.Status = "Draft"
		}
		p.update(func(s *state) {
			s.proposals = append([]ontora.Proposal{prop}, s.proposals...)
			s.creating = false
			delete(s.fields, ontora.FieldTitle)
			delete(s.fields, ontora.FieldDescription)
			s.note = &notice{text: ontora.TextProposalCreated}
		})
	})
}

func (p *Page) submitVote() {
	s := p.snapshot()
	if !s.connected {
		p.fail(ontora.TextVoteFailed, errWalletRequired)
		return
	}
	id, choice := s.voting, s.fields[ontora.FieldVoteChoice]
	if choice == "" {
		p.fail(ontora.TextVoteFailed, errors.New("choose an option"))
		return
	}
	p.async("submitVote", func(ctx context.Context) {
		body, err := p.post(ctx, ontora.EndpointVote, map[string]string{
			"proposalId": id,
			"choice":     choice,
		})
		if err != nil {
			p.fail(ontora.TextVoteFailed, err)
			return
		}
		recorded := gjson.GetBytes(body, "choice").String()
		if recorded == "" {
			recorded = choice
		}
		p.update(func(s *state) {
			for i := range s.proposals {
				if s.proposals[i].ID == id {
					s.proposals[i].VoteChoice = recorded
				}
			}
			s.voting = ""
			delete(s.fields, ontora.FieldVoteChoice)
			s.note = &notice{text: ontora.TextVoteSubmitted}
		})
	})
}

func (p *Page) deployAgent() {
	s := p.snapshot()
	if !s.connected {
		p.fail(ontora.TextDeployFailed, errWalletRequired)
		return
	}
	agent := ontora.Agent{
		Name:            s.fields[ontora.FieldAgentName],
		ModelType:       s.fields[ontora.FieldModelType],
		TrainingDataRef: s.fields[ontora.FieldTrainingData],
	}
	if agent.Name == "" {
		p.fail(ontora.TextDeployFailed, errors.New("agent name is required"))
		return
	}
	p.async("deployAgent", func(ctx context.Context) {
		body, err := p.post(ctx, ontora.EndpointDeploy, map[string]string{
			"name":         agent.Name,
			"modelType":    agent.ModelType,
			"trainingData": agent.TrainingDataRef,
		})
		if err != nil {
			p.fail(ontora.TextDeployFailed, err)
			return
		}
		agent.ID = gjson.GetBytes(body, "agentId").String()
		agent.Status = gjson.GetBytes(body, "status").String()
		if agent.Status == "" {
			agent.Status = "Deployed"
		}
		p.update(func(s *state) {
			s.agents = append(s.agents, agent)
			delete(s.fields, ontora.FieldAgentName)
			delete(s.fields, ontora.FieldTrainingData)
			s.note = &notice{text: ontora.TextAgentDeployed}
		})
	})
}

// post sends a JSON request to the backend and returns the body of a 2xx
// response. Other statuses become errors carrying the body's "error" field.
func (p *Page) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	target := p.base.JoinPath(endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, errors.New(msg)
	}
	p.logger.Debug("api call", "endpoint", endpoint, "status", resp.StatusCode)
	return body, nil
}
