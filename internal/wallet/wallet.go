// Package wallet implements a scriptable stand-in for a browser wallet
// provider (Phantom-style window.solana). Every operation resolves or rejects
// according to the Outcome configured for it, and the provider tracks the
// connection state machine the harness observes:
//
//	Disconnected --connect--> Connecting --resolve--> Connected
//	                          Connecting --reject---> ConnectionFailed
//	Connected --disconnect--> Disconnected
//
// ConnectionFailed is terminal for the scenario that owns the provider.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Defaults used when Options leave a field empty.
const (
	DefaultAddress          = "mockWalletAddress123"
	DefaultTxSignature      = "mockSignature"
	DefaultMessageSignature = "mockMessageSignature"
)

var (
	// ErrNotConnected is returned by signing operations without a session.
	ErrNotConnected = errors.New("wallet not connected")
	// ErrConnectionFailed is returned by connect after a rejected attempt.
	ErrConnectionFailed = errors.New("wallet connection already failed in this scenario")
	// ErrConnectInProgress is returned when connect is called while connecting.
	ErrConnectInProgress = errors.New("wallet connection already in progress")
)

// State is the connection state as observed by the harness.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	ConnectionFailed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ConnectionFailed:
		return "connection_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Method names a provider operation.
type Method string

const (
	MethodConnect         Method = "connect"
	MethodDisconnect      Method = "disconnect"
	MethodSignTransaction Method = "signTransaction"
	MethodSignMessage     Method = "signMessage"
)

// Methods lists every scriptable operation.
var Methods = []Method{MethodConnect, MethodDisconnect, MethodSignTransaction, MethodSignMessage}

// ParseMethod validates a method name.
func ParseMethod(s string) (Method, error) {
	for _, m := range Methods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown wallet method %q", s)
}

// Outcome decides how a single operation settles.
type Outcome struct {
	// Err rejects the operation when non-nil.
	Err error
	// Delay postpones settlement, modelling a user approving in the wallet UI.
	Delay time.Duration
}

// Resolve returns an outcome that succeeds immediately.
func Resolve() Outcome { return Outcome{} }

// Reject returns an outcome that fails with err.
func Reject(err error) Outcome { return Outcome{Err: err} }

// RejectWith returns an outcome that fails with a plain message.
func RejectWith(msg string) Outcome { return Outcome{Err: errors.New(msg)} }

// Rejects reports whether the outcome fails.
func (o Outcome) Rejects() bool { return o.Err != nil }

// RejectedError wraps the configured rejection of a provider operation.
type RejectedError struct {
	Method Method
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("wallet %s rejected: %v", e.Method, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// PublicKey is the connected account's address.
type PublicKey string

func (k PublicKey) String() string { return string(k) }

// Signature is what the provider returns from signing calls.
type Signature struct {
	Signature string `json:"signature"`
}

// Session is the scenario-local wallet session.
type Session struct {
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
}

// Transition records a state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Err  string    `json:"error,omitempty"`
}

// Options configures a Provider.
type Options struct {
	Address          string
	TxSignature      string
	MessageSignature string
	// NotPhantom clears the isPhantom flag exposed to the page.
	NotPhantom bool
	// Keypair switches to real ed25519 signatures; Address is derived from it.
	Keypair *Keypair
}

// Provider is a scriptable wallet. It is safe for concurrent use.
type Provider struct {
	mu          sync.Mutex
	opts        Options
	state       State
	session     Session
	outcomes    map[Method]Outcome
	calls       map[Method]int
	transitions []Transition
	now         func() time.Time
}

// New creates a provider in the Disconnected state with every operation
// configured to resolve.
func New(opts Options) *Provider {
	if opts.Keypair != nil {
		opts.Address = opts.Keypair.Address()
	}
	if opts.Address == "" {
		opts.Address = DefaultAddress
	}
	if opts.TxSignature == "" {
		opts.TxSignature = DefaultTxSignature
	}
	if opts.MessageSignature == "" {
		opts.MessageSignature = DefaultMessageSignature
	}
	return &Provider{
		opts:     opts,
		outcomes: make(map[Method]Outcome),
		calls:    make(map[Method]int),
		now:      time.Now,
	}
}

// Address is the address connect resolves with.
func (p *Provider) Address() string { return p.opts.Address }

// IsPhantom mirrors window.solana.isPhantom.
func (p *Provider) IsPhantom() bool { return !p.opts.NotPhantom }

// On reconfigures how method settles from now on.
func (p *Provider) On(method Method, out Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes[method] = out
}

// OnConnect is shorthand for On(MethodConnect, out).
func (p *Provider) OnConnect(out Outcome) { p.On(MethodConnect, out) }

func (p *Provider) OnDisconnect(out Outcome)      { p.On(MethodDisconnect, out) }
func (p *Provider) OnSignTransaction(out Outcome) { p.On(MethodSignTransaction, out) }
func (p *Provider) OnSignMessage(out Outcome)     { p.On(MethodSignMessage, out) }

// State returns the current connection state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Session returns a copy of the current session.
func (p *Provider) Session() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Calls returns how many times method was invoked.
func (p *Provider) Calls(method Method) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// Transitions returns the state changes so far, oldest first.
func (p *Provider) Transitions() []Transition {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Transition, len(p.transitions))
	copy(out, p.transitions)
	return out
}

// Connect requests a session.
func (p *Provider) Connect(ctx context.Context) (PublicKey, error) {
	p.mu.Lock()
	p.calls[MethodConnect]++
	switch p.state {
	case Connected:
		addr := p.session.Address
		p.mu.Unlock()
		return PublicKey(addr), nil
	case ConnectionFailed:
		p.mu.Unlock()
		return "", ErrConnectionFailed
	case Connecting:
		p.mu.Unlock()
		return "", ErrConnectInProgress
	}
	p.transition(Connecting, nil)
	out := p.outcomes[MethodConnect]
	p.mu.Unlock()

	err := settle(ctx, out)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.session = Session{}
		p.transition(ConnectionFailed, err)
		return "", &RejectedError{Method: MethodConnect, Err: err}
	}
	p.session = Session{Address: p.opts.Address, Connected: true}
	p.transition(Connected, nil)
	return PublicKey(p.opts.Address), nil
}

// Disconnect ends the session. It is a no-op unless connected.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	p.calls[MethodDisconnect]++
	out := p.outcomes[MethodDisconnect]
	p.mu.Unlock()

	if err := settle(ctx, out); err != nil {
		return &RejectedError{Method: MethodDisconnect, Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Connected {
		p.session = Session{}
		p.transition(Disconnected, nil)
	}
	return nil
}

// SignTransaction signs tx with the session account.
func (p *Provider) SignTransaction(ctx context.Context, tx []byte) (Signature, error) {
	return p.sign(ctx, MethodSignTransaction, tx, p.opts.TxSignature)
}

// SignMessage signs msg with the session account.
func (p *Provider) SignMessage(ctx context.Context, msg []byte) (Signature, error) {
	return p.sign(ctx, MethodSignMessage, msg, p.opts.MessageSignature)
}

func (p *Provider) sign(ctx context.Context, method Method, data []byte, placeholder string) (Signature, error) {
	p.mu.Lock()
	p.calls[method]++
	connected := p.state == Connected
	out := p.outcomes[method]
	p.mu.Unlock()

	if !connected {
		return Signature{}, ErrNotConnected
	}
	if err := settle(ctx, out); err != nil {
		return Signature{}, &RejectedError{Method: method, Err: err}
	}
	if p.opts.Keypair != nil {
		return Signature{Signature: p.opts.Keypair.Sign(data)}, nil
	}
	return Signature{Signature: placeholder}, nil
}

// transition must be called with p.mu held.
func (p *Provider) transition(to State, err error) {
	t := Transition{From: p.state, To: to, At: p.now()}
	if err != nil {
		t.Err = err.Error()
	}
	p.transitions = append(p.transitions, t)
	p.state = to
}

func settle(ctx context.Context, out Outcome) error {
	if out.Delay > 0 {
		timer := time.NewTimer(out.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}
	return out.Err
}
