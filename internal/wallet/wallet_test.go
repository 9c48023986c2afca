package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestProvider_DefaultsResolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := New(Options{})

	if !p.IsPhantom() {
		t.Error("expected isPhantom by default")
	}

	key, err := p.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if key.String() != DefaultAddress {
		t.Errorf("address = %q, want %q", key, DefaultAddress)
	}
	if p.State() != Connected {
		t.Errorf("state = %v, want connected", p.State())
	}

	sig, err := p.SignTransaction(ctx, []byte("tx"))
	if err != nil {
		t.Fatalf("SignTransaction: %v", err)
	}
	if sig.Signature != DefaultTxSignature {
		t.Errorf("tx signature = %q", sig.Signature)
	}
	msig, err := p.SignMessage(ctx, []byte("hello"))
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	if msig.Signature != DefaultMessageSignature {
		t.Errorf("message signature = %q", msig.Signature)
	}
}

func TestProvider_ConnectRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := New(Options{})
	p.OnConnect(RejectWith("Wallet connection failed"))

	_, err := p.Connect(ctx)
	if err == nil {
		t.Fatal("expected connect to fail")
	}
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Method != MethodConnect {
		t.Fatalf("expected RejectedError for connect, got %v", err)
	}
	if p.State() != ConnectionFailed {
		t.Errorf("state = %v, want connection_failed", p.State())
	}
	if p.Session().Connected {
		t.Error("session should be cleared after failed connect")
	}

	// Terminal for the scenario: no retry even if the outcome flips back.
	p.OnConnect(Resolve())
	if _, err := p.Connect(ctx); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("second connect err = %v, want ErrConnectionFailed", err)
	}
	if got := p.Calls(MethodConnect); got != 2 {
		t.Errorf("connect calls = %d, want 2", got)
	}
}

func TestProvider_DisconnectClearsSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := New(Options{Address: "addr-1"})

	if _, err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := p.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if p.State() != Disconnected {
		t.Errorf("state = %v", p.State())
	}
	if p.Session() != (Session{}) {
		t.Errorf("session = %+v, want empty", p.Session())
	}

	want := []State{Connecting, Connected, Disconnected}
	got := p.Transitions()
	if len(got) != len(want) {
		t.Fatalf("transitions = %d, want %d", len(got), len(want))
	}
	for i, tr := range got {
		if tr.To != want[i] {
			t.Errorf("transition %d to %v, want %v", i, tr.To, want[i])
		}
	}
}

func TestProvider_SignRequiresSession(t *testing.T) {
	t.Parallel()
	p := New(Options{})
	if _, err := p.SignMessage(context.Background(), []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestProvider_DelayHonorsContext(t *testing.T) {
	t.Parallel()
	p := New(Options{})
	p.OnConnect(Outcome{Delay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if p.State() != ConnectionFailed {
		t.Errorf("state = %v, want connection_failed", p.State())
	}
}

func TestProvider_ConnectDisconnectParity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cycles := rapid.IntRange(0, 12).Draw(rt, "toggles")
		address := rapid.StringMatching(`[A-Za-z0-9]{8,20}`).Draw(rt, "address")
		ctx := context.Background()
		p := New(Options{Address: address})

		for i := 0; i < cycles; i++ {
			var err error
			if p.State() == Connected {
				err = p.Disconnect(ctx)
			} else {
				_, err = p.Connect(ctx)
			}
			if err != nil {
				rt.Fatalf("toggle %d: %v", i, err)
			}
		}

		s := p.Session()
		if cycles%2 == 0 {
			if s.Connected || p.State() != Disconnected {
				rt.Fatalf("after %d toggles expected disconnected, got %v", cycles, p.State())
			}
			return
		}
		if !s.Connected || s.Address != address {
			rt.Fatalf("after %d toggles expected connected as %q, got %+v", cycles, address, s)
		}
	})
}

func TestKeypair_SignAndVerify(t *testing.T) {
	t.Parallel()
	kp := KeypairFromPhrase("ontora test wallet")
	again := KeypairFromPhrase("ontora test wallet")
	if kp.Address() != again.Address() {
		t.Fatal("phrase-derived address is not deterministic")
	}

	ctx := context.Background()
	p := New(Options{Keypair: kp})
	if p.Address() != kp.Address() {
		t.Errorf("provider address %q, want keypair address", p.Address())
	}
	if _, err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	msg := []byte("vote:prop456:Yes")
	sig, err := p.SignMessage(ctx, msg)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	if !Verify(kp.Address(), msg, sig.Signature) {
		t.Error("signature does not verify")
	}
	if Verify(kp.Address(), []byte("tampered"), sig.Signature) {
		t.Error("signature verified for wrong message")
	}
}

func TestNewKeypair_BadSeed(t *testing.T) {
	t.Parallel()
	if _, err := NewKeypair([]byte("short")); err == nil {
		t.Error("expected error for short seed")
	}
}

func TestHandleBridgeCall(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := New(Options{})

	reply := p.HandleBridgeCall(ctx, `{"id":1,"method":"connect"}`)
	if !reply.OK || reply.ID != 1 {
		t.Fatalf("connect reply = %+v", reply)
	}
	value, _ := json.Marshal(reply.Value)
	if !strings.Contains(string(value), DefaultAddress) {
		t.Errorf("connect value = %s", value)
	}

	reply = p.HandleBridgeCall(ctx, `{"id":2,"method":"signMessage","payload":[104,105]}`)
	if !reply.OK {
		t.Fatalf("signMessage reply = %+v", reply)
	}

	reply = p.HandleBridgeCall(ctx, `{"id":3,"method":"mint"}`)
	if reply.OK || !strings.Contains(reply.Error, "unknown wallet method") {
		t.Errorf("unknown method reply = %+v", reply)
	}

	reply = p.HandleBridgeCall(ctx, `not json`)
	if reply.OK {
		t.Error("expected malformed payload to fail")
	}
}

func TestInjectionScript(t *testing.T) {
	t.Parallel()
	script := New(Options{NotPhantom: true}).InjectionScript("dappcheckWallet")
	for _, want := range []string{`window["dappcheckWallet"]`, "isPhantom: false", "signTransaction", SettleFunc} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q", want)
		}
	}

	settle, err := SettleScript(BridgeReply{ID: 7, OK: true})
	if err != nil {
		t.Fatalf("SettleScript: %v", err)
	}
	if !strings.Contains(settle, `"id":7`) {
		t.Errorf("settle script = %s", settle)
	}
}

func TestPayloadBytes(t *testing.T) {
	t.Parallel()
	if got := string(payloadBytes(json.RawMessage(`"abc"`))); got != "abc" {
		t.Errorf("string payload = %q", got)
	}
	if got := string(payloadBytes(json.RawMessage(`[65,66]`))); got != "AB" {
		t.Errorf("array payload = %q", got)
	}
	if payloadBytes(nil) != nil {
		t.Error("nil payload should stay nil")
	}
}
