package wallet

import (
	"context"
	"encoding/json"
	"fmt"
)

// SettleFunc is the page-side function that resolves bridged promises.
const SettleFunc = "__dappcheckWalletSettle"

// BridgeCall is the payload the injected window.solana shim sends to Go.
type BridgeCall struct {
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// BridgeReply settles one BridgeCall in the page.
type BridgeReply struct {
	ID    int64  `json:"id"`
	OK    bool   `json:"ok"`
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// InjectionScript returns the script installed before any page script runs.
// It defines window.solana and forwards every call through the runtime
// binding named binding; replies come back through SettleScript.
func (p *Provider) InjectionScript(binding string) string {
	return fmt.Sprintf(`(() => {
  if (window.solana && window.solana.__dappcheck) return;
  const pending = new Map();
  let seq = 0;
  const call = (method, payload) => new Promise((resolve, reject) => {
    const id = ++seq;
    pending.set(id, { resolve, reject });
    window[%[1]q](JSON.stringify({ id, method, payload: payload === undefined ? null : payload }));
  });
  const bytes = (v) => {
    if (v instanceof Uint8Array) return Array.from(v);
    if (v && typeof v.serialize === 'function') return Array.from(v.serialize({ requireAllSignatures: false }));
    return v === undefined ? null : v;
  };
  window[%[2]q] = (reply) => {
    const p = pending.get(reply.id);
    if (!p) return;
    pending.delete(reply.id);
    if (reply.ok) p.resolve(reply.value); else p.reject(new Error(reply.error));
  };
  const wallet = {
    __dappcheck: true,
    isPhantom: %[3]t,
    isConnected: false,
    publicKey: null,
    connect: (opts) => call('connect', opts).then((v) => {
      const key = { toString: () => v.publicKey, toBase58: () => v.publicKey };
      wallet.publicKey = key;
      wallet.isConnected = true;
      return { publicKey: key };
    }),
    disconnect: () => call('disconnect').then(() => {
      wallet.publicKey = null;
      wallet.isConnected = false;
    }),
    signTransaction: (tx) => call('signTransaction', bytes(tx)),
    signMessage: (msg) => call('signMessage', bytes(msg)),
  };
  window.solana = wallet;
})();`, binding, SettleFunc, p.IsPhantom())
}

// SettleScript renders the expression that delivers reply to the page.
func SettleScript(reply BridgeReply) (string, error) {
	data, err := json.Marshal(reply)
	if err != nil {
		return "", fmt.Errorf("marshaling bridge reply: %w", err)
	}
	return fmt.Sprintf("window[%q](%s)", SettleFunc, data), nil
}

// HandleBridgeCall decodes a binding payload, runs the matching provider
// operation and returns the reply to send back to the page.
func (p *Provider) HandleBridgeCall(ctx context.Context, payload string) BridgeReply {
	var call BridgeCall
	if err := json.Unmarshal([]byte(payload), &call); err != nil {
		return BridgeReply{OK: false, Error: fmt.Sprintf("malformed bridge call: %v", err)}
	}
	reply := BridgeReply{ID: call.ID}

	method, err := ParseMethod(call.Method)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}

	switch method {
	case MethodConnect:
		key, err := p.Connect(ctx)
		if err != nil {
			reply.Error = err.Error()
			return reply
		}
		reply.Value = map[string]string{"publicKey": key.String()}
	case MethodDisconnect:
		if err := p.Disconnect(ctx); err != nil {
			reply.Error = err.Error()
			return reply
		}
	case MethodSignTransaction:
		sig, err := p.SignTransaction(ctx, payloadBytes(call.Payload))
		if err != nil {
			reply.Error = err.Error()
			return reply
		}
		reply.Value = sig
	case MethodSignMessage:
		sig, err := p.SignMessage(ctx, payloadBytes(call.Payload))
		if err != nil {
			reply.Error = err.Error()
			return reply
		}
		reply.Value = sig
	}
	reply.OK = true
	return reply
}

// payloadBytes accepts a JSON byte array or a string.
func payloadBytes(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var nums []int
	if err := json.Unmarshal(raw, &nums); err == nil {
		out := make([]byte, len(nums))
		for i, n := range nums {
			out[i] = byte(n)
		}
		return out
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return raw
}
