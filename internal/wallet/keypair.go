package wallet

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// Keypair is a deterministic ed25519 account. Addresses and signatures are
// base58 encoded the way Solana wallets present them.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewKeypair derives a keypair from a 32-byte seed.
func NewKeypair(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keypair seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// KeypairFromPhrase hashes phrase into a seed. The same phrase always yields
// the same address, which keeps scenario assertions stable.
func KeypairFromPhrase(phrase string) *Keypair {
	sum := sha256.Sum256([]byte(phrase))
	kp, _ := NewKeypair(sum[:])
	return kp
}

// Address returns the base58 public key.
func (k *Keypair) Address() string {
	return base58.Encode(k.pub)
}

// SecretKey returns the base58 64-byte secret key, in the layout Solana
// wallets export.
func (k *Keypair) SecretKey() string {
	return base58.Encode(k.priv)
}

// Sign returns the base58 ed25519 signature of msg.
func (k *Keypair) Sign(msg []byte) string {
	return base58.Encode(ed25519.Sign(k.priv, msg))
}

// Verify checks a base58 signature against a base58 address.
func Verify(address string, msg []byte, signature string) bool {
	pub := base58.Decode(address)
	sig := base58.Decode(signature)
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}
