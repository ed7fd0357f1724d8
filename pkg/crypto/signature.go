package crypto

import (
	"crypto/ed25519"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/forgelabs/forgecore/pkg/types"
)

// SignatureSize is the length in bytes of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// Signer signs messages with a validator's Ed25519 private key.
type Signer interface {
	// Sign produces a signature over an arbitrary-length message.
	Sign(message []byte) []byte
	// Public returns the signer's public key.
	Public() types.Pubkey
}

// PrivateKey wraps an Ed25519 private key for block and vote signing.
type PrivateKey struct {
	key ed25519.PrivateKey
	pub types.Pubkey
}

// GenerateKey creates a new random Ed25519 keypair.
func GenerateKey() (*PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	p, err := types.PubkeyFromBytes(pub)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: priv, pub: p}, nil
}

// PrivateKeyFromSeed derives a deterministic Ed25519 keypair from a 32-byte
// seed, such as the first 32 bytes of SeedFromMnemonic's output.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub, err := types.PubkeyFromBytes(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: priv, pub: pub}, nil
}

// PrivateKeyFromBytes reconstructs a PrivateKey from a 64-byte Ed25519
// expanded private key (seed || public key).
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	priv := ed25519.PrivateKey(append([]byte(nil), b...))
	pub, err := types.PubkeyFromBytes(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: priv, pub: pub}, nil
}

// Sign produces an Ed25519 signature over message.
func (pk *PrivateKey) Sign(message []byte) []byte {
	return ed25519.Sign(pk.key, message)
}

// Public returns the 32-byte public key.
func (pk *PrivateKey) Public() types.Pubkey {
	return pk.pub
}

// Bytes returns the 64-byte expanded private key (seed || public key).
func (pk *PrivateKey) Bytes() []byte {
	return append([]byte(nil), pk.key...)
}

// Verify checks an Ed25519 signature against a message and public key.
// Returns false for any malformed input rather than panicking.
func Verify(pub types.Pubkey, message, signature []byte) bool {
	if len(signature) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub.Bytes()), message, signature)
}

// HasPrivateKey reports whether pub lies on the Ed25519 curve, i.e. whether
// a private key could exist that pairs with it. Program-derived addresses
// produced by Derive are constructed to fail this check, so no key can
// sign for them.
func HasPrivateKey(pub types.Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(pub.Bytes())
	return err == nil
}

// Derive deterministically generates a pubkey off the Ed25519 curve from a
// list of seed byte strings, analogous to a program-derived
// address: SHA3-256(seeds... || little-endian bump), incrementing bump
// until the result does not lie on the curve, so no private key can ever
// sign for it.
func Derive(seeds ...[]byte) types.Pubkey {
	var bump uint32
	for {
		bumpBytes := []byte{byte(bump), byte(bump >> 8), byte(bump >> 16), byte(bump >> 24)}
		h := HashAll(append(append([][]byte{}, seeds...), bumpBytes)...)
		candidate := types.Pubkey(h)
		if !HasPrivateKey(candidate) {
			return candidate
		}
		bump++
	}
}
