// Package types holds the primitive value types shared across the
// consensus core: public keys and content-addressed hashes.
package types

import (
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// PubkeySize is the length in bytes of an Ed25519 public key.
const PubkeySize = 32

// Pubkey identifies a validator, account owner, or contract. It is not
// guaranteed to lie on the Ed25519 curve -- program-derived addresses
// intentionally do not, so that no private key can ever produce them.
type Pubkey [PubkeySize]byte

// ZeroPubkey is the all-zero key reserved for the system built-in.
var ZeroPubkey = Pubkey{}

// PubkeyFromBytes copies b into a Pubkey, requiring an exact length match.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var p Pubkey
	if len(b) != PubkeySize {
		return p, fmt.Errorf("pubkey: want %d bytes, got %d", PubkeySize, len(b))
	}
	copy(p[:], b)
	return p, nil
}

// PubkeyFromBase58 decodes the base58 text form of a public key.
func PubkeyFromBase58(s string) (Pubkey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("pubkey: base58 decode: %w", err)
	}
	return PubkeyFromBytes(b)
}

// String returns the base58 text encoding of the key.
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// Bytes returns the key's raw 32-byte form.
func (p Pubkey) Bytes() []byte {
	return p[:]
}

// IsZero reports whether p is the all-zero key.
func (p Pubkey) IsZero() bool {
	return p == ZeroPubkey
}

// Less gives Pubkey a total order, used to keep iteration over
// pubkey-keyed maps deterministic wherever hashing depends on it.
func (p Pubkey) Less(o Pubkey) bool {
	for i := range p {
		if p[i] != o[i] {
			return p[i] < o[i]
		}
	}
	return false
}

func (p Pubkey) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Pubkey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("pubkey: %w", err)
	}
	decoded, err := PubkeyFromBase58(s)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}
