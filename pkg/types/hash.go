package types

import (
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multihash"
)

// HashSize is the length in bytes of a raw SHA3-256 digest.
const HashSize = 32

// MultihashCode is the multicodec for SHA3-256 (0x16) used to frame every
// content hash in this codebase, per the external wire format.
const MultihashCode = multihash.SHA3_256

// Hash is a raw 32-byte SHA3-256 digest. Use Multihash() to obtain the
// framed, self-describing wire form.
type Hash [HashSize]byte

// ZeroHash is the all-zero digest, used as the parent hash of genesis.
var ZeroHash = Hash{}

// HashFromBytes copies b into a Hash, requiring an exact length match.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("hash: want %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Multihash frames the digest as a self-describing multihash byte string
// (varint code || varint length || digest), per the SHA3-256 code 0x16.
func (h Hash) Multihash() []byte {
	mh, err := multihash.Encode(h[:], MultihashCode)
	if err != nil {
		// Encode only fails on bad digest length, which HashSize guarantees
		// can't happen here.
		panic(fmt.Sprintf("hash: multihash encode: %v", err))
	}
	return mh
}

// HashFromMultihash decodes a framed multihash, verifying its code matches
// MultihashCode and its digest is HashSize bytes.
func HashFromMultihash(b []byte) (Hash, error) {
	decoded, err := multihash.Decode(b)
	if err != nil {
		return Hash{}, fmt.Errorf("hash: multihash decode: %w", err)
	}
	if decoded.Code != MultihashCode {
		return Hash{}, fmt.Errorf("hash: unexpected multihash code %d, want %d", decoded.Code, MultihashCode)
	}
	return HashFromBytes(decoded.Digest)
}

func (h Hash) String() string {
	return base58.Encode(h[:])
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hash: %w", err)
	}
	b, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("hash: base58 decode: %w", err)
	}
	decoded, err := HashFromBytes(b)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}
