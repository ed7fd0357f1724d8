// Package crypto provides the cryptographic primitives used by the
// consensus core: content hashing, Ed25519 signing, and validator key
// material derived from a recovery phrase.
package crypto

import (
	"golang.org/x/crypto/sha3"

	"github.com/forgelabs/forgecore/pkg/types"
)

// Hash computes the SHA3-256 digest of data, the digest algorithm fixed by
// the external wire format (multihash code 0x16) for every block, account,
// diff, and vote hash in this codebase.
func Hash(data []byte) types.Hash {
	return types.Hash(sha3.Sum256(data))
}

// HashConcat hashes the concatenation of two digests.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}

// HashAll hashes the concatenation of an arbitrary number of byte slices in
// order, without an intermediate allocation per slice.
func HashAll(parts ...[]byte) types.Hash {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	h.Sum(out[:0])
	return out
}
