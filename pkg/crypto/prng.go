package crypto

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20"

	"github.com/forgelabs/forgecore/pkg/types"
)

// SchedulePRNG is a deterministic byte stream keyed off the genesis hash,
// used by the leader schedule to sample validators without needing a
// cryptographically secure source -- every validator must derive the same
// sequence independently.
type SchedulePRNG struct {
	cipher *chacha20.Cipher
}

// NewSchedulePRNG seeds a ChaCha20 keystream from a genesis hash. The hash
// supplies the key directly; the nonce is fixed at all-zero since the key
// itself is already unique per chain.
func NewSchedulePRNG(genesisHash types.Hash) *SchedulePRNG {
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(genesisHash[:], nonce[:])
	if err != nil {
		// genesisHash is exactly 32 bytes, chacha20.KeySize -- cannot fail.
		panic(fmt.Sprintf("crypto: schedule prng: %v", err))
	}
	return &SchedulePRNG{cipher: c}
}

// Uint64 returns the next 8 bytes of keystream as a little-endian uint64.
func (p *SchedulePRNG) Uint64() uint64 {
	var buf [8]byte
	p.cipher.XORKeyStream(buf[:], buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}

// Float64 returns a uniform value in [0, 1).
func (p *SchedulePRNG) Float64() float64 {
	// 53 bits of precision, matching the mantissa of a float64.
	const mantissaBits = 53
	return float64(p.Uint64()>>(64-mantissaBits)) / float64(uint64(1)<<mantissaBits)
}
