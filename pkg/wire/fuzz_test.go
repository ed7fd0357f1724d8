package wire

import (
	"testing"

	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/types"
)

// Decoders face attacker-controlled gossip bytes; none may panic, and
// anything that decodes must survive an encode/decode cycle with its
// hash unchanged.

func FuzzDecodeProduced(f *testing.F) {
	f.Add([]byte{})
	f.Add(make([]byte, 32))
	seed := &block.Produced{Parent: types.Hash{1}, StateHash: types.Hash{2}, Height: 3, Slot: 4}
	f.Add(EncodeProduced(seed))

	f.Fuzz(func(t *testing.T, data []byte) {
		decoded, err := DecodeProduced(data)
		if err != nil {
			return
		}
		again, err := DecodeProduced(EncodeProduced(decoded))
		if err != nil {
			t.Fatalf("re-decode of valid block failed: %v", err)
		}
		if again.Hash() != decoded.Hash() {
			t.Fatal("hash changed across encode/decode cycle")
		}
	})
}

func FuzzDecodeVote(f *testing.F) {
	f.Add([]byte{})
	f.Add(make([]byte, types.PubkeySize+2*types.HashSize))

	f.Fuzz(func(t *testing.T, data []byte) {
		v, err := DecodeVote(data)
		if err != nil {
			return
		}
		again, err := DecodeVote(EncodeVote(v))
		if err != nil {
			t.Fatalf("re-decode of valid vote failed: %v", err)
		}
		if again.Hash() != v.Hash() {
			t.Fatal("hash changed across encode/decode cycle")
		}
	})
}

func FuzzDecodeStateDiff(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0, 0, 0, 0, 0, 0, 0, 0})

	f.Fuzz(func(t *testing.T, data []byte) {
		d, err := DecodeStateDiff(data)
		if err != nil {
			return
		}
		again, err := DecodeStateDiff(EncodeStateDiff(d))
		if err != nil {
			t.Fatalf("re-decode of valid diff failed: %v", err)
		}
		if again.Hash() != d.Hash() {
			t.Fatal("hash changed across encode/decode cycle")
		}
	})
}
