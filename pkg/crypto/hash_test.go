package crypto

import (
	"testing"

	"github.com/forgelabs/forgecore/pkg/types"
)

func TestHashDeterministic(t *testing.T) {
	data := []byte("deterministic test input")
	if Hash(data) != Hash(data) {
		t.Error("Hash is not deterministic")
	}
}

func TestHashDifferentInputs(t *testing.T) {
	if Hash([]byte("input A")) == Hash([]byte("input B")) {
		t.Error("different inputs produced the same hash")
	}
}

func TestHashConcatOrderMatters(t *testing.T) {
	a := Hash([]byte("left"))
	b := Hash([]byte("right"))
	if HashConcat(a, b) == HashConcat(b, a) {
		t.Error("HashConcat(a,b) should differ from HashConcat(b,a)")
	}
}

func TestHashConcatEqualsManualConcat(t *testing.T) {
	a := Hash([]byte("left"))
	b := Hash([]byte("right"))

	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	want := Hash(buf[:])

	if got := HashConcat(a, b); got != want {
		t.Errorf("HashConcat = %x, want %x", got, want)
	}
}

func TestHashAllMatchesConcatenation(t *testing.T) {
	parts := [][]byte{[]byte("ab"), []byte("cd"), []byte("ef")}
	var flat []byte
	for _, p := range parts {
		flat = append(flat, p...)
	}
	if got, want := HashAll(parts...), Hash(flat); got != want {
		t.Errorf("HashAll = %x, want %x", got, want)
	}
}

func TestHashNotZero(t *testing.T) {
	if Hash([]byte("anything")) == (types.Hash{}) {
		t.Error("Hash should not produce the zero digest for non-empty input")
	}
}
