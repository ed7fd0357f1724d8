package types

import (
	"encoding/json"
	"testing"
)

func TestPubkeyBase58RoundTrip(t *testing.T) {
	var p Pubkey
	for i := range p {
		p[i] = byte(i * 7)
	}
	s := p.String()
	got, err := PubkeyFromBase58(s)
	if err != nil {
		t.Fatalf("PubkeyFromBase58: %v", err)
	}
	if got != p {
		t.Fatalf("round trip mismatch: got %x want %x", got, p)
	}
}

func TestPubkeyFromBytesWrongLength(t *testing.T) {
	if _, err := PubkeyFromBytes(make([]byte, 10)); err == nil {
		t.Fatal("expected error for short input")
	}
}

func TestPubkeyJSONRoundTrip(t *testing.T) {
	var p Pubkey
	p[0] = 0xAB
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Pubkey
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != p {
		t.Fatalf("json round trip mismatch: got %x want %x", got, p)
	}
}

func TestHashMultihashRoundTrip(t *testing.T) {
	var h Hash
	for i := range h {
		h[i] = byte(255 - i)
	}
	mh := h.Multihash()
	got, err := HashFromMultihash(mh)
	if err != nil {
		t.Fatalf("HashFromMultihash: %v", err)
	}
	if got != h {
		t.Fatalf("multihash round trip mismatch: got %x want %x", got, h)
	}
}

func TestHashFromMultihashRejectsWrongCode(t *testing.T) {
	// SHA2-256 multihash (code 0x12), same digest length.
	bogus := append([]byte{0x12, 0x20}, make([]byte, 32)...)
	if _, err := HashFromMultihash(bogus); err == nil {
		t.Fatal("expected error for mismatched multihash code")
	}
}

func TestPubkeyLessTotalOrder(t *testing.T) {
	a := Pubkey{1}
	b := Pubkey{2}
	if !a.Less(b) {
		t.Fatal("expected a < b")
	}
	if b.Less(a) {
		t.Fatal("expected !(b < a)")
	}
	if a.Less(a) {
		t.Fatal("expected !(a < a)")
	}
}

func TestIsZero(t *testing.T) {
	if !(Pubkey{}).IsZero() {
		t.Fatal("zero-value Pubkey should be IsZero")
	}
	if !(Hash{}).IsZero() {
		t.Fatal("zero-value Hash should be IsZero")
	}
}
