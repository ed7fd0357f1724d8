package state

import (
	"testing"

	"github.com/forgelabs/forgecore/pkg/account"
	"github.com/forgelabs/forgecore/pkg/types"
)

func TestStateDiffSetGet(t *testing.T) {
	d := NewStateDiff()
	p := types.Pubkey{1}
	d.Set(p, account.Account{Balance: 10})
	got, ok := d.Get(p)
	if !ok || got.Balance != 10 {
		t.Fatalf("Get = %v, %v; want balance 10", got, ok)
	}
}

func TestStateDiffDeleteShadowsSet(t *testing.T) {
	d := NewStateDiff()
	p := types.Pubkey{1}
	d.Set(p, account.Account{Balance: 10})
	d.Delete(p)
	if _, ok := d.Get(p); ok {
		t.Fatal("Get should miss after Delete overwrote the same key's slot")
	}
	if !d.Deleted(p) {
		t.Fatal("Deleted should report true")
	}
}

func TestStateDiffMergeNewerWins(t *testing.T) {
	older := NewStateDiff()
	p := types.Pubkey{1}
	older.Set(p, account.Account{Balance: 1})

	newer := NewStateDiff()
	newer.Set(p, account.Account{Balance: 2})

	merged := older.Merge(newer)
	got, ok := merged.Get(p)
	if !ok || got.Balance != 2 {
		t.Fatalf("merged Get = %v, %v; want balance 2", got, ok)
	}
}

func TestStateDiffMergeDeleteOverridesOlderSet(t *testing.T) {
	older := NewStateDiff()
	p := types.Pubkey{1}
	older.Set(p, account.Account{Balance: 1})

	newer := NewStateDiff()
	newer.Delete(p)

	merged := older.Merge(newer)
	if _, ok := merged.Get(p); ok {
		t.Fatal("merge: newer deletion should override older set")
	}
	if !merged.Deleted(p) {
		t.Fatal("merged diff should carry the tombstone")
	}
}

func TestStateDiffMergePreservesUntouchedKeys(t *testing.T) {
	older := NewStateDiff()
	a, b := types.Pubkey{1}, types.Pubkey{2}
	older.Set(a, account.Account{Balance: 1})

	newer := NewStateDiff()
	newer.Set(b, account.Account{Balance: 2})

	merged := older.Merge(newer)
	if got, ok := merged.Get(a); !ok || got.Balance != 1 {
		t.Fatalf("expected a untouched, got %v %v", got, ok)
	}
	if got, ok := merged.Get(b); !ok || got.Balance != 2 {
		t.Fatalf("expected b from newer, got %v %v", got, ok)
	}
}

func TestStateDiffHashOrderIndependent(t *testing.T) {
	a, b := types.Pubkey{1}, types.Pubkey{2}

	d1 := NewStateDiff()
	d1.Set(a, account.Account{Balance: 1})
	d1.Set(b, account.Account{Balance: 2})

	d2 := NewStateDiff()
	d2.Set(b, account.Account{Balance: 2})
	d2.Set(a, account.Account{Balance: 1})

	if d1.Hash() != d2.Hash() {
		t.Fatal("Hash should not depend on insertion order, only pubkey order")
	}
}

func TestStateDiffHashExcludesTombstones(t *testing.T) {
	a := types.Pubkey{1}

	withTombstone := NewStateDiff()
	withTombstone.Set(a, account.Account{Balance: 1})
	withTombstone.Delete(a)

	empty := NewStateDiff()

	if withTombstone.Hash() != empty.Hash() {
		t.Fatal("a diff with only a tombstone should hash the same as an empty diff")
	}
}

func TestOverlayedReadThrough(t *testing.T) {
	base := NewStateDiff()
	p := types.Pubkey{1}
	base.Set(p, account.Account{Balance: 5})

	overlay := NewStateDiff()
	o := NewOverlayed(base, overlay)

	got, ok := o.Get(p)
	if !ok || got.Balance != 5 {
		t.Fatalf("expected read-through to base, got %v %v", got, ok)
	}
}

func TestOverlayedOverlayShadowsBase(t *testing.T) {
	base := NewStateDiff()
	p := types.Pubkey{1}
	base.Set(p, account.Account{Balance: 5})

	overlay := NewStateDiff()
	overlay.Set(p, account.Account{Balance: 9})
	o := NewOverlayed(base, overlay)

	got, ok := o.Get(p)
	if !ok || got.Balance != 9 {
		t.Fatalf("expected overlay value, got %v %v", got, ok)
	}
}

func TestOverlayedDeleteInOverlayHidesBase(t *testing.T) {
	base := NewStateDiff()
	p := types.Pubkey{1}
	base.Set(p, account.Account{Balance: 5})

	overlay := NewStateDiff()
	overlay.Delete(p)
	o := NewOverlayed(base, overlay)

	if _, ok := o.Get(p); ok {
		t.Fatal("overlay tombstone should hide the base value")
	}
}

func TestOverlayedMiss(t *testing.T) {
	o := NewOverlayed(EmptyReadState(), NewStateDiff())
	if _, ok := o.Get(types.Pubkey{9}); ok {
		t.Fatal("expected miss on an empty overlay over an empty base")
	}
}
