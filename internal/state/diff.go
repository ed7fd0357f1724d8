// Package state implements the layered account-state model: StateDiff
// accumulators, read-through overlays, and the durable StateStore/Finalized
// contracts the fork tree and VM build on.
package state

import (
	"sort"

	"github.com/forgelabs/forgecore/pkg/account"
	"github.com/forgelabs/forgecore/pkg/crypto"
	"github.com/forgelabs/forgecore/pkg/types"
)

// ReadState is the narrow, read-only capability handed to anything that
// must not mutate state: contract execution reads through it, but all
// writes happen against a disjoint StateDiff accumulator instead.
type ReadState interface {
	Get(pubkey types.Pubkey) (account.Account, bool)
}

// entry is one insertion-ordered slot in a StateDiff: either a set
// (account != nil) or a tombstone (account == nil).
type entry struct {
	pubkey  types.Pubkey
	account *account.Account
}

// StateDiff is an insertion-ordered mapping from Pubkey to either an
// Account (set) or a tombstone (remove). A key appears at most once; a
// later Set or Delete on the same key overwrites its earlier slot in
// place, keeping the original insertion position (this keeps Merge's
// "newer wins" semantics unambiguous without needing per-key timestamps).
type StateDiff struct {
	index   map[types.Pubkey]int
	entries []entry
}

// NewStateDiff returns an empty diff.
func NewStateDiff() *StateDiff {
	return &StateDiff{index: make(map[types.Pubkey]int)}
}

// Set records pubkey's account value, overwriting any existing slot.
func (d *StateDiff) Set(pubkey types.Pubkey, acc account.Account) {
	cloned := acc.Clone()
	if i, ok := d.index[pubkey]; ok {
		d.entries[i] = entry{pubkey: pubkey, account: &cloned}
		return
	}
	d.index[pubkey] = len(d.entries)
	d.entries = append(d.entries, entry{pubkey: pubkey, account: &cloned})
}

// Delete records a tombstone for pubkey, overwriting any existing slot.
func (d *StateDiff) Delete(pubkey types.Pubkey) {
	if i, ok := d.index[pubkey]; ok {
		d.entries[i] = entry{pubkey: pubkey, account: nil}
		return
	}
	d.index[pubkey] = len(d.entries)
	d.entries = append(d.entries, entry{pubkey: pubkey})
}

// Get returns the account set in this diff for pubkey. The second return
// value is false both when the key is absent and when it is tombstoned;
// use Deleted to distinguish the latter.
func (d *StateDiff) Get(pubkey types.Pubkey) (account.Account, bool) {
	i, ok := d.index[pubkey]
	if !ok || d.entries[i].account == nil {
		return account.Account{}, false
	}
	return d.entries[i].account.Clone(), true
}

// Deleted reports whether pubkey carries a tombstone in this diff.
func (d *StateDiff) Deleted(pubkey types.Pubkey) bool {
	i, ok := d.index[pubkey]
	return ok && d.entries[i].account == nil
}

// Has reports whether pubkey has any slot (set or tombstone) in this diff.
func (d *StateDiff) Has(pubkey types.Pubkey) bool {
	_, ok := d.index[pubkey]
	return ok
}

// Len returns the number of distinct keys touched by this diff.
func (d *StateDiff) Len() int {
	return len(d.entries)
}

// Each calls fn once per entry in insertion order; account is nil for a
// tombstone.
func (d *StateDiff) Each(fn func(pubkey types.Pubkey, acc *account.Account)) {
	for _, e := range d.entries {
		fn(e.pubkey, e.account)
	}
}

// Merge combines d (older) with newer, returning a new diff where newer's
// value wins on any key collision -- including a deletion in newer
// overriding a set in d. The result preserves d's insertion order for keys
// only d has, followed by newer's insertion order for keys only it has;
// colliding keys keep d's original position but newer's value, so the
// merge is associative regardless of which side introduced a key first.
func (d *StateDiff) Merge(newer *StateDiff) *StateDiff {
	out := NewStateDiff()
	for _, e := range d.entries {
		if e.account == nil {
			out.Delete(e.pubkey)
		} else {
			out.Set(e.pubkey, *e.account)
		}
	}
	for _, e := range newer.entries {
		if e.account == nil {
			out.Delete(e.pubkey)
		} else {
			out.Set(e.pubkey, *e.account)
		}
	}
	return out
}

// Hash is the SHA3-256 digest over pubkey-sorted (pubkey || account.hash)
// pairs for every set entry; tombstones are excluded, keeping the hash
// consistent with what a StateStore ends up actually holding.
func (d *StateDiff) Hash() types.Hash {
	type sortable struct {
		pubkey types.Pubkey
		acct   account.Account
	}
	sets := make([]sortable, 0, len(d.entries))
	for _, e := range d.entries {
		if e.account != nil {
			sets = append(sets, sortable{pubkey: e.pubkey, acct: *e.account})
		}
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i].pubkey.Less(sets[j].pubkey) })

	parts := make([][]byte, 0, len(sets)*2)
	for _, s := range sets {
		h := s.acct.Hash()
		parts = append(parts, s.pubkey.Bytes(), h.Bytes())
	}
	return crypto.HashAll(parts...)
}
