package state

import (
	"github.com/forgelabs/forgecore/pkg/account"
	"github.com/forgelabs/forgecore/pkg/types"
)

// Overlayed is a read-only view pairing a base ReadState with an overlay
// StateDiff: Get consults the overlay first (including its tombstones,
// which shadow the base) and falls through to base only on a true miss.
// It carries no Set/Delete methods -- writes only ever happen against a
// disjoint StateDiff accumulator during block execution, never through
// this view.
type Overlayed struct {
	base    ReadState
	overlay *StateDiff
}

// NewOverlayed pairs a base read state with an overlay diff.
func NewOverlayed(base ReadState, overlay *StateDiff) *Overlayed {
	return &Overlayed{base: base, overlay: overlay}
}

// Get implements ReadState: overlay hit (set or tombstone) short-circuits
// the base lookup entirely, so a deletion in the overlay correctly hides a
// value still present in base.
func (o *Overlayed) Get(pubkey types.Pubkey) (account.Account, bool) {
	if o.overlay.Deleted(pubkey) {
		return account.Account{}, false
	}
	if acc, ok := o.overlay.Get(pubkey); ok {
		return acc, true
	}
	if o.base == nil {
		return account.Account{}, false
	}
	return o.base.Get(pubkey)
}

// emptyReadState is the ReadState with no entries, used as the base of the
// very first overlay in a chain (genesis's cascading state, for instance).
type emptyReadState struct{}

func (emptyReadState) Get(types.Pubkey) (account.Account, bool) { return account.Account{}, false }

// EmptyReadState returns a ReadState that never holds anything.
func EmptyReadState() ReadState { return emptyReadState{} }
