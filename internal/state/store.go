package state

import (
	"github.com/forgelabs/forgecore/pkg/account"
	"github.com/forgelabs/forgecore/pkg/types"
)

// Store is the durable sink for finalized diffs -- an external
// collaborator behind a narrow contract; this package only
// depends on the interface, persistence backends live in internal/storage.
type Store interface {
	ReadState
	// Apply persists diff, which must only ever be issued for a block
	// that has just been finalized, in increasing block-height order.
	Apply(diff *StateDiff) error
}

// Finalized pairs the latest finalized block's hash/height with the
// durable store backing it, so the chain aggregator has a single read
// capability to hand out once a block leaves the volatile fork tree.
type Finalized struct {
	Store       Store
	BlockHash   types.Hash
	BlockHeight uint64
}

// Get implements ReadState by delegating straight to the durable store.
func (f *Finalized) Get(pubkey types.Pubkey) (account.Account, bool) {
	return f.Store.Get(pubkey)
}

// Advance merges diff into the store and moves the finalized pointer
// forward. Callers must already have merged every intermediate block's
// diff (oldest first) into diff before calling this, per
// consensus.VolatileState's finalization collapse.
func (f *Finalized) Advance(blockHash types.Hash, blockHeight uint64, diff *StateDiff) error {
	if err := f.Store.Apply(diff); err != nil {
		return err
	}
	f.BlockHash = blockHash
	f.BlockHeight = blockHeight
	return nil
}
