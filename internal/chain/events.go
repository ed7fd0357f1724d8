package chain

import (
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/types"
)

// Event is what the chain aggregator surfaces to the validator's main
// loop after digesting gossip, produced blocks, and finalization.
type Event interface {
	isEvent()
}

// VoteEvent asks the main loop to sign and gossip a vote: this
// validator has decided to attest the current head.
type VoteEvent struct {
	Target        types.Hash
	Justification types.Hash
}

// BlockMissingEvent reports an orphan whose parent has been absent for
// longer than the replay threshold; the main loop gossips a replay
// request for it.
type BlockMissingEvent struct {
	Hash types.Hash
}

// BlockReplayedEvent carries a block served in response to a peer's
// replay request; the main loop gossips it back out.
type BlockReplayedEvent struct {
	Block *block.Produced
}

// BlockIncludedEvent reports a block admitted to the fork tree.
type BlockIncludedEvent struct {
	Block *block.Executed
}

// BlockConfirmedEvent reports a block whose accumulated descendant
// stake crossed the finality threshold.
type BlockConfirmedEvent struct {
	Block *block.Executed
	Votes uint64
}

// BlockFinalizedEvent reports a block promoted out of the volatile tree
// into the durable store.
type BlockFinalizedEvent struct {
	Block *block.Executed
	Votes uint64
}

func (VoteEvent) isEvent()           {}
func (BlockMissingEvent) isEvent()   {}
func (BlockReplayedEvent) isEvent()  {}
func (BlockIncludedEvent) isEvent()  {}
func (BlockConfirmedEvent) isEvent() {}
func (BlockFinalizedEvent) isEvent() {}
