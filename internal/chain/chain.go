// Package chain aggregates everything that mutates consensus state --
// gossiped blocks and votes, locally produced blocks, replay requests --
// and surfaces the resulting decisions to the validator's main loop as
// typed events.
package chain

import (
	"errors"

	"github.com/forgelabs/forgecore/internal/chainerr"
	"github.com/forgelabs/forgecore/internal/consensus"
	"github.com/forgelabs/forgecore/internal/log"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/types"
	"github.com/forgelabs/forgecore/pkg/vote"
)

// ReplaySource resolves blocks that already left the volatile tree, so
// replay requests can be served for finalized history too.
type ReplaySource interface {
	GetByHash(hash types.Hash) (*block.Produced, block.Commitment, bool, error)
}

// Chain owns the fork tree and orphan cache exclusively; all access is
// from the validator's single event loop, so it carries no locks.
// Operations queue events internally; the loop drains them with
// PollEvent after each call.
type Chain struct {
	genesis  *block.Genesis
	volatile *consensus.VolatileState
	orphans  *consensus.Orphans

	// leaderAt rejects blocks from off-schedule producers; nil skips the
	// check (used by tests that drive the tree directly).
	leaderAt func(slot uint64) types.Pubkey
	replay   ReplaySource
	faults   vote.Detector

	// seenVotes tracks (validator, target height) so a double vote at
	// one height is reported as equivocation evidence.
	seenVotes map[voteSlotKey]vote.Vote

	pending   []Event
	lastVoted types.Hash
}

type voteSlotKey struct {
	validator types.Pubkey
	height    uint64
}

// New assembles the aggregator. leaderAt, replay, and faults may each
// be nil to disable schedule enforcement, finalized-history replay, and
// fault reporting respectively.
func New(genesis *block.Genesis, volatile *consensus.VolatileState, leaderAt func(uint64) types.Pubkey, replay ReplaySource, faults vote.Detector) *Chain {
	if faults == nil {
		faults = vote.NopDetector{}
	}
	return &Chain{
		genesis:   genesis,
		volatile:  volatile,
		orphans:   consensus.NewOrphans(genesis.SlotInterval),
		leaderAt:  leaderAt,
		replay:    replay,
		faults:    faults,
		seenVotes: make(map[voteSlotKey]vote.Vote),
	}
}

// Head returns the current GHOST head and its cascading state.
func (c *Chain) Head() consensus.Head {
	return c.volatile.Head()
}

// Root returns the hash of the latest finalized block.
func (c *Chain) Root() types.Hash {
	return c.volatile.Root()
}

// TotalStake is the finality denominator, for logging vote fractions.
func (c *Chain) TotalStake() uint64 {
	return c.volatile.TotalStake()
}

// PollEvent returns the next queued event, if any.
func (c *Chain) PollEvent() (Event, bool) {
	if len(c.pending) == 0 {
		return nil, false
	}
	ev := c.pending[0]
	c.pending = c.pending[1:]
	return ev, true
}

func (c *Chain) emit(ev Event) {
	c.pending = append(c.pending, ev)
}

// Include digests one block: validates and executes it, attaches it to
// the fork tree (or the orphan cache), counts its embedded votes,
// re-offers any orphans that were waiting for it, then re-evaluates
// finalization and whether to vote on a new head.
func (c *Chain) Include(b *block.Produced) {
	c.include(b)
	c.afterUpdate()
}

func (c *Chain) include(b *block.Produced) {
	if c.leaderAt != nil && c.leaderAt(b.Slot) != b.Signature.Pubkey {
		log.Chain.Warn().
			Stringer("block", b.Hash()).
			Uint64("slot", b.Slot).
			Stringer("producer", b.Signature.Pubkey).
			Err(chainerr.ErrProducerNotScheduled).
			Msg("block rejected")
		return
	}

	node, err := c.volatile.Include(b)
	switch {
	case err == nil:
		// fallthrough below

	case errors.Is(err, chainerr.ErrUnknownParent):
		c.orphans.AddBlock(b)
		return

	case errors.Is(err, chainerr.ErrDuplicateBlock):
		log.Chain.Debug().Stringer("block", b.Hash()).Msg("duplicate block ignored")
		return

	default:
		log.Chain.Warn().Stringer("block", b.Hash()).Err(err).Msg("block rejected")
		return
	}

	c.emit(BlockIncludedEvent{Block: node.Block()})
	if node.Confirmed() {
		c.emit(BlockConfirmedEvent{Block: node.Block(), Votes: node.Votes()})
	}

	for _, v := range b.Votes {
		c.recordVote(v)
	}
	for _, held := range c.orphans.ConsumeVotes(node.Hash()) {
		c.recordVote(held)
	}
	for _, orphan := range c.orphans.ConsumeBlocks(node.Hash()) {
		c.include(orphan)
	}
}

// RecordVote digests one gossiped vote, then re-evaluates finalization
// and head choice.
func (c *Chain) RecordVote(v vote.Vote) {
	c.recordVote(v)
	c.afterUpdate()
}

func (c *Chain) recordVote(v vote.Vote) {
	confirmed, err := c.volatile.RecordVote(v)
	switch {
	case err == nil:

	case errors.Is(err, chainerr.ErrOrphanPending):
		c.orphans.AddVote(v)
		return

	case errors.Is(err, chainerr.ErrVoteNotJustified):
		log.Chain.Debug().Stringer("validator", v.Validator).Msg("vote not justified by root, ignored")
		return

	default:
		log.Chain.Warn().Stringer("validator", v.Validator).Err(err).Msg("vote rejected")
		return
	}

	for _, node := range confirmed {
		c.emit(BlockConfirmedEvent{Block: node.Block(), Votes: node.Votes()})
	}
	c.detectEquivocation(v)
}

// detectEquivocation reports two recorded votes by one validator whose
// targets share a height. Evidence only: remediation is deferred.
func (c *Chain) detectEquivocation(v vote.Vote) {
	target := c.findHeight(v.Target)
	key := voteSlotKey{validator: v.Validator, height: target}
	if prior, seen := c.seenVotes[key]; seen {
		if fault, ok := vote.DetectEquivocation(prior, v, target, target); ok {
			log.Chain.Warn().
				Stringer("validator", v.Validator).
				Uint64("height", target).
				Msg("equivocation detected")
			c.faults.Report(fault)
		}
		return
	}
	c.seenVotes[key] = v
}

func (c *Chain) findHeight(hash types.Hash) uint64 {
	if head := c.volatile.Head(); head.Hash == hash {
		return head.Height
	}
	if node := c.volatile.Find(hash); node != nil {
		return node.Height()
	}
	return 0
}

// TryReplayBlock serves a peer's replay request from the volatile tree
// or, failing that, the finalized block store.
func (c *Chain) TryReplayBlock(hash types.Hash) {
	if node := c.volatile.Find(hash); node != nil {
		c.emit(BlockReplayedEvent{Block: node.Block().Block})
		return
	}
	if c.replay != nil {
		if b, _, ok, err := c.replay.GetByHash(hash); err == nil && ok {
			c.emit(BlockReplayedEvent{Block: b})
			return
		}
	}
	log.Chain.Debug().Stringer("block", hash).Msg("replay requested for unknown block")
}

// Tick runs the periodic maintenance the slot clock drives: orphans
// waiting too long for their parent turn into replay requests.
func (c *Chain) Tick() {
	for _, missing := range c.orphans.MissingBlocks(c.volatile.RootHeight()) {
		c.emit(BlockMissingEvent{Hash: missing})
	}
}

// afterUpdate runs once per digested input: checks finalization,
// prunes stale held votes, and decides whether this validator should
// vote on a newly selected head.
func (c *Chain) afterUpdate() {
	finalizations, err := c.volatile.FinalizeIfReady()
	if err != nil {
		// Fatal by taxonomy: a state-store write failed.
		log.Chain.Fatal().Err(err).Msg("finalization could not persist state")
	}
	for _, f := range finalizations {
		for _, node := range f.Blocks {
			c.emit(BlockFinalizedEvent{Block: node.Block(), Votes: node.Votes()})
		}
	}
	if len(finalizations) > 0 {
		c.orphans.PruneVotes(func(target types.Hash) bool {
			return c.volatile.Contains(target)
		})
	}

	head := c.volatile.Head()
	if head.Node != nil && head.Hash != c.lastVoted {
		c.lastVoted = head.Hash
		c.emit(VoteEvent{Target: head.Hash, Justification: c.volatile.Root()})
	}
}
