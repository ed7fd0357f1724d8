package consensus

import (
	"time"

	"github.com/forgelabs/forgecore/internal/log"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/types"
	"github.com/forgelabs/forgecore/pkg/vote"
)

// orphanNode is one block waiting for its ancestry to arrive, with the
// children that in turn wait on it.
type orphanNode struct {
	at       time.Time
	block    *block.Produced
	children map[types.Hash]*orphanNode
}

func newOrphanNode(b *block.Produced, now time.Time) *orphanNode {
	return &orphanNode{at: now, block: b, children: make(map[types.Hash]*orphanNode)}
}

// maxHeight is the height of the deepest descendant in this orphan
// subtree, used to decide whether the subtree is still relevant to
// consensus.
func (n *orphanNode) maxHeight() uint64 {
	h := n.block.Height
	for _, child := range n.children {
		if ch := child.maxHeight(); ch > h {
			h = ch
		}
	}
	return h
}

// insert places b somewhere in this subtree if it descends from it,
// reporting whether it was taken.
func (n *orphanNode) insert(b *block.Produced, now time.Time) bool {
	if b.Height <= n.block.Height {
		return false
	}
	if b.Parent == n.block.Hash() {
		hash := b.Hash()
		if _, dup := n.children[hash]; !dup {
			n.children[hash] = newOrphanNode(b, now)
		}
		return true
	}
	for _, child := range n.children {
		if child.insert(b, now) {
			return true
		}
	}
	return false
}

// flatten returns the subtree's blocks in breadth-first order, so
// re-offering them to Include in order always finds each parent first.
func (n *orphanNode) flatten() []*block.Produced {
	var out []*block.Produced
	queue := []*orphanNode{n}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		out = append(out, node.block)
		for _, child := range node.children {
			queue = append(queue, child)
		}
	}
	return out
}

// Orphans holds blocks whose parent has not arrived, grouped into small
// trees keyed by the missing parent's hash, plus votes whose target is
// not in the fork tree yet. Subtrees that wait longer than twice the
// slot interval trigger a replay request; subtrees whose deepest block
// falls at or below the finalized root are discarded.
type Orphans struct {
	slot   time.Duration
	blocks map[types.Hash]*orphanNode
	votes  map[types.Hash][]vote.Vote
	now    func() time.Time
}

// NewOrphans sizes the replay timer off the chain's slot interval.
func NewOrphans(slotInterval time.Duration) *Orphans {
	return &Orphans{
		slot:   slotInterval,
		blocks: make(map[types.Hash]*orphanNode),
		votes:  make(map[types.Hash][]vote.Vote),
		now:    time.Now,
	}
}

// AddBlock stores b until its parent arrives. Blocks that extend an
// existing orphan subtree are attached to it; otherwise a new subtree
// is rooted at b, keyed by its missing parent.
func (o *Orphans) AddBlock(b *block.Produced) {
	now := o.now()
	for _, root := range o.blocks {
		if root.insert(b, now) {
			return
		}
	}
	o.blocks[b.Parent] = newOrphanNode(b, now)
	log.Consensus.Warn().
		Stringer("parent", b.Parent).
		Stringer("block", b.Hash()).
		Uint64("height", b.Height).
		Msg("parent not found, block orphaned")
}

// AddVote holds a vote whose target is not in the fork tree yet.
func (o *Orphans) AddVote(v vote.Vote) {
	o.votes[v.Target] = append(o.votes[v.Target], v)
}

// ConsumeBlocks removes and returns the orphan subtree waiting on
// parentHash, flattened breadth-first, or nil if none waits on it.
func (o *Orphans) ConsumeBlocks(parentHash types.Hash) []*block.Produced {
	root, ok := o.blocks[parentHash]
	if !ok {
		return nil
	}
	delete(o.blocks, parentHash)
	return root.flatten()
}

// ConsumeVotes removes and returns the votes held for target.
func (o *Orphans) ConsumeVotes(target types.Hash) []vote.Vote {
	votes := o.votes[target]
	delete(o.votes, target)
	return votes
}

// MissingBlocks returns the parent hashes whose orphan subtrees have
// waited longer than twice the slot interval, resetting each one's
// timer so it is re-requested after another full interval. Subtrees no
// deeper than minRelevantHeight are dropped instead: their branch can
// never attach above the finalized root.
func (o *Orphans) MissingBlocks(minRelevantHeight uint64) []types.Hash {
	threshold := 2 * o.slot
	now := o.now()

	var missing []types.Hash
	for hash, subtree := range o.blocks {
		if subtree.maxHeight() <= minRelevantHeight {
			delete(o.blocks, hash)
			continue
		}
		if now.Sub(subtree.at) >= threshold {
			subtree.at = now
			missing = append(missing, hash)
		}
	}
	return missing
}

// PruneVotes drops held votes whose target can no longer matter: the
// caller passes a predicate for still-relevant targets.
func (o *Orphans) PruneVotes(relevant func(target types.Hash) bool) {
	for target := range o.votes {
		if !relevant(target) {
			delete(o.votes, target)
		}
	}
}
