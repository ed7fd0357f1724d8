// Package consensus maintains the volatile fork tree above the latest
// finalized block: block admission, stake-weighted voting, GHOST head
// selection, and Casper-style checkpoint finalization.
package consensus

import (
	"github.com/forgelabs/forgecore/internal/state"
	"github.com/forgelabs/forgecore/pkg/account"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/types"
)

// Finality constants, applied against the sum of all validator stakes.
// A checkpoint is justified once FinalityThreshold of total stake has
// voted on it or any of its descendants.
const (
	FaultTolerance    = 0.32
	FinalityThreshold = 1.0 - FaultTolerance
)

// TreeNode is one unfinalized block in the fork tree. A parent owns its
// children; the child's parent pointer is a non-owning back-reference
// used for vote propagation and ancestry walks. Children of the tree
// root (the latest finalized block, which is not itself a TreeNode)
// have a nil parent.
type TreeNode struct {
	block     *block.Executed
	hash      types.Hash
	votes     uint64
	voters    map[types.Pubkey]struct{}
	confirmed bool

	parent   *TreeNode
	children []*TreeNode
}

func newTreeNode(executed *block.Executed, producerStake uint64) *TreeNode {
	// Producing a block is an implicit vote on it by its producer.
	return &TreeNode{
		block:  executed,
		hash:   executed.Block.Hash(),
		votes:  producerStake,
		voters: map[types.Pubkey]struct{}{executed.Block.Signature.Pubkey: {}},
	}
}

// Block returns the executed block this node holds.
func (n *TreeNode) Block() *block.Executed { return n.block }

// Hash returns the node's block hash.
func (n *TreeNode) Hash() types.Hash { return n.hash }

// Votes returns the stake accumulated on this node from votes on it and
// its descendants.
func (n *TreeNode) Votes() uint64 { return n.votes }

// Height returns the block's height.
func (n *TreeNode) Height() uint64 { return n.block.Block.Height }

// Confirmed reports whether this node has ever accumulated the
// finality-threshold fraction of stake.
func (n *TreeNode) Confirmed() bool { return n.confirmed }

// find locates hash in this subtree.
func (n *TreeNode) find(hash types.Hash) *TreeNode {
	if n.hash == hash {
		return n
	}
	for _, child := range n.children {
		if found := child.find(hash); found != nil {
			return found
		}
	}
	return nil
}

// addChild links a node below n.
func (n *TreeNode) addChild(child *TreeNode) {
	child.parent = n
	n.children = append(n.children, child)
}

// addVotes credits stake to this node and every ancestor up to the
// root, at most once per voter per node, returning the nodes that
// newly crossed the confirmation threshold.
func (n *TreeNode) addVotes(stake uint64, voter types.Pubkey, totalStake uint64) []*TreeNode {
	var confirmed []*TreeNode
	for node := n; node != nil; node = node.parent {
		if _, dup := node.voters[voter]; dup {
			continue
		}
		node.voters[voter] = struct{}{}
		node.votes += stake
		if !node.confirmed && meetsThreshold(node.votes, totalStake) {
			node.confirmed = true
			confirmed = append(confirmed, node)
		}
	}
	return confirmed
}

// meetsThreshold reports whether votes reaches the finality fraction of
// the total stake.
func meetsThreshold(votes, totalStake uint64) bool {
	return float64(votes) >= FinalityThreshold*float64(totalStake)
}

// maxHeight returns the height of the deepest block in this subtree,
// the GHOST tie-break.
func (n *TreeNode) maxHeight() uint64 {
	h := n.Height()
	for _, child := range n.children {
		if ch := child.maxHeight(); ch > h {
			h = ch
		}
	}
	return h
}

// head walks toward the leaves, at each level descending into the child
// with the most accumulated votes, breaking ties by deeper subtree.
func (n *TreeNode) head() *TreeNode {
	if len(n.children) == 0 {
		return n
	}
	top := n.children[0]
	for _, child := range n.children[1:] {
		if child.votes > top.votes ||
			(child.votes == top.votes && child.maxHeight() > top.maxHeight()) {
			top = child
		}
	}
	return top.head()
}

// isDescendantOf reports whether hash is a proper ancestor of n.
func (n *TreeNode) isDescendantOf(hash types.Hash) bool {
	for node := n.parent; node != nil; node = node.parent {
		if node.hash == hash {
			return true
		}
	}
	return false
}

// pathFromRoot returns the nodes from the tree's top level down to n,
// oldest first.
func (n *TreeNode) pathFromRoot() []*TreeNode {
	var path []*TreeNode
	for node := n; node != nil; node = node.parent {
		path = append(path, node)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// CascadingState is the read-only view of a fork-tree node's state: a
// lazy walk from the node back toward the root, consulting each block's
// diff in turn, falling through to the finalized base on a full miss.
// Writes during execution go to a disjoint StateDiff accumulator, never
// through this view.
type CascadingState struct {
	node *TreeNode
	base state.ReadState
}

// NewCascadingState builds the view for node over the finalized base.
// A nil node views the base alone.
func NewCascadingState(node *TreeNode, base state.ReadState) *CascadingState {
	return &CascadingState{node: node, base: base}
}

// Get implements state.ReadState. The first diff on the node-to-root
// walk that mentions pubkey wins, tombstones included: a deletion in a
// newer block shadows values in every older one.
func (c *CascadingState) Get(pubkey types.Pubkey) (account.Account, bool) {
	for node := c.node; node != nil; node = node.parent {
		diff := node.block.Output.State
		if diff.Deleted(pubkey) {
			return account.Account{}, false
		}
		if acc, ok := diff.Get(pubkey); ok {
			return acc, true
		}
	}
	if c.base == nil {
		return account.Account{}, false
	}
	return c.base.Get(pubkey)
}
