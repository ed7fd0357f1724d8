package consensus

import (
	"fmt"

	"github.com/forgelabs/forgecore/internal/chainerr"
	"github.com/forgelabs/forgecore/internal/log"
	"github.com/forgelabs/forgecore/internal/state"
	"github.com/forgelabs/forgecore/internal/vm"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/types"
	"github.com/forgelabs/forgecore/pkg/vote"
)

// Head is what GHOST selection hands back: the canonical tip's identity
// and a read view of its cascading state. Node is nil when the tree is
// empty and the head is the finalized root itself.
type Head struct {
	State  state.ReadState
	Hash   types.Hash
	Height uint64
	Node   *TreeNode
}

// Finalization describes one finalize_if_ready outcome: the blocks
// promoted out of the volatile tree, oldest first.
type Finalization struct {
	Blocks []*TreeNode
}

// VolatileState is the fork tree rooted at the latest finalized block.
// Every candidate chain above the root lives here until finalization
// collapses one branch into the durable store and prunes the rest.
type VolatileState struct {
	genesis   *block.Genesis
	machine   *vm.Machine
	finalized *state.Finalized

	root       types.Hash
	rootHeight uint64
	forest     []*TreeNode

	stakes     map[types.Pubkey]uint64
	totalStake uint64
}

// NewVolatileState roots an empty fork tree at the latest finalized
// block recorded in finalized.
func NewVolatileState(genesis *block.Genesis, machine *vm.Machine, finalized *state.Finalized) *VolatileState {
	stakes := make(map[types.Pubkey]uint64, len(genesis.Validators))
	for _, v := range genesis.Validators {
		stakes[v.Pubkey] = v.Stake
	}
	return &VolatileState{
		genesis:    genesis,
		machine:    machine,
		finalized:  finalized,
		root:       finalized.BlockHash,
		rootHeight: finalized.BlockHeight,
		stakes:     stakes,
		totalStake: genesis.TotalStake(),
	}
}

// Root returns the hash of the latest finalized block the tree is
// rooted at.
func (s *VolatileState) Root() types.Hash { return s.root }

// RootHeight returns the root block's height.
func (s *VolatileState) RootHeight() uint64 { return s.rootHeight }

// TotalStake is the finality denominator: the sum of every genesis
// validator's stake.
func (s *VolatileState) TotalStake() uint64 { return s.totalStake }

// Stake returns a validator's genesis stake, zero for unknown keys.
func (s *VolatileState) Stake(validator types.Pubkey) uint64 {
	return s.stakes[validator]
}

// find locates a block hash anywhere in the fork tree.
func (s *VolatileState) find(hash types.Hash) *TreeNode {
	for _, tree := range s.forest {
		if node := tree.find(hash); node != nil {
			return node
		}
	}
	return nil
}

// Find returns the tree node holding hash, nil when absent.
func (s *VolatileState) Find(hash types.Hash) *TreeNode {
	return s.find(hash)
}

// Contains reports whether hash is the root or any tree node.
func (s *VolatileState) Contains(hash types.Hash) bool {
	return hash == s.root || s.find(hash) != nil
}

// Include validates and executes b, inserting it as a child of its
// parent. The producer's signature must verify, the parent must be in
// the tree (chainerr.ErrUnknownParent otherwise -- callers route those
// to the orphan cache), the height must be dense, and executing the
// payload against the parent's cascading state must reproduce the
// declared state hash exactly.
func (s *VolatileState) Include(b *block.Produced) (*TreeNode, error) {
	hash := b.Hash()
	if s.Contains(hash) {
		return nil, chainerr.ErrDuplicateBlock
	}
	if !b.VerifySignature() {
		return nil, chainerr.ErrBadSignature
	}
	producerStake, known := s.stakes[b.Signature.Pubkey]
	if !known {
		return nil, fmt.Errorf("%w: producer %s", chainerr.ErrUnknownVoter, b.Signature.Pubkey)
	}
	if s.genesis.MaxBlockTxs > 0 && uint64(len(b.Payload.Transactions)) > s.genesis.MaxBlockTxs {
		return nil, fmt.Errorf("%w: %d transactions", chainerr.ErrLimitExceeded, len(b.Payload.Transactions))
	}
	if s.genesis.MaxBlockSize > 0 && uint64(b.Payload.Size()) > s.genesis.MaxBlockSize {
		return nil, fmt.Errorf("%w: payload bytes", chainerr.ErrLimitExceeded)
	}

	var parentNode *TreeNode
	var wantHeight uint64
	if b.Parent == s.root {
		wantHeight = s.rootHeight + 1
	} else {
		parentNode = s.find(b.Parent)
		if parentNode == nil {
			return nil, chainerr.ErrUnknownParent
		}
		wantHeight = parentNode.Height() + 1
	}
	if b.Height != wantHeight {
		return nil, fmt.Errorf("consensus: block height %d not dense under parent at %d", b.Height, wantHeight-1)
	}

	base := NewCascadingState(parentNode, s.finalized)
	output := s.machine.Execute(base, b)
	if output.Hash() != b.StateHash {
		return nil, chainerr.ErrStateHashMismatch
	}

	node := newTreeNode(&block.Executed{Block: b, Output: output}, producerStake)
	if parentNode == nil {
		s.forest = append(s.forest, node)
	} else {
		parentNode.addChild(node)
	}
	// A lone whale producer can cross the confirmation threshold on its
	// own implicit vote.
	if meetsThreshold(node.votes, s.totalStake) {
		node.confirmed = true
	}

	log.Consensus.Debug().
		Stringer("block", hash).
		Uint64("height", b.Height).
		Uint64("slot", b.Slot).
		Msg("block included")
	return node, nil
}

// RecordVote credits the voter's stake to the vote's target and every
// ancestor up to the root. The vote must be signed by a known
// validator, justified by the current root, and no older than the
// maximum justification age. Returns the nodes that newly crossed the
// confirmation threshold. chainerr.ErrOrphanPending means the target
// has not arrived yet; callers hold the vote aside until it does.
func (s *VolatileState) RecordVote(v vote.Vote) ([]*TreeNode, error) {
	stake, known := s.stakes[v.Validator]
	if !known || stake < s.genesis.MinimumStake {
		return nil, fmt.Errorf("%w: %s", chainerr.ErrUnknownVoter, v.Validator)
	}
	if !v.VerifySignature() {
		return nil, chainerr.ErrBadSignature
	}
	if v.Justification != s.root {
		return nil, chainerr.ErrVoteNotJustified
	}

	target := s.find(v.Target)
	if target == nil {
		return nil, chainerr.ErrOrphanPending
	}

	if s.genesis.EpochBlocks > 0 && s.genesis.MaxJustificationAge > 0 {
		targetEpoch := target.Height() / s.genesis.EpochBlocks
		rootEpoch := s.rootHeight / s.genesis.EpochBlocks
		if targetEpoch-rootEpoch > s.genesis.MaxJustificationAge {
			return nil, chainerr.ErrJustificationTooOld
		}
	}

	return target.addVotes(stake, v.Validator, s.totalStake), nil
}

// Head runs GHOST from the root: pick the heaviest top-level subtree,
// then descend through heaviest children to a leaf. With an empty tree
// the finalized root itself is the head.
func (s *VolatileState) Head() Head {
	if len(s.forest) == 0 {
		return Head{State: s.finalized, Hash: s.root, Height: s.rootHeight}
	}
	top := s.forest[0]
	for _, tree := range s.forest[1:] {
		if tree.votes > top.votes ||
			(tree.votes == top.votes && tree.maxHeight() > top.maxHeight()) {
			top = tree
		}
	}
	node := top.head()
	return Head{
		State:  NewCascadingState(node, s.finalized),
		Hash:   node.hash,
		Height: node.Height(),
		Node:   node,
	}
}

// FinalizeIfReady applies the two-checkpoint rule along the canonical
// head path: the earliest adjacent pair of justified epoch checkpoints
// finalizes the older one. The branch up to it is collapsed into the
// durable store (oldest diff first), the finalized block becomes the
// new root, and every non-descendant subtree is dropped. The scan
// restarts after each promotion so a backlog of justified checkpoints
// finalizes oldest-first in one call.
//
// A store write failure is fatal and returned as an error wrapping
// chainerr.ErrStateStoreWrite.
func (s *VolatileState) FinalizeIfReady() ([]Finalization, error) {
	var out []Finalization
	for {
		target := s.nextFinalizable()
		if target == nil {
			return out, nil
		}
		promoted, err := s.finalize(target)
		if err != nil {
			return out, err
		}
		out = append(out, Finalization{Blocks: promoted})
	}
}

// nextFinalizable returns the oldest checkpoint on the head path whose
// successor checkpoint is also justified, nil when no pair qualifies.
func (s *VolatileState) nextFinalizable() *TreeNode {
	head := s.Head()
	if head.Node == nil || s.genesis.EpochBlocks == 0 {
		return nil
	}

	var checkpoints []*TreeNode
	for _, node := range head.Node.pathFromRoot() {
		if node.Height()%s.genesis.EpochBlocks == 0 {
			checkpoints = append(checkpoints, node)
		}
	}
	for i := 0; i+1 < len(checkpoints); i++ {
		older, newer := checkpoints[i], checkpoints[i+1]
		if newer.Height()-older.Height() != s.genesis.EpochBlocks {
			continue
		}
		if meetsThreshold(older.votes, s.totalStake) && meetsThreshold(newer.votes, s.totalStake) {
			return older
		}
	}
	return nil
}

// finalize collapses the branch from the root down to target: merges
// every diff oldest-first into the durable store, reroots the tree at
// target, and discards all non-descendant branches.
func (s *VolatileState) finalize(target *TreeNode) ([]*TreeNode, error) {
	path := target.pathFromRoot()

	merged := state.NewStateDiff()
	for _, node := range path {
		merged = merged.Merge(node.block.Output.State)
	}
	if err := s.finalized.Advance(target.hash, target.Height(), merged); err != nil {
		return nil, fmt.Errorf("%w: %v", chainerr.ErrStateStoreWrite, err)
	}

	s.root = target.hash
	s.rootHeight = target.Height()
	s.forest = target.children
	target.children = nil
	for _, child := range s.forest {
		child.parent = nil
	}

	for _, node := range path {
		log.Consensus.Info().
			Stringer("block", node.hash).
			Uint64("height", node.Height()).
			Uint64("votes", node.votes).
			Msg("block finalized")
	}
	return path, nil
}
