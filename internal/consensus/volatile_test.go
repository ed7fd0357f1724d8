package consensus

import (
	"errors"
	"testing"
	"time"

	"github.com/forgelabs/forgecore/internal/chainerr"
	"github.com/forgelabs/forgecore/internal/state"
	"github.com/forgelabs/forgecore/internal/vm"
	"github.com/forgelabs/forgecore/pkg/account"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/crypto"
	"github.com/forgelabs/forgecore/pkg/types"
	"github.com/forgelabs/forgecore/pkg/vote"
)

// memStore is an in-memory state.Store for exercising finalization.
type memStore struct {
	accounts map[types.Pubkey]account.Account
	applied  int
}

func newMemStore() *memStore {
	return &memStore{accounts: make(map[types.Pubkey]account.Account)}
}

func (m *memStore) Get(pubkey types.Pubkey) (account.Account, bool) {
	acc, ok := m.accounts[pubkey]
	return acc, ok
}

func (m *memStore) Apply(diff *state.StateDiff) error {
	m.applied++
	diff.Each(func(pubkey types.Pubkey, acc *account.Account) {
		if acc == nil {
			delete(m.accounts, pubkey)
		} else {
			m.accounts[pubkey] = acc.Clone()
		}
	})
	return nil
}

type fixture struct {
	genesis   *block.Genesis
	machine   *vm.Machine
	store     *memStore
	finalized *state.Finalized
	volatile  *VolatileState
	keys      []*crypto.PrivateKey
}

func newFixture(t *testing.T, epochBlocks uint64, stakes ...uint64) *fixture {
	t.Helper()
	g := &block.Genesis{
		ChainID:             "consensus-test",
		GenesisTime:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		SlotInterval:        500 * time.Millisecond,
		EpochBlocks:         epochBlocks,
		MaxJustificationAge: 100,
		MaxBlockSize:        1 << 20,
		MaxAccountSize:      4096,
		MaxLogSize:          1024,
		MaxTxSize:           2048,
		MaxBlockTxs:         256,
		Builtins:            []types.Pubkey{vm.SystemAddress},
		MinimumStake:        100,
	}
	var keys []*crypto.PrivateKey
	for _, stake := range stakes {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		keys = append(keys, key)
		g.Validators = append(g.Validators, block.ValidatorStake{Pubkey: key.Public(), Stake: stake})
	}

	machine, err := vm.NewMachine(g)
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	store := newMemStore()
	finalized := &state.Finalized{Store: store, BlockHash: g.Hash(), BlockHeight: 0}
	return &fixture{
		genesis:   g,
		machine:   machine,
		store:     store,
		finalized: finalized,
		volatile:  NewVolatileState(g, machine, finalized),
		keys:      keys,
	}
}

// emptyBlock builds a correctly signed block with no payload on top of
// parent. An empty payload always executes to the same output hash.
func (f *fixture) emptyBlock(signer *crypto.PrivateKey, parent types.Hash, height, slot uint64) *block.Produced {
	b := &block.Produced{
		Parent:    parent,
		StateHash: block.NewBlockOutput().Hash(),
		Height:    height,
		Slot:      slot,
	}
	b.Sign(signer)
	return b
}

func (f *fixture) mustInclude(t *testing.T, b *block.Produced) *TreeNode {
	t.Helper()
	node, err := f.volatile.Include(b)
	if err != nil {
		t.Fatalf("include height %d: %v", b.Height, err)
	}
	return node
}

func TestIncludeLinksParentAndHeight(t *testing.T) {
	f := newFixture(t, 4, 1000)
	b1 := f.emptyBlock(f.keys[0], f.volatile.Root(), 1, 1)
	n1 := f.mustInclude(t, b1)
	b2 := f.emptyBlock(f.keys[0], b1.Hash(), 2, 2)
	n2 := f.mustInclude(t, b2)

	if n2.parent != n1 {
		t.Fatal("child not linked to parent node")
	}
	if n2.Height() != n1.Height()+1 {
		t.Fatalf("height not dense: %d after %d", n2.Height(), n1.Height())
	}
}

func TestIncludeRejectsStateHashMismatch(t *testing.T) {
	f := newFixture(t, 4, 1000)
	b := f.emptyBlock(f.keys[0], f.volatile.Root(), 1, 1)
	bad := &block.Produced{
		Parent:    b.Parent,
		StateHash: types.Hash{0xff},
		Height:    1,
		Slot:      1,
	}
	bad.Sign(f.keys[0])

	if _, err := f.volatile.Include(bad); !errors.Is(err, chainerr.ErrStateHashMismatch) {
		t.Fatalf("want state hash mismatch, got %v", err)
	}
	if f.volatile.Contains(bad.Hash()) {
		t.Fatal("rejected block entered the tree")
	}
	if f.store.applied != 0 {
		t.Fatal("rejected block touched the state store")
	}
}

func TestIncludeUnknownParentIsOrphaned(t *testing.T) {
	f := newFixture(t, 4, 1000)
	b := f.emptyBlock(f.keys[0], types.Hash{0xaa}, 5, 5)
	if _, err := f.volatile.Include(b); !errors.Is(err, chainerr.ErrUnknownParent) {
		t.Fatalf("want unknown parent, got %v", err)
	}
}

func TestIncludeDuplicateIgnored(t *testing.T) {
	f := newFixture(t, 4, 1000)
	b := f.emptyBlock(f.keys[0], f.volatile.Root(), 1, 1)
	f.mustInclude(t, b)
	if _, err := f.volatile.Include(b); !errors.Is(err, chainerr.ErrDuplicateBlock) {
		t.Fatalf("want duplicate, got %v", err)
	}
}

func TestGhostPrefersHeavierThenDeeper(t *testing.T) {
	f := newFixture(t, 10, 600, 400)
	root := f.volatile.Root()

	// Two competing forks. Fork A is one block; fork B is two blocks
	// deep. Producer stakes are equal per top-level subtree until a vote
	// arrives.
	a1 := f.emptyBlock(f.keys[0], root, 1, 1)
	f.mustInclude(t, a1)
	b1 := f.emptyBlock(f.keys[0], root, 1, 2)
	f.mustInclude(t, b1)
	b2 := f.emptyBlock(f.keys[0], b1.Hash(), 2, 3)
	f.mustInclude(t, b2)

	// Equal votes at the fork: deeper subtree wins.
	if head := f.volatile.Head(); head.Hash != b2.Hash() {
		t.Fatalf("tie should pick deeper fork, head = %s", head.Hash)
	}

	// Stake lands on the shallow fork: it takes over.
	v := vote.New(f.keys[1], a1.Hash(), root)
	if _, err := f.volatile.RecordVote(v); err != nil {
		t.Fatalf("record vote: %v", err)
	}
	if head := f.volatile.Head(); head.Hash != a1.Hash() {
		t.Fatalf("vote-weighted fork should win, head = %s", head.Hash)
	}
}

func TestVotePropagatesToAncestorsOnce(t *testing.T) {
	f := newFixture(t, 10, 500, 500)
	root := f.volatile.Root()

	b1 := f.emptyBlock(f.keys[0], root, 1, 1)
	n1 := f.mustInclude(t, b1)
	b2 := f.emptyBlock(f.keys[0], b1.Hash(), 2, 2)
	n2 := f.mustInclude(t, b2)

	before1, before2 := n1.Votes(), n2.Votes()

	v := vote.New(f.keys[1], b2.Hash(), root)
	if _, err := f.volatile.RecordVote(v); err != nil {
		t.Fatalf("record vote: %v", err)
	}
	if n2.Votes() != before2+500 || n1.Votes() != before1+500 {
		t.Fatalf("vote did not propagate: n1=%d n2=%d", n1.Votes(), n2.Votes())
	}

	// The same (validator, target) again must not double count.
	if _, err := f.volatile.RecordVote(v); err != nil {
		t.Fatalf("record duplicate vote: %v", err)
	}
	if n2.Votes() != before2+500 || n1.Votes() != before1+500 {
		t.Fatalf("duplicate vote double counted: n1=%d n2=%d", n1.Votes(), n2.Votes())
	}
}

func TestVoteNotJustifiedByRootRejected(t *testing.T) {
	f := newFixture(t, 10, 1000)
	b1 := f.emptyBlock(f.keys[0], f.volatile.Root(), 1, 1)
	f.mustInclude(t, b1)

	v := vote.New(f.keys[0], b1.Hash(), types.Hash{0x01})
	if _, err := f.volatile.RecordVote(v); !errors.Is(err, chainerr.ErrVoteNotJustified) {
		t.Fatalf("want not justified, got %v", err)
	}
}

func TestVoteFromUnknownValidatorRejected(t *testing.T) {
	f := newFixture(t, 10, 1000)
	b1 := f.emptyBlock(f.keys[0], f.volatile.Root(), 1, 1)
	f.mustInclude(t, b1)

	stranger, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v := vote.New(stranger, b1.Hash(), f.volatile.Root())
	if _, err := f.volatile.RecordVote(v); !errors.Is(err, chainerr.ErrUnknownVoter) {
		t.Fatalf("want unknown voter, got %v", err)
	}
}

func TestFinalizeTwoConsecutiveJustifiedCheckpoints(t *testing.T) {
	// Single validator: every produced block instantly carries the full
	// stake as its producer's implicit vote.
	f := newFixture(t, 2, 1000)
	root := f.volatile.Root()

	var blocks []*block.Produced
	parent := root
	for h := uint64(1); h <= 4; h++ {
		b := f.emptyBlock(f.keys[0], parent, h, h)
		f.mustInclude(t, b)
		blocks = append(blocks, b)
		parent = b.Hash()
	}

	outs, err := f.volatile.FinalizeIfReady()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(outs) != 1 {
		t.Fatalf("expected one finalization, got %d", len(outs))
	}
	promoted := outs[0].Blocks
	if len(promoted) != 2 || promoted[0].Hash() != blocks[0].Hash() || promoted[1].Hash() != blocks[1].Hash() {
		t.Fatalf("wrong blocks promoted: %d", len(promoted))
	}
	if f.volatile.Root() != blocks[1].Hash() || f.volatile.RootHeight() != 2 {
		t.Fatalf("root did not advance: %s at %d", f.volatile.Root(), f.volatile.RootHeight())
	}
	if f.store.applied != 1 {
		t.Fatalf("store applied %d times, want 1", f.store.applied)
	}

	// The surviving branch is still intact above the new root.
	if !f.volatile.Contains(blocks[3].Hash()) {
		t.Fatal("descendants of the finalized block were dropped")
	}
}

func TestFinalizePrunesLosingFork(t *testing.T) {
	f := newFixture(t, 2, 700, 300)
	root := f.volatile.Root()

	// Loser fork by the small validator.
	l1 := f.emptyBlock(f.keys[1], root, 1, 1)
	f.mustInclude(t, l1)

	// Winner chain by the large validator, weighted by its implicit
	// producer votes.
	parent := root
	var winner []*block.Produced
	for h := uint64(1); h <= 4; h++ {
		b := f.emptyBlock(f.keys[0], parent, h, h+10)
		f.mustInclude(t, b)
		winner = append(winner, b)
		parent = b.Hash()
	}

	outs, err := f.volatile.FinalizeIfReady()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(outs) == 0 {
		t.Fatal("expected finalization")
	}
	if f.volatile.Contains(l1.Hash()) {
		t.Fatal("losing fork survived finalization")
	}
	if !f.volatile.Contains(winner[3].Hash()) {
		t.Fatal("winning branch lost its tip")
	}
}

func TestCascadingStateShadowing(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	target := key.Public()

	older := state.NewStateDiff()
	older.Set(target, account.Account{Balance: 100})
	newer := state.NewStateDiff()
	newer.Delete(target)

	parent := &TreeNode{block: &block.Executed{Output: &block.BlockOutput{State: older}}}
	child := &TreeNode{block: &block.Executed{Output: &block.BlockOutput{State: newer}}, parent: parent}

	base := newMemStore()
	base.accounts[target] = account.Account{Balance: 7}

	// From the child, the tombstone shadows both the parent's set and
	// the base value.
	if _, ok := NewCascadingState(child, base).Get(target); ok {
		t.Fatal("tombstone did not shadow older layers")
	}
	// From the parent, its own set wins over the base.
	if acc, ok := NewCascadingState(parent, base).Get(target); !ok || acc.Balance != 100 {
		t.Fatalf("parent layer lookup wrong: %+v ok=%v", acc, ok)
	}
}
