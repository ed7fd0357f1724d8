package consensus

import (
	"testing"
	"time"

	"github.com/forgelabs/forgecore/pkg/types"
	"github.com/forgelabs/forgecore/pkg/vote"
)

func TestOrphanChildBeforeParent(t *testing.T) {
	f := newFixture(t, 10, 1000)
	root := f.volatile.Root()
	orphans := NewOrphans(f.genesis.SlotInterval)

	b1 := f.emptyBlock(f.keys[0], root, 1, 1)
	b2 := f.emptyBlock(f.keys[0], b1.Hash(), 2, 2)
	b3 := f.emptyBlock(f.keys[0], b2.Hash(), 3, 3)

	// Children arrive first: both land in the same orphan subtree keyed
	// by b1's hash.
	orphans.AddBlock(b2)
	orphans.AddBlock(b3)

	if got := orphans.ConsumeBlocks(b2.Hash()); got != nil {
		t.Fatalf("b2 is inside the subtree, not a root key: %v", got)
	}

	f.mustInclude(t, b1)
	flat := orphans.ConsumeBlocks(b1.Hash())
	if len(flat) != 2 || flat[0].Hash() != b2.Hash() || flat[1].Hash() != b3.Hash() {
		t.Fatalf("flatten order wrong: %d blocks", len(flat))
	}
	for _, b := range flat {
		f.mustInclude(t, b)
	}
	if head := f.volatile.Head(); head.Height != 3 {
		t.Fatalf("orphans did not re-attach, head height %d", head.Height)
	}
}

func TestOrphanMissingBlocksTimer(t *testing.T) {
	f := newFixture(t, 10, 1000)
	orphans := NewOrphans(500 * time.Millisecond)

	now := time.Unix(1700000000, 0)
	orphans.now = func() time.Time { return now }

	b := f.emptyBlock(f.keys[0], types.Hash{0xaa}, 5, 5)
	orphans.AddBlock(b)

	// Below the 2x slot threshold: nothing is missing yet.
	now = now.Add(900 * time.Millisecond)
	if missing := orphans.MissingBlocks(0); len(missing) != 0 {
		t.Fatalf("requested replay too early: %v", missing)
	}

	// Past the threshold: exactly one replay request, then the timer
	// resets and a second immediate check stays quiet.
	now = now.Add(200 * time.Millisecond)
	missing := orphans.MissingBlocks(0)
	if len(missing) != 1 || missing[0] != b.Parent {
		t.Fatalf("want one replay for the missing parent, got %v", missing)
	}
	if missing := orphans.MissingBlocks(0); len(missing) != 0 {
		t.Fatalf("timer did not reset: %v", missing)
	}

	// After another full threshold the request repeats.
	now = now.Add(time.Second)
	if missing := orphans.MissingBlocks(0); len(missing) != 1 {
		t.Fatalf("replay not re-requested: %v", missing)
	}
}

func TestOrphanIrrelevantHeightDropped(t *testing.T) {
	f := newFixture(t, 10, 1000)
	orphans := NewOrphans(500 * time.Millisecond)

	b := f.emptyBlock(f.keys[0], types.Hash{0xbb}, 3, 3)
	orphans.AddBlock(b)

	// The finalized root has moved past this subtree's deepest block:
	// it can never re-attach and is silently discarded.
	if missing := orphans.MissingBlocks(3); len(missing) != 0 {
		t.Fatalf("irrelevant orphan requested replay: %v", missing)
	}
	if got := orphans.ConsumeBlocks(b.Parent); got != nil {
		t.Fatal("irrelevant orphan survived")
	}
}

func TestOrphanVotesHeldUntilTarget(t *testing.T) {
	f := newFixture(t, 10, 600, 400)
	root := f.volatile.Root()
	orphans := NewOrphans(f.genesis.SlotInterval)

	b1 := f.emptyBlock(f.keys[0], root, 1, 1)
	v := vote.New(f.keys[1], b1.Hash(), root)

	// Vote arrives before its target block.
	if _, err := f.volatile.RecordVote(v); err == nil {
		t.Fatal("vote for unknown target should not record")
	}
	orphans.AddVote(v)

	n1 := f.mustInclude(t, b1)
	for _, held := range orphans.ConsumeVotes(b1.Hash()) {
		if _, err := f.volatile.RecordVote(held); err != nil {
			t.Fatalf("record held vote: %v", err)
		}
	}
	if n1.Votes() != 1000 {
		t.Fatalf("held vote not credited: %d", n1.Votes())
	}

	if votes := orphans.ConsumeVotes(b1.Hash()); votes != nil {
		t.Fatal("consumed votes not removed")
	}
}
