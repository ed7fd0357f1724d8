package gossip

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
)

type sentFrame struct {
	to peer.ID
	f  Frame
}

// fakeTransport records the overlay's outbound traffic for assertions.
type fakeTransport struct {
	sent         []sentFrame
	disconnected []peer.ID
}

func (ft *fakeTransport) send(to peer.ID, f Frame)  { ft.sent = append(ft.sent, sentFrame{to, f}) }
func (ft *fakeTransport) addAddress(AddressedPeer) {}
func (ft *fakeTransport) disconnect(id peer.ID) {
	ft.disconnected = append(ft.disconnected, id)
}

func (ft *fakeTransport) framesTo(to peer.ID, kind frameKind) []Frame {
	var out []Frame
	for _, s := range ft.sent {
		if s.to == to && s.f.Kind == kind {
			out = append(out, s.f)
		}
	}
	return out
}

func (ft *fakeTransport) frames(kind frameKind) []sentFrame {
	var out []sentFrame
	for _, s := range ft.sent {
		if s.f.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func testPeer(i int) AddressedPeer {
	return AddressedPeer{ID: peer.ID(fmt.Sprintf("peer-%03d", i))}
}

func testView(t *testing.T, networkSize int) (*view, *fakeTransport) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.NetworkSize = networkSize
	ft := &fakeTransport{}
	self := AddressedPeer{ID: peer.ID("self")}
	return newView("/test/block", cfg, self, ft, rand.New(rand.NewSource(42))), ft
}

func TestJoinSendsWalkTTL(t *testing.T) {
	v, ft := testView(t, 64)
	contact := testPeer(1)
	v.join(contact)

	joins := ft.framesTo(contact.ID, frameJoin)
	if len(joins) != 1 {
		t.Fatalf("expected one join, got %d", len(joins))
	}
	if joins[0].TTL != v.cfg.ActiveWalkLength() {
		t.Fatalf("join ttl = %d, want %d", joins[0].TTL, v.cfg.ActiveWalkLength())
	}
}

func TestHandleJoinForwardsToActivePeers(t *testing.T) {
	v, ft := testView(t, 64)
	existing := testPeer(1)
	v.addActive(existing)

	joiner := testPeer(2)
	v.handleJoin(joiner, 4)

	if _, active := v.active[joiner.ID]; !active {
		t.Fatal("joiner not admitted to active view")
	}
	forwards := ft.framesTo(existing.ID, frameForwardJoin)
	if len(forwards) != 1 || forwards[0].TTL != 3 || forwards[0].Peer.ID != joiner.ID {
		t.Fatalf("forward join wrong: %+v", forwards)
	}
}

func TestForwardJoinAcceptsAtTTLZero(t *testing.T) {
	v, ft := testView(t, 64)
	sender := testPeer(1)
	v.addActive(sender)
	v.addActive(testPeer(2))

	joiner := testPeer(9)
	v.handleForwardJoin(sender.ID, joiner, 0)

	if _, active := v.active[joiner.ID]; !active {
		t.Fatal("walk-exhausted joiner not accepted")
	}
	if len(ft.framesTo(joiner.ID, frameNeighbor)) != 1 {
		t.Fatal("accepted joiner not told about the symmetric link")
	}
}

func TestForwardJoinWalksOn(t *testing.T) {
	v, ft := testView(t, 64)
	sender := testPeer(1)
	other := testPeer(2)
	v.addActive(sender)
	v.addActive(other)

	joiner := testPeer(9)
	v.handleForwardJoin(sender.ID, joiner, 3)

	if _, active := v.active[joiner.ID]; active {
		t.Fatal("mid-walk joiner should not be active yet")
	}
	if _, passive := v.passive[joiner.ID]; !passive {
		t.Fatal("mid-walk joiner should be remembered passively")
	}
	forwards := ft.framesTo(other.ID, frameForwardJoin)
	if len(forwards) != 1 || forwards[0].TTL != 2 {
		t.Fatalf("walk not forwarded: %+v", forwards)
	}
}

func TestActiveViewEvictsToPassiveAtCapacity(t *testing.T) {
	v, _ := testView(t, 4) // max active = log2(4)+1 = 3
	max := v.cfg.MaxActiveViewSize()
	for i := 0; i < max+2; i++ {
		v.addActive(testPeer(i))
	}
	if len(v.active) != max {
		t.Fatalf("active view size %d, want %d", len(v.active), max)
	}
	if len(v.passive) != 2 {
		t.Fatalf("evicted peers not in passive view: %d", len(v.passive))
	}
}

func TestDisconnectAliveKeepsPassive(t *testing.T) {
	v, _ := testView(t, 64)
	p := testPeer(1)
	v.addActive(p)
	v.handleDisconnect(p, true)

	if _, active := v.active[p.ID]; active {
		t.Fatal("disconnected peer still active")
	}
	if _, passive := v.passive[p.ID]; !passive {
		t.Fatal("alive peer should remain as a passive candidate")
	}
}

func TestDisconnectDeadForgetsEntirely(t *testing.T) {
	v, ft := testView(t, 64)
	p := testPeer(1)
	v.addActive(p)
	v.handleDisconnect(p, false)

	if _, passive := v.passive[p.ID]; passive {
		t.Fatal("dead peer kept in passive view")
	}
	if len(ft.disconnected) != 1 || ft.disconnected[0] != p.ID {
		t.Fatal("dead peer connection not torn down")
	}
}

func TestStarvedViewPromotesPassive(t *testing.T) {
	v, ft := testView(t, 64)
	active := testPeer(1)
	backup := testPeer(2)
	v.addActive(active)
	v.addPassive(backup)

	// Losing the only active link starves the view; the passive backup
	// is promoted and greeted.
	v.peerDown(active.ID)
	if _, nowActive := v.active[backup.ID]; !nowActive {
		t.Fatal("passive peer not promoted on starvation")
	}
	if len(ft.framesTo(backup.ID, frameNeighbor)) != 1 {
		t.Fatal("promoted peer not sent a neighbor request")
	}
}

func TestShuffleReplyIsDisjointAndMerges(t *testing.T) {
	v, ft := testView(t, 64)
	origin := testPeer(1)
	v.addActive(origin)
	known := testPeer(2)
	v.addPassive(known)

	offered := []AddressedPeer{testPeer(10), testPeer(11)}
	v.handleShuffle(origin.ID, origin, 0, offered)

	for _, p := range offered {
		if _, ok := v.passive[p.ID]; !ok {
			t.Fatalf("offered peer %s not merged into passive view", p.ID)
		}
	}
	replies := ft.framesTo(origin.ID, frameShuffleReply)
	if len(replies) != 1 {
		t.Fatalf("expected one shuffle reply, got %d", len(replies))
	}
	for _, p := range replies[0].Peers {
		if p.ID == origin.ID {
			t.Fatal("shuffle reply offered the origin back to itself")
		}
		for _, o := range offered {
			if p.ID == o.ID {
				t.Fatal("shuffle reply not disjoint from the offer")
			}
		}
	}
}

func TestShuffleWalksThroughIntermediate(t *testing.T) {
	v, ft := testView(t, 64)
	sender := testPeer(1)
	other := testPeer(2)
	v.addActive(sender)
	v.addActive(other)

	origin := testPeer(9)
	v.handleShuffle(sender.ID, origin, 2, []AddressedPeer{testPeer(10)})

	forwards := ft.framesTo(other.ID, frameShuffle)
	if len(forwards) != 1 || forwards[0].TTL != 1 {
		t.Fatalf("shuffle walk not forwarded: %+v", forwards)
	}
	if len(ft.framesTo(origin.ID, frameShuffleReply)) != 0 {
		t.Fatal("replied before the walk ended")
	}
}

func TestPassiveViewTrimsAtCap(t *testing.T) {
	v, _ := testView(t, 4)
	cap := v.cfg.MaxPassiveViewSize()
	for i := 0; i < cap+5; i++ {
		v.addPassive(testPeer(100 + i))
	}
	if len(v.passive) > cap {
		t.Fatalf("passive view %d exceeds cap %d", len(v.passive), cap)
	}
}
