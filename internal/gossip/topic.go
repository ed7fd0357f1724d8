package gossip

import (
	"math/rand"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/forgelabs/forgecore/internal/log"
)

// topicState binds one topic's membership view to its broadcast tree:
// active-view churn feeds the eager/lazy classification, and every
// inbound frame is routed to whichever layer owns its kind.
type topicState struct {
	name string
	view *view
	tree *tree
}

func newTopicState(name string, cfg Config, self AddressedPeer, tr transport, rng *rand.Rand, deliver func(peer.ID, []byte)) *topicState {
	t := &topicState{name: name}
	t.view = newView(name, cfg, self, tr, rng)
	t.tree = newTree(name, cfg, tr, deliver)
	t.view.onNeighborUp = t.tree.neighborUp
	t.view.onNeighborDown = t.tree.neighborDown
	return t
}

// dispatch routes one authorized frame from a connected peer.
func (t *topicState) dispatch(from AddressedPeer, f Frame) {
	switch f.Kind {
	case frameJoin:
		t.view.handleJoin(from, f.TTL)
	case frameForwardJoin:
		t.view.handleForwardJoin(from.ID, f.Peer, f.TTL)
	case frameNeighbor:
		t.view.handleNeighbor(from)
	case frameDisconnect:
		t.view.handleDisconnect(from, f.Alive)
	case frameShuffle:
		t.view.handleShuffle(from.ID, f.Peer, f.TTL, f.Peers)
	case frameShuffleReply:
		t.view.handleShuffleReply(f.Peers)
	case frameMessage:
		t.tree.handleMessage(from.ID, f.ID, f.Hops, f.Payload)
	case frameIHave:
		t.tree.handleIHave(from.ID, f.IHaves)
	case frameGraft:
		t.tree.handleGraft(from.ID, f.Grafts)
	case framePrune:
		t.tree.handlePrune(from.ID)
	default:
		log.Gossip.Debug().
			Str("topic", t.name).
			Stringer("peer", from.ID).
			Msg("unknown frame kind dropped")
	}
}
