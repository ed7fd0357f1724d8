package gossip

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/forgelabs/forgecore/pkg/wire"
)

// frameKind tags the action a frame carries.
type frameKind uint8

const (
	frameJoin frameKind = iota + 1
	frameForwardJoin
	frameNeighbor
	frameDisconnect
	frameShuffle
	frameShuffleReply
	frameMessage
	frameIHave
	frameGraft
	framePrune
)

func (k frameKind) String() string {
	switch k {
	case frameJoin:
		return "join"
	case frameForwardJoin:
		return "forward-join"
	case frameNeighbor:
		return "neighbor"
	case frameDisconnect:
		return "disconnect"
	case frameShuffle:
		return "shuffle"
	case frameShuffleReply:
		return "shuffle-reply"
	case frameMessage:
		return "message"
	case frameIHave:
		return "ihave"
	case frameGraft:
		return "graft"
	case framePrune:
		return "prune"
	default:
		return "unknown"
	}
}

// AddressedPeer is a peer identity with a dialable address, the unit
// the membership protocol trades in.
type AddressedPeer struct {
	ID   peer.ID
	Addr multiaddr.Multiaddr
}

// IHaveEntry advertises one message id with the hop count it was
// received at, which the receiver uses for tree optimization.
type IHaveEntry struct {
	ID   uint64
	Hops uint32
}

// Frame is one overlay protocol message on one topic. Exactly the
// fields relevant to Kind are populated.
type Frame struct {
	Topic string
	Kind  frameKind

	TTL     uint32          // Join, ForwardJoin, Shuffle
	Peer    AddressedPeer   // ForwardJoin, Shuffle origin
	Alive   bool            // Disconnect
	Peers   []AddressedPeer // Shuffle, ShuffleReply
	ID      uint64          // Message
	Hops    uint32          // Message
	Payload []byte          // Message
	IHaves  []IHaveEntry    // IHave
	Grafts  []uint64        // Graft
}

func writeAddressedPeer(w *wire.Writer, p AddressedPeer) {
	w.BytesField([]byte(p.ID))
	if p.Addr != nil {
		w.BytesField(p.Addr.Bytes())
	} else {
		w.BytesField(nil)
	}
}

func readAddressedPeer(r *wire.Reader) (AddressedPeer, error) {
	idBytes, err := r.BytesField()
	if err != nil {
		return AddressedPeer{}, err
	}
	id, err := peer.IDFromBytes(idBytes)
	if err != nil {
		return AddressedPeer{}, fmt.Errorf("gossip: peer id: %w", err)
	}
	addrBytes, err := r.BytesField()
	if err != nil {
		return AddressedPeer{}, err
	}
	var addr multiaddr.Multiaddr
	if len(addrBytes) > 0 {
		if addr, err = multiaddr.NewMultiaddrBytes(addrBytes); err != nil {
			return AddressedPeer{}, fmt.Errorf("gossip: multiaddr: %w", err)
		}
	}
	return AddressedPeer{ID: id, Addr: addr}, nil
}

// encodeFrame serializes a frame for the stream codec.
func encodeFrame(f Frame) []byte {
	w := wire.NewWriter()
	w.String(f.Topic)
	w.Raw([]byte{byte(f.Kind)})

	switch f.Kind {
	case frameJoin:
		w.Uint64(uint64(f.TTL))
	case frameForwardJoin:
		writeAddressedPeer(w, f.Peer)
		w.Uint64(uint64(f.TTL))
	case frameNeighbor:
		// identity only
	case frameDisconnect:
		w.Bool(f.Alive)
	case frameShuffle:
		writeAddressedPeer(w, f.Peer)
		w.Uint64(uint64(f.TTL))
		w.Uint64(uint64(len(f.Peers)))
		for _, p := range f.Peers {
			writeAddressedPeer(w, p)
		}
	case frameShuffleReply:
		w.Uint64(uint64(len(f.Peers)))
		for _, p := range f.Peers {
			writeAddressedPeer(w, p)
		}
	case frameMessage:
		w.Uint64(f.ID)
		w.Uint64(uint64(f.Hops))
		w.BytesField(f.Payload)
	case frameIHave:
		w.Uint64(uint64(len(f.IHaves)))
		for _, e := range f.IHaves {
			w.Uint64(e.ID)
			w.Uint64(uint64(e.Hops))
		}
	case frameGraft:
		w.Uint64(uint64(len(f.Grafts)))
		for _, id := range f.Grafts {
			w.Uint64(id)
		}
	case framePrune:
		// identity only
	}
	return w.Bytes()
}

// decodeFrame reverses encodeFrame.
func decodeFrame(buf []byte) (Frame, error) {
	r := wire.NewReader(buf)
	var f Frame
	var err error
	if f.Topic, err = r.String(); err != nil {
		return f, err
	}
	kindByte, err := r.Raw(1)
	if err != nil {
		return f, err
	}
	f.Kind = frameKind(kindByte[0])

	switch f.Kind {
	case frameJoin:
		ttl, err := r.Uint64()
		if err != nil {
			return f, err
		}
		f.TTL = uint32(ttl)
	case frameForwardJoin:
		if f.Peer, err = readAddressedPeer(r); err != nil {
			return f, err
		}
		ttl, err := r.Uint64()
		if err != nil {
			return f, err
		}
		f.TTL = uint32(ttl)
	case frameNeighbor:
	case frameDisconnect:
		if f.Alive, err = r.Bool(); err != nil {
			return f, err
		}
	case frameShuffle:
		if f.Peer, err = readAddressedPeer(r); err != nil {
			return f, err
		}
		ttl, err := r.Uint64()
		if err != nil {
			return f, err
		}
		f.TTL = uint32(ttl)
		if f.Peers, err = readPeerList(r); err != nil {
			return f, err
		}
	case frameShuffleReply:
		if f.Peers, err = readPeerList(r); err != nil {
			return f, err
		}
	case frameMessage:
		if f.ID, err = r.Uint64(); err != nil {
			return f, err
		}
		hops, err := r.Uint64()
		if err != nil {
			return f, err
		}
		f.Hops = uint32(hops)
		if f.Payload, err = r.BytesField(); err != nil {
			return f, err
		}
	case frameIHave:
		n, err := r.Count(16)
		if err != nil {
			return f, err
		}
		f.IHaves = make([]IHaveEntry, n)
		for i := range f.IHaves {
			if f.IHaves[i].ID, err = r.Uint64(); err != nil {
				return f, err
			}
			hops, err := r.Uint64()
			if err != nil {
				return f, err
			}
			f.IHaves[i].Hops = uint32(hops)
		}
	case frameGraft:
		n, err := r.Count(8)
		if err != nil {
			return f, err
		}
		f.Grafts = make([]uint64, n)
		for i := range f.Grafts {
			if f.Grafts[i], err = r.Uint64(); err != nil {
				return f, err
			}
		}
	case framePrune:
	default:
		return f, fmt.Errorf("gossip: unknown frame kind %d", f.Kind)
	}

	if err := r.Done(); err != nil {
		return f, err
	}
	return f, nil
}

func readPeerList(r *wire.Reader) ([]AddressedPeer, error) {
	n, err := r.Count(16)
	if err != nil {
		return nil, err
	}
	peers := make([]AddressedPeer, n)
	for i := range peers {
		if peers[i], err = readAddressedPeer(r); err != nil {
			return nil, err
		}
	}
	return peers, nil
}
