package gossip

import (
	"bytes"
	"crypto/rand"
	"reflect"
	"strconv"
	"testing"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

func realPeer(t *testing.T, port int) AddressedPeer {
	t.Helper()
	_, pub, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("peer id: %v", err)
	}
	addr, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/" + strconv.Itoa(port))
	if err != nil {
		t.Fatalf("multiaddr: %v", err)
	}
	return AddressedPeer{ID: id, Addr: addr}
}

func TestFrameRoundTrips(t *testing.T) {
	p1 := realPeer(t, 7001)
	p2 := realPeer(t, 7002)

	frames := []Frame{
		{Topic: "/c/block", Kind: frameJoin, TTL: 4},
		{Topic: "/c/block", Kind: frameForwardJoin, Peer: p1, TTL: 3},
		{Topic: "/c/vote", Kind: frameNeighbor},
		{Topic: "/c/vote", Kind: frameDisconnect, Alive: true},
		{Topic: "/c/block", Kind: frameShuffle, Peer: p1, TTL: 2, Peers: []AddressedPeer{p2}},
		{Topic: "/c/block", Kind: frameShuffleReply, Peers: []AddressedPeer{p1, p2}},
		{Topic: "/c/block", Kind: frameMessage, ID: 12345, Hops: 3, Payload: []byte("payload")},
		{Topic: "/c/block", Kind: frameIHave, IHaves: []IHaveEntry{{ID: 1, Hops: 2}, {ID: 9, Hops: 1}}},
		{Topic: "/c/replay", Kind: frameGraft, Grafts: []uint64{1, 2, 3}},
		{Topic: "/c/replay", Kind: framePrune},
	}

	for _, f := range frames {
		decoded, err := decodeFrame(encodeFrame(f))
		if err != nil {
			t.Fatalf("%s: decode: %v", f.Kind, err)
		}
		if decoded.Topic != f.Topic || decoded.Kind != f.Kind || decoded.TTL != f.TTL ||
			decoded.Alive != f.Alive || decoded.ID != f.ID || decoded.Hops != f.Hops {
			t.Fatalf("%s: scalar fields changed: %+v vs %+v", f.Kind, decoded, f)
		}
		if !bytes.Equal(decoded.Payload, f.Payload) {
			t.Fatalf("%s: payload changed", f.Kind)
		}
		if decoded.Peer.ID != f.Peer.ID {
			t.Fatalf("%s: embedded peer changed", f.Kind)
		}
		if len(decoded.Peers) != len(f.Peers) {
			t.Fatalf("%s: peer list length changed", f.Kind)
		}
		for i := range f.Peers {
			if decoded.Peers[i].ID != f.Peers[i].ID || decoded.Peers[i].Addr.String() != f.Peers[i].Addr.String() {
				t.Fatalf("%s: peer list entry %d changed", f.Kind, i)
			}
		}
		if !reflect.DeepEqual(decoded.IHaves, f.IHaves) || !reflect.DeepEqual(decoded.Grafts, f.Grafts) {
			t.Fatalf("%s: digest fields changed", f.Kind)
		}
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	f := Frame{Topic: "/c/block", Kind: frameKind(0xee)}
	if _, err := decodeFrame(encodeFrame(f)); err == nil {
		t.Fatal("unknown frame kind decoded")
	}
}

func TestFrameIO(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{Topic: "/c/block", Kind: frameMessage, ID: 7, Hops: 1, Payload: []byte("x")}
	if err := writeFrame(&buf, f); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := readFrame(&buf, 1<<20)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.ID != 7 || string(got.Payload) != "x" {
		t.Fatalf("round trip wrong: %+v", got)
	}
}

func TestReadFrameEnforcesTransmitLimit(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{Topic: "/c/block", Kind: frameMessage, ID: 7, Payload: make([]byte, 4096)}
	if err := writeFrame(&buf, f); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readFrame(&buf, 64); err == nil {
		t.Fatal("oversized frame accepted")
	}
}
