package gossip

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"

	"github.com/forgelabs/forgecore/internal/log"
	"github.com/forgelabs/forgecore/pkg/crypto"
)

// ProtocolID is the stream protocol every overlay frame travels on.
const ProtocolID = protocol.ID("/forgecore/episub/1.0.0")

// outboundQueue bounds per-peer pending frames before the slowest link
// starts dropping.
const outboundQueue = 256

// peerLink is one connected peer's outbound frame queue and its writer
// goroutine.
type peerLink struct {
	id   peer.ID
	out  chan Frame
	stop chan struct{}
}

// Node owns the libp2p host and all per-topic overlay state. Frame
// handling is serialized under one mutex: the overlay logic itself is
// single-threaded, only the socket pumps run concurrently.
type Node struct {
	cfg  Config
	host host.Host
	self AddressedPeer
	bans *BanManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	rng    *rand.Rand
	topics map[string]*topicState
	links  map[peer.ID]*peerLink
}

// NewNode builds the libp2p host from the validator's Ed25519 key (so
// the peer identity IS the validator identity) and starts the periodic
// tick loops. Topics are joined with Subscribe before any Connect.
func NewNode(ctx context.Context, cfg Config, key *crypto.PrivateKey, listenAddrs []multiaddr.Multiaddr) (*Node, error) {
	priv, err := libp2pcrypto.UnmarshalEd25519PrivateKey(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("gossip: identity key: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrs(listenAddrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("gossip: libp2p host: %w", err)
	}

	nodeCtx, cancel := context.WithCancel(ctx)
	n := &Node{
		cfg:    cfg,
		host:   h,
		bans:   NewBanManager(),
		ctx:    nodeCtx,
		cancel: cancel,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		topics: make(map[string]*topicState),
		links:  make(map[peer.ID]*peerLink),
	}
	n.self = AddressedPeer{ID: h.ID()}
	if addrs := h.Addrs(); len(addrs) > 0 {
		n.self.Addr = addrs[0]
	}

	h.SetStreamHandler(ProtocolID, n.handleStream)
	h.Network().Notify(&network.NotifyBundle{
		DisconnectedF: func(_ network.Network, conn network.Conn) {
			n.peerDisconnected(conn.RemotePeer())
		},
	})

	n.wg.Add(1)
	go n.tickLoop()

	log.Gossip.Info().
		Stringer("peer", h.ID()).
		Int("listen_addrs", len(h.Addrs())).
		Msg("gossip node up")
	return n, nil
}

// ID returns the local peer identity.
func (n *Node) ID() peer.ID { return n.host.ID() }

// Host exposes the underlying libp2p host, used by discovery.
func (n *Node) Host() host.Host { return n.host }

// Bans exposes the ban manager so payload validators can charge
// offenses.
func (n *Node) Bans() *BanManager { return n.bans }

// Subscribe creates the topic's membership view and broadcast tree.
// deliver is invoked (off the socket goroutines, under the overlay
// lock) for every first-seen payload.
func (n *Node) Subscribe(topic string, deliver func(from peer.ID, payload []byte)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, dup := n.topics[topic]; dup {
		return
	}
	n.topics[topic] = newTopicState(topic, n.cfg, n.self, (*nodeTransport)(n), n.rng, deliver)
}

// Publish floods payload to the topic's broadcast tree under a fresh
// 64-bit message id.
func (n *Node) Publish(topic string, payload []byte) error {
	if n.cfg.MaxTransmitSize > 0 && uint64(len(payload)) > n.cfg.MaxTransmitSize {
		return fmt.Errorf("gossip: payload exceeds max transmit size")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.topics[topic]
	if !ok {
		return fmt.Errorf("gossip: not subscribed to %s", topic)
	}
	t.tree.publish(n.rng.Uint64(), payload)
	return nil
}

// Connect dials a bootstrap peer and sends a Join on every subscribed
// topic through it.
func (n *Node) Connect(addr multiaddr.Multiaddr) error {
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return fmt.Errorf("gossip: bootstrap addr: %w", err)
	}
	n.ConnectInfo(*info)
	return nil
}

// ConnectInfo is Connect for an already resolved peer record, used by
// DHT discovery.
func (n *Node) ConnectInfo(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	n.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)

	contact := AddressedPeer{ID: info.ID}
	if len(info.Addrs) > 0 {
		contact.Addr = info.Addrs[0]
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.topics {
		t.view.join(contact)
	}
}

// Close stops the tick loops, drops every link, and releases the
// socket. The host closes before the final wait so blocked stream
// reads unwind.
func (n *Node) Close() error {
	n.cancel()
	n.mu.Lock()
	for _, link := range n.links {
		close(link.stop)
	}
	n.links = make(map[peer.ID]*peerLink)
	n.mu.Unlock()
	err := n.host.Close()
	n.wg.Wait()
	return err
}

// tickLoop drives the periodic protocol work: IHAVE batching and graft
// timers every tick, shuffles on their own slower cadence.
func (n *Node) tickLoop() {
	defer n.wg.Done()
	tick := time.NewTicker(n.cfg.TickFrequency)
	shuffle := time.NewTicker(n.cfg.ShuffleInterval)
	defer tick.Stop()
	defer shuffle.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-tick.C:
			n.mu.Lock()
			for _, t := range n.topics {
				t.tree.tick()
			}
			n.mu.Unlock()
		case <-shuffle.C:
			n.mu.Lock()
			for _, t := range n.topics {
				t.view.tickShuffle()
			}
			n.mu.Unlock()
		}
	}
}

// handleStream reads length-prefixed frames off one inbound stream.
func (n *Node) handleStream(s network.Stream) {
	remote := s.Conn().RemotePeer()
	if n.bans.IsBanned(remote) {
		_ = s.Reset()
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer s.Close()
		reader := bufio.NewReader(s)
		for {
			frame, err := readFrame(reader, n.cfg.MaxTransmitSize)
			if err != nil {
				if err != io.EOF {
					log.Gossip.Debug().Stringer("peer", remote).Err(err).Msg("stream read ended")
				}
				return
			}
			n.dispatchFrame(remote, frame)
		}
	}()
}

// dispatchFrame authorizes and routes one inbound frame.
func (n *Node) dispatchFrame(remote peer.ID, f Frame) {
	if n.bans.IsBanned(remote) {
		return
	}
	if !n.cfg.allow(f.Topic, remote) {
		if n.bans.RecordOffense(remote, PenaltyUnauthorized, "not authorized for topic") {
			n.disconnectPeer(remote)
		}
		return
	}

	from := AddressedPeer{ID: remote}
	if addrs := n.host.Peerstore().Addrs(remote); len(addrs) > 0 {
		from.Addr = addrs[0]
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.topics[f.Topic]
	if !ok {
		log.Gossip.Debug().Str("topic", f.Topic).Msg("frame for unsubscribed topic")
		return
	}
	t.dispatch(from, f)
}

// peerDisconnected reconciles every topic view with a lost connection.
func (n *Node) peerDisconnected(id peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if link, ok := n.links[id]; ok {
		close(link.stop)
		delete(n.links, id)
	}
	for _, t := range n.topics {
		t.view.peerDown(id)
	}
}

// nodeTransport adapts *Node to the transport interface the overlay
// layers use. Calls arrive with n.mu held, so it only enqueues.
type nodeTransport Node

func (nt *nodeTransport) send(to peer.ID, f Frame) {
	n := (*Node)(nt)
	link, ok := n.links[to]
	if !ok {
		link = &peerLink{id: to, out: make(chan Frame, outboundQueue), stop: make(chan struct{})}
		n.links[to] = link
		n.wg.Add(1)
		go n.writeLoop(link)
	}
	select {
	case link.out <- f:
	default:
		log.Gossip.Warn().Stringer("peer", to).Stringer("kind", f.Kind).Msg("outbound queue full, frame dropped")
	}
}

func (nt *nodeTransport) addAddress(p AddressedPeer) {
	n := (*Node)(nt)
	if p.Addr != nil {
		n.host.Peerstore().AddAddrs(p.ID, []multiaddr.Multiaddr{p.Addr}, peerstore.PermanentAddrTTL)
	}
}

func (nt *nodeTransport) disconnect(id peer.ID) {
	n := (*Node)(nt)
	if link, ok := n.links[id]; ok {
		close(link.stop)
		delete(n.links, id)
	}
	go func() {
		_ = n.host.Network().ClosePeer(id)
	}()
}

// disconnectPeer is the locked-entry variant used by the ban path.
func (n *Node) disconnectPeer(id peer.ID) {
	n.mu.Lock()
	if link, ok := n.links[id]; ok {
		close(link.stop)
		delete(n.links, id)
	}
	n.mu.Unlock()
	_ = n.host.Network().ClosePeer(id)
}

// writeLoop owns one peer's outbound stream, opening it lazily and
// writing queued frames until the link is dropped.
func (n *Node) writeLoop(link *peerLink) {
	defer n.wg.Done()

	var stream network.Stream
	defer func() {
		if stream != nil {
			_ = stream.Close()
		}
	}()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-link.stop:
			return
		case f := <-link.out:
			if stream == nil {
				var err error
				stream, err = n.host.NewStream(n.ctx, link.id, ProtocolID)
				if err != nil {
					log.Gossip.Debug().Stringer("peer", link.id).Err(err).Msg("stream open failed")
					n.peerDisconnected(link.id)
					return
				}
			}
			if err := writeFrame(stream, f); err != nil {
				log.Gossip.Debug().Stringer("peer", link.id).Err(err).Msg("stream write failed")
				n.peerDisconnected(link.id)
				return
			}
		}
	}
}

// Frames travel length-prefixed: a 4-byte big-endian length followed
// by the encoded frame.

func writeFrame(w io.Writer, f Frame) error {
	buf := encodeFrame(f)
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(buf)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader, maxSize uint64) (Frame, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return Frame{}, err
	}
	size := binary.BigEndian.Uint32(length[:])
	if maxSize > 0 && uint64(size) > maxSize {
		return Frame{}, fmt.Errorf("gossip: frame of %d bytes exceeds transmit limit", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Frame{}, err
	}
	return decodeFrame(buf)
}
