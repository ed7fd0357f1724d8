package gossip

import (
	"math/rand"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/forgelabs/forgecore/internal/log"
)

// transport is what the membership and broadcast layers need from the
// connection layer: frame delivery (dialing on demand), address-book
// updates, and connection teardown.
type transport interface {
	send(to peer.ID, f Frame)
	addAddress(p AddressedPeer)
	disconnect(id peer.ID)
}

// view is one topic's HyParView state: a small active view of
// long-lived symmetric links and a larger passive view of dial
// candidates used to refill the active view on failures.
type view struct {
	topic string
	cfg   Config
	self  AddressedPeer
	tr    transport
	rng   *rand.Rand

	active  map[peer.ID]AddressedPeer
	passive map[peer.ID]AddressedPeer

	// Tree hooks: the broadcast layer tracks active-view churn to keep
	// its eager/lazy classification consistent.
	onNeighborUp   func(id peer.ID)
	onNeighborDown func(id peer.ID)
}

func newView(topic string, cfg Config, self AddressedPeer, tr transport, rng *rand.Rand) *view {
	return &view{
		topic:          topic,
		cfg:            cfg,
		self:           self,
		tr:             tr,
		rng:            rng,
		active:         make(map[peer.ID]AddressedPeer),
		passive:        make(map[peer.ID]AddressedPeer),
		onNeighborUp:   func(peer.ID) {},
		onNeighborDown: func(peer.ID) {},
	}
}

// join initiates membership through a bootstrap contact.
func (v *view) join(contact AddressedPeer) {
	v.tr.addAddress(contact)
	v.tr.send(contact.ID, Frame{
		Topic: v.topic,
		Kind:  frameJoin,
		TTL:   v.cfg.ActiveWalkLength(),
	})
}

// addActive links p into the active view, evicting a random member to
// passive if the view is full. Reports whether p is newly active.
func (v *view) addActive(p AddressedPeer) bool {
	if p.ID == v.self.ID {
		return false
	}
	if _, already := v.active[p.ID]; already {
		return false
	}
	delete(v.passive, p.ID)

	if len(v.active) >= v.cfg.MaxActiveViewSize() {
		v.evictRandomActive()
	}

	v.tr.addAddress(p)
	v.active[p.ID] = p
	v.onNeighborUp(p.ID)
	log.Gossip.Debug().
		Str("topic", v.topic).
		Stringer("peer", p.ID).
		Int("active", len(v.active)).
		Msg("peer joined active view")
	return true
}

// evictRandomActive demotes one active peer to passive, telling it the
// link is closing but the node stays alive.
func (v *view) evictRandomActive() {
	victim, ok := v.randomActive()
	if !ok {
		return
	}
	v.tr.send(victim.ID, Frame{Topic: v.topic, Kind: frameDisconnect, Alive: true})
	delete(v.active, victim.ID)
	v.onNeighborDown(victim.ID)
	v.addPassive(victim)
}

// handleJoin admits a new member and spreads the news: ForwardJoin
// random-walks through the overlay so the joiner lands in several
// distant views.
func (v *view) handleJoin(from AddressedPeer, ttl uint32) {
	v.addActive(from)
	for id := range v.active {
		if id == from.ID {
			continue
		}
		v.tr.send(id, Frame{
			Topic: v.topic,
			Kind:  frameForwardJoin,
			Peer:  from,
			TTL:   ttl - 1,
		})
	}
}

// handleForwardJoin either accepts the walking joiner (walk exhausted
// or nowhere to forward) or passes it one hop further.
func (v *view) handleForwardJoin(sender peer.ID, joiner AddressedPeer, ttl uint32) {
	if joiner.ID == v.self.ID {
		return
	}
	if ttl == 0 || len(v.active) <= 1 {
		if v.addActive(joiner) {
			// Symmetric link: tell the joiner we are now its neighbor.
			v.tr.send(joiner.ID, Frame{Topic: v.topic, Kind: frameNeighbor})
		}
		return
	}
	v.addPassive(joiner)

	// Forward to a random active peer other than the sender and joiner.
	candidates := make([]peer.ID, 0, len(v.active))
	for id := range v.active {
		if id != sender && id != joiner.ID {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		if v.addActive(joiner) {
			v.tr.send(joiner.ID, Frame{Topic: v.topic, Kind: frameNeighbor})
		}
		return
	}
	next := candidates[v.rng.Intn(len(candidates))]
	v.tr.send(next, Frame{
		Topic: v.topic,
		Kind:  frameForwardJoin,
		Peer:  joiner,
		TTL:   ttl - 1,
	})
}

// handleNeighbor accepts a symmetric-link request.
func (v *view) handleNeighbor(from AddressedPeer) {
	v.addActive(from)
}

// handleDisconnect removes the peer from the active view; alive peers
// stay known through the passive view, dead ones are forgotten.
func (v *view) handleDisconnect(from AddressedPeer, alive bool) {
	if _, wasActive := v.active[from.ID]; wasActive {
		delete(v.active, from.ID)
		v.onNeighborDown(from.ID)
	}
	if alive {
		v.addPassive(from)
	} else {
		delete(v.passive, from.ID)
		v.tr.disconnect(from.ID)
	}
	v.maintain(from.ID)
}

// peerDown handles a transport-level connection loss.
func (v *view) peerDown(id peer.ID) {
	if _, wasActive := v.active[id]; wasActive {
		delete(v.active, id)
		v.onNeighborDown(id)
	}
	v.maintain("")
}

// handleShuffle walks the shuffle request until its TTL runs out, then
// answers with a disjoint sample and merges the received one.
func (v *view) handleShuffle(sender peer.ID, origin AddressedPeer, ttl uint32, offered []AddressedPeer) {
	if ttl > 0 && len(v.active) > 1 {
		candidates := make([]peer.ID, 0, len(v.active))
		for id := range v.active {
			if id != sender && id != origin.ID {
				candidates = append(candidates, id)
			}
		}
		if len(candidates) > 0 {
			next := candidates[v.rng.Intn(len(candidates))]
			v.tr.send(next, Frame{
				Topic: v.topic,
				Kind:  frameShuffle,
				Peer:  origin,
				TTL:   ttl - 1,
				Peers: offered,
			})
			return
		}
	}

	// Answer the origin with a sample that excludes what it sent us.
	exclude := make(map[peer.ID]struct{}, len(offered)+1)
	exclude[origin.ID] = struct{}{}
	for _, p := range offered {
		exclude[p.ID] = struct{}{}
	}
	reply := v.sample(v.cfg.ShuffleSampleSize(), exclude)
	v.tr.addAddress(origin)
	v.tr.send(origin.ID, Frame{Topic: v.topic, Kind: frameShuffleReply, Peers: reply})

	v.mergeIntoPassive(offered)
}

// handleShuffleReply merges the answered sample.
func (v *view) handleShuffleReply(offered []AddressedPeer) {
	v.mergeIntoPassive(offered)
}

// tickShuffle starts one shuffle round with a random active peer,
// gated by the configured probability.
func (v *view) tickShuffle() {
	if v.rng.Float64() >= v.cfg.ShuffleProbability {
		return
	}
	target, ok := v.randomActive()
	if !ok {
		return
	}
	sample := v.sample(v.cfg.ShuffleSampleSize(), map[peer.ID]struct{}{target.ID: {}})
	v.tr.send(target.ID, Frame{
		Topic: v.topic,
		Kind:  frameShuffle,
		Peer:  v.self,
		TTL:   v.cfg.ActiveWalkLength(),
		Peers: sample,
	})
}

// maintain refills a starved active view from the passive view,
// skipping exclude (the peer that just hung up on us).
func (v *view) maintain(exclude peer.ID) {
	if len(v.active) >= v.cfg.MinActiveViewSize() {
		return
	}
	for id, p := range v.passive {
		if id == exclude {
			continue
		}
		delete(v.passive, id)
		if v.addActive(p) {
			v.tr.send(p.ID, Frame{Topic: v.topic, Kind: frameNeighbor})
			return
		}
	}
}

// addPassive inserts p into the passive view, trimming a random entry
// above the cap.
func (v *view) addPassive(p AddressedPeer) {
	if p.ID == v.self.ID {
		return
	}
	if _, isActive := v.active[p.ID]; isActive {
		return
	}
	if _, dup := v.passive[p.ID]; dup {
		return
	}
	for len(v.passive) >= v.cfg.MaxPassiveViewSize() {
		for id := range v.passive {
			delete(v.passive, id)
			break
		}
	}
	v.passive[p.ID] = p
}

func (v *view) mergeIntoPassive(peers []AddressedPeer) {
	for _, p := range peers {
		v.addPassive(p)
	}
}

// sample draws up to n distinct known peers (active preferred, then
// passive), skipping the excluded set and self.
func (v *view) sample(n int, exclude map[peer.ID]struct{}) []AddressedPeer {
	var pool []AddressedPeer
	for _, p := range v.active {
		if _, skip := exclude[p.ID]; !skip {
			pool = append(pool, p)
		}
	}
	for _, p := range v.passive {
		if _, skip := exclude[p.ID]; !skip {
			pool = append(pool, p)
		}
	}
	v.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if len(pool) > n {
		pool = pool[:n]
	}
	return pool
}

func (v *view) randomActive() (AddressedPeer, bool) {
	if len(v.active) == 0 {
		return AddressedPeer{}, false
	}
	i := v.rng.Intn(len(v.active))
	for _, p := range v.active {
		if i == 0 {
			return p, true
		}
		i--
	}
	return AddressedPeer{}, false
}

// activePeers snapshots the active view's ids.
func (v *view) activePeers() []peer.ID {
	out := make([]peer.ID, 0, len(v.active))
	for id := range v.active {
		out = append(out, id)
	}
	return out
}
