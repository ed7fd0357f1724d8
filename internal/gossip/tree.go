package gossip

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/forgelabs/forgecore/internal/log"
)

// missingRecord tracks a message known only through IHAVE digests: who
// announced it and when, so a graft can be issued if the payload never
// arrives through the eager tree.
type missingRecord struct {
	firstSeen  time.Time
	announcers []peer.ID
	hops       uint32
	grafted    bool
}

// tree is one topic's Plumtree state: every active-view peer is either
// eager (receives full payloads immediately) or lazy (receives only
// periodic IHAVE digests). Duplicates prune eager links into lazy ones;
// missing payloads graft lazy links back to eager, so the overlay
// converges on a spanning tree that repairs itself.
type tree struct {
	topic string
	cfg   Config
	tr    transport
	cache *messageCache

	eager map[peer.ID]struct{}
	lazy  map[peer.ID]struct{}

	missing map[uint64]*missingRecord

	// deliver hands a first-seen payload to the application.
	deliver func(from peer.ID, payload []byte)
	now     func() time.Time
}

func newTree(topic string, cfg Config, tr transport, deliver func(peer.ID, []byte)) *tree {
	return &tree{
		topic:   topic,
		cfg:     cfg,
		tr:      tr,
		cache:   newMessageCache(cfg.HistoryWindow, cfg.LazyPushWindow),
		eager:   make(map[peer.ID]struct{}),
		lazy:    make(map[peer.ID]struct{}),
		missing: make(map[uint64]*missingRecord),
		deliver: deliver,
		now:     time.Now,
	}
}

// neighborUp starts a fresh link eager; duplicates will demote it.
func (t *tree) neighborUp(id peer.ID) {
	delete(t.lazy, id)
	t.eager[id] = struct{}{}
}

// neighborDown forgets a lost link entirely.
func (t *tree) neighborDown(id peer.ID) {
	delete(t.eager, id)
	delete(t.lazy, id)
	for _, rec := range t.missing {
		rec.dropAnnouncer(id)
	}
}

func (r *missingRecord) dropAnnouncer(id peer.ID) {
	kept := r.announcers[:0]
	for _, a := range r.announcers {
		if a != id {
			kept = append(kept, a)
		}
	}
	r.announcers = kept
}

// publish injects a locally originated message: cache it and push the
// full payload down every eager link.
func (t *tree) publish(id uint64, payload []byte) {
	if !t.cache.insert(id, 0, payload, "") {
		return
	}
	for peerID := range t.eager {
		t.tr.send(peerID, Frame{
			Topic:   t.topic,
			Kind:    frameMessage,
			ID:      id,
			Hops:    1,
			Payload: payload,
		})
	}
}

// handleMessage processes a full payload from a peer. First receipt:
// deliver locally, forward to the other eager peers, and make sure the
// sender is classified eager. Duplicate receipt: the sender sits on a
// redundant tree edge, demote it to lazy with a Prune.
func (t *tree) handleMessage(from peer.ID, id uint64, hops uint32, payload []byte) {
	if t.cache.seen(id) {
		t.demoteToLazy(from)
		t.tr.send(from, Frame{Topic: t.topic, Kind: framePrune})
		return
	}

	t.cache.insert(id, hops, payload, from)
	delete(t.missing, id)
	t.promoteToEager(from)
	t.deliver(from, payload)

	for peerID := range t.eager {
		if peerID == from {
			continue
		}
		t.tr.send(peerID, Frame{
			Topic:   t.topic,
			Kind:    frameMessage,
			ID:      id,
			Hops:    hops + 1,
			Payload: payload,
		})
	}
}

// handleIHave digests a lazy peer's announcements. Unknown ids are
// remembered for the graft timer. Ids already received through the
// eager tree feed the hop-count optimization: a sufficiently shorter
// lazy path replaces the eager edge the payload actually came from.
func (t *tree) handleIHave(from peer.ID, entries []IHaveEntry) {
	for _, e := range entries {
		if cached, ok := t.cache.get(e.ID); ok {
			if e.Hops+t.cfg.HopOptimizationFactor < cached.hops {
				// The lazy path is meaningfully shorter: rewire the tree
				// toward the announcer and drop the slower eager edge.
				t.promoteToEager(from)
				t.tr.send(from, Frame{Topic: t.topic, Kind: frameGraft})
				if cached.from != "" {
					t.demoteToLazy(cached.from)
					t.tr.send(cached.from, Frame{Topic: t.topic, Kind: framePrune})
				}
				log.Gossip.Debug().
					Str("topic", t.topic).
					Stringer("peer", from).
					Uint32("lazy_hops", e.Hops).
					Uint32("eager_hops", cached.hops).
					Msg("tree optimization graft")
			}
			continue
		}

		rec, ok := t.missing[e.ID]
		if !ok {
			rec = &missingRecord{firstSeen: t.now(), hops: e.Hops}
			t.missing[e.ID] = rec
		}
		rec.announcers = append(rec.announcers, from)
	}
}

// handleGraft turns the link eager again and serves the requested
// payloads from history.
func (t *tree) handleGraft(from peer.ID, ids []uint64) {
	t.promoteToEager(from)
	for _, id := range ids {
		if m, ok := t.cache.get(id); ok {
			t.tr.send(from, Frame{
				Topic:   t.topic,
				Kind:    frameMessage,
				ID:      m.id,
				Hops:    m.hops + 1,
				Payload: m.payload,
			})
		}
	}
}

// handlePrune demotes the link: this peer will get digests only.
func (t *tree) handlePrune(from peer.ID) {
	t.demoteToLazy(from)
}

// tick runs the periodic work: advertise recent ids to lazy peers,
// graft toward announcers of messages the eager tree failed to
// deliver, and age the history out.
func (t *tree) tick() {
	t.sendIHaves()
	t.graftMissing()
	t.cache.expire()
}

func (t *tree) sendIHaves() {
	digest := t.cache.digest()
	if len(digest) == 0 {
		return
	}
	for peerID := range t.lazy {
		t.tr.send(peerID, Frame{Topic: t.topic, Kind: frameIHave, IHaves: digest})
	}
}

// graftMissing requests payloads announced but never delivered within
// roughly two tick periods.
func (t *tree) graftMissing() {
	timeout := 2 * t.cfg.TickFrequency
	now := t.now()
	for id, rec := range t.missing {
		if rec.grafted || now.Sub(rec.firstSeen) < timeout {
			continue
		}
		if len(rec.announcers) == 0 {
			delete(t.missing, id)
			continue
		}
		target := rec.announcers[0]
		rec.grafted = true
		t.promoteToEager(target)
		t.tr.send(target, Frame{Topic: t.topic, Kind: frameGraft, Grafts: []uint64{id}})
	}
}

func (t *tree) promoteToEager(id peer.ID) {
	delete(t.lazy, id)
	t.eager[id] = struct{}{}
}

func (t *tree) demoteToLazy(id peer.ID) {
	delete(t.eager, id)
	t.lazy[id] = struct{}{}
}
