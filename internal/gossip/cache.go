package gossip

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// cachedMessage is one delivered payload retained for dedup, graft
// replies, and lazy IHAVE digests. from is the eager edge the payload
// arrived over (empty for locally published messages), kept for the
// hop-count tree optimization.
type cachedMessage struct {
	id      uint64
	hops    uint32
	payload []byte
	from    peer.ID
	at      time.Time
}

// messageCache retains recently seen messages for one topic. Entries
// age out of the IHAVE digest after the lazy-push window and out of the
// cache entirely after the history window.
type messageCache struct {
	history  time.Duration
	lazyPush time.Duration
	entries  map[uint64]*cachedMessage
	order    []uint64
	now      func() time.Time
}

func newMessageCache(history, lazyPush time.Duration) *messageCache {
	return &messageCache{
		history:  history,
		lazyPush: lazyPush,
		entries:  make(map[uint64]*cachedMessage),
		now:      time.Now,
	}
}

// insert records a first-seen message, reporting false on duplicates.
func (c *messageCache) insert(id uint64, hops uint32, payload []byte, from peer.ID) bool {
	if _, dup := c.entries[id]; dup {
		return false
	}
	c.entries[id] = &cachedMessage{id: id, hops: hops, payload: payload, from: from, at: c.now()}
	c.order = append(c.order, id)
	return true
}

// seen reports whether id is in the retained history.
func (c *messageCache) seen(id uint64) bool {
	_, ok := c.entries[id]
	return ok
}

// get returns a retained payload for graft service.
func (c *messageCache) get(id uint64) (*cachedMessage, bool) {
	m, ok := c.entries[id]
	return m, ok
}

// digest returns the (id, hops) entries still inside the lazy-push
// window, the content of the next IHAVE batch.
func (c *messageCache) digest() []IHaveEntry {
	cutoff := c.now().Add(-c.lazyPush)
	var out []IHaveEntry
	for _, id := range c.order {
		m, ok := c.entries[id]
		if !ok || m.at.Before(cutoff) {
			continue
		}
		out = append(out, IHaveEntry{ID: m.id, Hops: m.hops})
	}
	return out
}

// expire drops entries older than the history window.
func (c *messageCache) expire() {
	cutoff := c.now().Add(-c.history)
	kept := c.order[:0]
	for _, id := range c.order {
		m, ok := c.entries[id]
		if !ok {
			continue
		}
		if m.at.Before(cutoff) {
			delete(c.entries, id)
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
}
