package gossip

import (
	"testing"
	"time"
)

func TestCacheDedupAndDigest(t *testing.T) {
	c := newMessageCache(30*time.Second, 2*time.Second)
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }

	if !c.insert(1, 2, []byte("a"), "p") {
		t.Fatal("first insert rejected")
	}
	if c.insert(1, 5, []byte("a"), "q") {
		t.Fatal("duplicate insert accepted")
	}
	if !c.seen(1) {
		t.Fatal("seen lost the entry")
	}

	digest := c.digest()
	if len(digest) != 1 || digest[0].ID != 1 || digest[0].Hops != 2 {
		t.Fatalf("digest wrong: %+v", digest)
	}

	// Outside the lazy-push window the id stops being advertised but is
	// still held for graft service.
	now = now.Add(3 * time.Second)
	if len(c.digest()) != 0 {
		t.Fatal("stale id still advertised")
	}
	if _, ok := c.get(1); !ok {
		t.Fatal("payload evicted before the history window")
	}

	// Past the history window the entry is gone entirely.
	now = now.Add(30 * time.Second)
	c.expire()
	if c.seen(1) {
		t.Fatal("entry survived the history window")
	}
}

func TestBanManagerThresholdAndCooldown(t *testing.T) {
	bm := NewBanManager()
	now := time.Unix(1700000000, 0)
	bm.now = func() time.Time { return now }

	id := testPeer(1).ID
	if bm.RecordOffense(id, PenaltyOversized, "oversized") {
		t.Fatal("banned below threshold")
	}
	if !bm.RecordOffense(id, PenaltyUnauthorized, "unauthorized") {
		t.Fatal("threshold crossing did not ban")
	}
	if !bm.IsBanned(id) {
		t.Fatal("ban not active")
	}

	// The ban lapses after the cooldown.
	now = now.Add(BanCooldown + time.Second)
	if bm.IsBanned(id) {
		t.Fatal("ban survived its cooldown")
	}
}
