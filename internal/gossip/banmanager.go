package gossip

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/forgelabs/forgecore/internal/log"
)

// Ban tuning.
const (
	// BanThreshold is the offense score at which a peer is refused.
	BanThreshold = 100
	// BanCooldown is how long a ban lasts before the peer may rejoin.
	BanCooldown = 10 * time.Minute
)

// Penalty values per offense class.
const (
	// PenaltyInvalidPayload is charged for a gossiped block or vote
	// that fails signature or decode checks.
	PenaltyInvalidPayload = 50
	// PenaltyOversized is charged for frames above the transmit limit.
	PenaltyOversized = 20
	// PenaltyUnauthorized is an instant ban: the peer is not in the
	// validator set for this chain at all.
	PenaltyUnauthorized = 100
)

// BanManager accrues offense scores per peer and evicts the ones that
// cross the threshold for a cooldown window. Scores live in memory
// only: a restart forgives, which is acceptable because the authorizer
// still refuses non-validators outright.
type BanManager struct {
	mu     sync.Mutex
	scores map[peer.ID]int
	bans   map[peer.ID]time.Time
	now    func() time.Time
}

// NewBanManager returns an empty score table.
func NewBanManager() *BanManager {
	return &BanManager{
		scores: make(map[peer.ID]int),
		bans:   make(map[peer.ID]time.Time),
		now:    time.Now,
	}
}

// RecordOffense charges penalty against id, reporting whether the peer
// is now (or already was) banned.
func (bm *BanManager) RecordOffense(id peer.ID, penalty int, reason string) bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if until, banned := bm.bans[id]; banned {
		if bm.now().Before(until) {
			return true
		}
		delete(bm.bans, id)
	}

	bm.scores[id] += penalty
	if bm.scores[id] < BanThreshold {
		return false
	}

	bm.bans[id] = bm.now().Add(BanCooldown)
	delete(bm.scores, id)
	log.Gossip.Warn().
		Stringer("peer", id).
		Str("reason", reason).
		Dur("cooldown", BanCooldown).
		Msg("peer banned")
	return true
}

// IsBanned reports whether id is inside an active ban window.
func (bm *BanManager) IsBanned(id peer.ID) bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	until, banned := bm.bans[id]
	if !banned {
		return false
	}
	if bm.now().Before(until) {
		return true
	}
	delete(bm.bans, id)
	return false
}
