// Package gossip implements the validator overlay network: HyParView
// peer sampling (a small active view of long-lived links backed by a
// larger passive view of candidates) and Plumtree epidemic broadcast
// (eager push of payloads along a spanning tree, lazy IHAVE digests
// everywhere else, repaired by graft/prune). It runs over libp2p
// streams, one protocol per chain.
package gossip

import (
	"math"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Authorizer gates every inbound message: (topic, peer) -> allowed. It
// must be fast and must return the same verdict on every honest node,
// otherwise peers start treating each other as protocol violators.
type Authorizer func(topic string, id peer.ID) bool

// Config carries the overlay's tuning parameters. Defaults follow the
// HyParView and Plumtree papers for a network of a few hundred nodes.
type Config struct {
	// NetworkSize is the estimated number of nodes in one topic, the N
	// in the logarithmic view-size formulas.
	NetworkSize int

	// ActiveViewFactor is the additive constant c in |A| = log2(N) + c.
	ActiveViewFactor int

	// PassiveViewFactor is the multiplier k in |P| = k * |A|.
	PassiveViewFactor int

	// MaxTransmitSize bounds any frame, control or payload.
	MaxTransmitSize uint64

	// ShuffleInterval is how often a peer exchange is attempted with a
	// random active peer.
	ShuffleInterval time.Duration

	// ShuffleProbability gates each shuffle attempt, so a fleet sharing
	// one interval does not shuffle in lockstep. 0.0 - 1.0.
	ShuffleProbability float64

	// LazyPushWindow is how long message ids keep being advertised to
	// lazy peers after first receipt.
	LazyPushWindow time.Duration

	// HistoryWindow is how long full payloads are retained to serve
	// graft requests and detect duplicates.
	HistoryWindow time.Duration

	// TickFrequency drives IHAVE batching and missing-message checks.
	TickFrequency time.Duration

	// HopOptimizationFactor is the hop-count advantage an IHAVE path
	// must show over the eager path before the tree is rewired toward
	// it.
	HopOptimizationFactor uint32

	// Authorizer admits or refuses peers per topic. Nil admits all.
	Authorizer Authorizer
}

// DefaultConfig mirrors the paper parameters for a mid-size overlay.
func DefaultConfig() Config {
	return Config{
		NetworkSize:           1000,
		ActiveViewFactor:      1,
		PassiveViewFactor:     6,
		MaxTransmitSize:       1 << 20,
		ShuffleInterval:       60 * time.Second,
		ShuffleProbability:    1.0,
		LazyPushWindow:        2 * time.Second,
		HistoryWindow:         30 * time.Second,
		TickFrequency:         200 * time.Millisecond,
		HopOptimizationFactor: 4,
	}
}

// MaxActiveViewSize is ceil(log2(N)) + c.
func (c Config) MaxActiveViewSize() int {
	n := float64(c.NetworkSize)
	if n < 2 {
		n = 2
	}
	size := int(math.Ceil(math.Log2(n))) + c.ActiveViewFactor
	if size < 1 {
		size = 1
	}
	return size
}

// MinActiveViewSize is the starvation threshold: half the maximum,
// leaving headroom for inbound connections from other nodes.
func (c Config) MinActiveViewSize() int {
	min := c.MaxActiveViewSize() / 2
	if min < 1 {
		min = 1
	}
	return min
}

// MaxPassiveViewSize bounds the backup candidate set.
func (c Config) MaxPassiveViewSize() int {
	return c.MaxActiveViewSize() * c.PassiveViewFactor
}

// ActiveWalkLength is the TTL a Join request random-walks with before
// being accepted where it lands.
func (c Config) ActiveWalkLength() uint32 {
	n := float64(c.NetworkSize)
	if n < 2 {
		n = 2
	}
	walk := uint32(math.Log2(n))
	if walk < 2 {
		walk = 2
	}
	if walk > 6 {
		walk = 6
	}
	return walk
}

// ShuffleSampleSize is how many peers one shuffle message carries.
func (c Config) ShuffleSampleSize() int {
	return c.MaxActiveViewSize() * 2
}

// allow applies the configured authorizer.
func (c Config) allow(topic string, id peer.ID) bool {
	return c.Authorizer == nil || c.Authorizer(topic, id)
}
