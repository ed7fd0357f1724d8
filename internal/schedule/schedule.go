// Package schedule derives the deterministic stake-weighted leader
// sequence every validator computes independently, and aligns its
// emission to wall-clock slot boundaries.
package schedule

import (
	"fmt"
	"sort"

	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/crypto"
	"github.com/forgelabs/forgecore/pkg/types"
)

// ValidatorSchedule is an infinite deterministic sequence of validators,
// sampled from a stake-weighted distribution by a ChaCha20 keystream
// seeded with the genesis hash. Two validators constructed from the same
// genesis yield byte-identical sequences forever.
type ValidatorSchedule struct {
	rng        *crypto.SchedulePRNG
	validators []block.ValidatorStake
	cumulative []uint64
	total      uint64
}

// New builds a schedule over genesis's validators, excluding any whose
// stake falls below the minimum. The eligible set is sorted by (pubkey,
// stake) so the sampling index space is identical on every node
// regardless of genesis file listing order.
func New(seed types.Hash, genesis *block.Genesis) (*ValidatorSchedule, error) {
	var eligible []block.ValidatorStake
	for _, v := range genesis.SortedValidators() {
		if v.Stake >= genesis.MinimumStake {
			eligible = append(eligible, v)
		}
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("schedule: no validator meets the minimum stake %d", genesis.MinimumStake)
	}

	cumulative := make([]uint64, len(eligible))
	var total uint64
	for i, v := range eligible {
		total += v.Stake
		cumulative[i] = total
	}

	return &ValidatorSchedule{
		rng:        crypto.NewSchedulePRNG(seed),
		validators: eligible,
		cumulative: cumulative,
		total:      total,
	}, nil
}

// Next returns the leader for the next slot. Sampling draws a uniform
// point in [0, total stake) and binary-searches the cumulative stake
// table, so a validator's chance of leading a slot is proportional to
// its stake.
func (s *ValidatorSchedule) Next() block.ValidatorStake {
	draw := s.draw()
	i := sort.Search(len(s.cumulative), func(i int) bool { return s.cumulative[i] > draw })
	return s.validators[i]
}

// Skip advances the sequence by n slots without returning leaders, used
// to fast-forward to the current wall-clock slot on a late start.
func (s *ValidatorSchedule) Skip(n uint64) {
	for i := uint64(0); i < n; i++ {
		s.draw()
	}
}

// draw samples uniformly from [0, total) by rejecting keystream values
// in the truncated tail of the uint64 range, keeping the distribution
// exact rather than modulo-biased. The rejection loop terminates with
// overwhelming probability after one or two iterations and is identical
// on every validator because the keystream is.
func (s *ValidatorSchedule) draw() uint64 {
	limit := ^uint64(0) - ^uint64(0)%s.total
	for {
		v := s.rng.Uint64()
		if v < limit {
			return v % s.total
		}
	}
}
