package schedule

import (
	"github.com/forgelabs/forgecore/pkg/types"
)

// Lookup answers "who leads slot N" for arbitrary slots by memoizing
// the sequential schedule as far as it has been asked. The chain uses
// it to reject blocks whose producer was not on schedule for the slot
// they claim.
type Lookup struct {
	sched   *ValidatorSchedule
	leaders []types.Pubkey
}

// NewLookup wraps a fresh schedule. The schedule must not be advanced
// by anyone else.
func NewLookup(sched *ValidatorSchedule) *Lookup {
	return &Lookup{sched: sched}
}

// LeaderAt returns the validator scheduled for slot.
func (l *Lookup) LeaderAt(slot uint64) types.Pubkey {
	for uint64(len(l.leaders)) <= slot {
		l.leaders = append(l.leaders, l.sched.Next().Pubkey)
	}
	return l.leaders[slot]
}
