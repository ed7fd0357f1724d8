package schedule

import (
	"context"
	"time"

	"github.com/forgelabs/forgecore/internal/log"
	"github.com/forgelabs/forgecore/pkg/block"
)

// SlotLeader is one tick of the schedule stream: the wall-clock slot
// number and the validator expected to produce its block.
type SlotLeader struct {
	Slot   uint64
	Leader block.ValidatorStake
}

// Stream aligns a ValidatorSchedule to wall-clock slot boundaries
// computed from the genesis time and slot interval. It sleeps until the
// end of the current slot, then emits one SlotLeader exactly every slot
// interval. On a late start the underlying schedule is fast-forwarded so
// every validator agrees on which draw belongs to which slot.
type Stream struct {
	ch chan SlotLeader
}

// NewStream starts the ticking goroutine. The stream stops and closes
// its channel when ctx is cancelled.
func NewStream(ctx context.Context, sched *ValidatorSchedule, genesisTime time.Time, slotInterval time.Duration) *Stream {
	s := &Stream{ch: make(chan SlotLeader)}
	go s.run(ctx, sched, genesisTime, slotInterval)
	return s
}

// C is the channel slot ticks arrive on.
func (s *Stream) C() <-chan SlotLeader {
	return s.ch
}

func (s *Stream) run(ctx context.Context, sched *ValidatorSchedule, genesisTime time.Time, slotInterval time.Duration) {
	defer close(s.ch)

	// If the chain has not started yet, sleep until genesis.
	if wait := time.Until(genesisTime); wait > 0 {
		log.Schedule.Info().Dur("wait", wait).Msg("waiting for genesis time")
		if !sleep(ctx, wait) {
			return
		}
	}

	// Which slot are we in right now, and when does the next one start?
	// Emission always begins at the next boundary, never mid-slot.
	elapsed := time.Since(genesisTime)
	slot := uint64(elapsed / slotInterval)
	nextAt := genesisTime.Add(time.Duration(slot+1) * slotInterval)

	// Fast-forward the deterministic sequence past the slots we missed,
	// plus the partial slot we are skipping.
	sched.Skip(slot + 1)

	if !sleep(ctx, time.Until(nextAt)) {
		return
	}
	slot++

	for {
		leader := sched.Next()
		select {
		case s.ch <- SlotLeader{Slot: slot, Leader: leader}:
		case <-ctx.Done():
			return
		}

		nextAt = nextAt.Add(slotInterval)
		if !sleep(ctx, time.Until(nextAt)) {
			return
		}
		slot++
	}
}

// sleep waits for d (no-op when non-positive), reporting false when the
// context ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
