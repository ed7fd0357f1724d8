package vote

import "github.com/forgelabs/forgecore/pkg/types"

// FaultKind distinguishes the consensus faults this codebase can detect.
// Equivocation is the only kind observable from votes alone; malformed
// messages are caught before a Vote value ever exists and are reported as
// validation errors, not faults.
type FaultKind int

const (
	// FaultEquivocation records a single validator having signed two votes
	// whose targets sit at the same epoch height but differ -- a
	// double-vote. Detection only: nothing consumes the evidence to
	// slash stake.
	FaultEquivocation FaultKind = iota
)

func (k FaultKind) String() string {
	switch k {
	case FaultEquivocation:
		return "equivocation"
	default:
		return "unknown-fault"
	}
}

// Fault is the evidence for one detected consensus fault: two signed votes
// by the same validator that cannot both be honest.
type Fault struct {
	Kind      FaultKind
	Validator types.Pubkey
	First     Vote
	Second    Vote
}

// DetectEquivocation reports a Fault if a and b are both signed by the
// same validator, target the same epoch height (heightA and heightB are
// the caller-supplied heights of each vote's target, since Vote itself
// carries no height), and name different targets.
func DetectEquivocation(a, b Vote, heightA, heightB uint64) (Fault, bool) {
	if a.Validator != b.Validator {
		return Fault{}, false
	}
	if heightA != heightB {
		return Fault{}, false
	}
	if a.Target == b.Target {
		return Fault{}, false
	}
	return Fault{Kind: FaultEquivocation, Validator: a.Validator, First: a, Second: b}, true
}

// Detector is where a chain aggregator reports faults as it finds them.
// The default, NopDetector, discards every report; nothing acts on a
// fault (see DESIGN.md's Open Question decision on equivocation).
type Detector interface {
	Report(Fault)
}

// NopDetector discards every fault reported to it.
type NopDetector struct{}

func (NopDetector) Report(Fault) {}
