package block

// Commitment is the confidence level a block has reached in the fork
// tree: admitted, then backed by
// enough descendant stake, then irreversible.
type Commitment uint8

const (
	// Included means the block has been admitted to the fork tree but
	// no descendant has yet accumulated finality-threshold stake.
	Included Commitment = iota
	// Confirmed means a descendant has accumulated at least the
	// finality-threshold fraction of active stake, but finalization has
	// not yet closed two consecutive justified epochs.
	Confirmed
	// Finalized means the block has been collapsed into the durable
	// state store and can never be reverted.
	Finalized
)

func (c Commitment) String() string {
	switch c {
	case Included:
		return "included"
	case Confirmed:
		return "confirmed"
	case Finalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// AtLeast reports whether c has reached at least other's strength.
func (c Commitment) AtLeast(other Commitment) bool {
	return c >= other
}
