// Package chainerr defines the consensus core's error taxonomy: the
// Validation / Transient / Contract-level / Fatal buckets, each as a
// plain sentinel a caller can match with errors.Is.
package chainerr

import "errors"

// Validation errors: the offending block or vote is rejected and logged;
// execution of the rest of the system continues unaffected.
var (
	ErrBadSignature         = errors.New("chain: bad signature")
	ErrUnknownVoter         = errors.New("chain: vote from unknown validator")
	ErrVoteNotJustified     = errors.New("chain: vote not justified by finalized root")
	ErrJustificationTooOld  = errors.New("chain: vote justification exceeds max justification age")
	ErrStateHashMismatch    = errors.New("chain: block state hash mismatch")
	ErrProducerNotScheduled = errors.New("chain: producer not the scheduled leader for this slot")
	ErrLimitExceeded        = errors.New("chain: block or transaction exceeds a genesis size limit")
	ErrDuplicateBlock       = errors.New("chain: duplicate block")
	ErrUnknownParent        = errors.New("chain: unknown parent, orphaned")
)

// Transient errors: retried automatically by the core, not surfaced as a
// hard failure.
var (
	ErrBlockMissing  = errors.New("chain: block missing, replay requested")
	ErrOrphanPending = errors.New("chain: orphan awaiting parent")
	ErrSendQueued    = errors.New("chain: network send queued for retry")
)

// Contract-level errors: captured per-transaction in BlockOutput.errors.
// They never fail the block containing them.
var (
	ErrInvalidNonce         = errors.New("vm: invalid nonce")
	ErrOwnershipViolation   = errors.New("vm: account ownership violation")
	ErrAccountTooLarge      = errors.New("vm: account exceeds max account size")
	ErrDuplicateAccount     = errors.New("vm: account already exists")
	ErrUnknownContract      = errors.New("vm: unknown contract")
	ErrUnauthorizedWrite    = errors.New("vm: account not writable by transaction")
	ErrNotWritable          = errors.New("vm: account not listed writable by transaction")
	ErrInvokeTooDeep        = errors.New("vm: recursive contract invoke exceeds max depth")
	ErrBadParams            = errors.New("vm: malformed contract parameters")
	ErrInsufficientBalance  = errors.New("vm: insufficient balance")
)

// Fatal errors: the validator logs at Fatal level and shuts down.
var (
	ErrStateStoreWrite  = errors.New("chain: state store write failed")
	ErrHashInconsistent = errors.New("chain: cached block hash inconsistent with fresh computation")
	ErrCorruptPersisted = errors.New("chain: persisted data failed to deserialize")
)
