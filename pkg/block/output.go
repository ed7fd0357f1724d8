package block

import (
	"github.com/forgelabs/forgecore/internal/state"
	"github.com/forgelabs/forgecore/pkg/crypto"
	"github.com/forgelabs/forgecore/pkg/types"
)

// LogEntry is one key/value pair a contract emitted during execution.
type LogEntry struct {
	Key   string
	Value []byte
}

// errEntry carries a transaction-level error as a plain message string,
// since contract-level errors must round-trip through a
// content hash and Go's error interface does not guarantee that.
type errEntry struct {
	hash    types.Hash
	message string
}

// BlockOutput is the result of executing a block's payload: the
// accumulated state diff, and per-transaction logs/errors, both keyed by
// transaction hash and insertion-ordered so the overall hash is
// deterministic without needing a secondary sort key.
type BlockOutput struct {
	State *state.StateDiff

	logOrder []types.Hash
	logs     map[types.Hash][]LogEntry

	errOrder []types.Hash
	errs     map[types.Hash]errEntry
}

// NewBlockOutput returns an output with an empty diff and no logs/errors.
func NewBlockOutput() *BlockOutput {
	return &BlockOutput{
		State: state.NewStateDiff(),
		logs:  make(map[types.Hash][]LogEntry),
		errs:  make(map[types.Hash]errEntry),
	}
}

// AppendLog records one log entry for txHash, in emission order.
func (o *BlockOutput) AppendLog(txHash types.Hash, key string, value []byte) {
	if _, ok := o.logs[txHash]; !ok {
		o.logOrder = append(o.logOrder, txHash)
	}
	o.logs[txHash] = append(o.logs[txHash], LogEntry{Key: key, Value: value})
}

// Logs returns the recorded logs for txHash, in emission order.
func (o *BlockOutput) Logs(txHash types.Hash) []LogEntry {
	return o.logs[txHash]
}

// RecordError records a contract-level error for txHash. Only the first
// error recorded per transaction is kept, matching "one error per failed
// transaction" in BlockOutput.errors.
func (o *BlockOutput) RecordError(txHash types.Hash, err error) {
	if _, ok := o.errs[txHash]; ok {
		return
	}
	o.errOrder = append(o.errOrder, txHash)
	o.errs[txHash] = errEntry{hash: txHash, message: err.Error()}
}

// Error returns the recorded error message for txHash, if any.
func (o *BlockOutput) Error(txHash types.Hash) (string, bool) {
	e, ok := o.errs[txHash]
	return e.message, ok
}

// Hash combines the state diff's hash with the logs and errors maps'
// hashes, each folded in insertion order.
func (o *BlockOutput) Hash() types.Hash {
	logParts := make([][]byte, 0, len(o.logOrder)*2)
	for _, h := range o.logOrder {
		logParts = append(logParts, h.Bytes())
		for _, e := range o.logs[h] {
			logParts = append(logParts, []byte(e.Key), e.Value)
		}
	}
	logsHash := crypto.HashAll(logParts...)

	errParts := make([][]byte, 0, len(o.errOrder)*2)
	for _, h := range o.errOrder {
		errParts = append(errParts, h.Bytes(), []byte(o.errs[h].message))
	}
	errsHash := crypto.HashAll(errParts...)

	return crypto.HashAll(o.State.Hash().Bytes(), logsHash.Bytes(), errsHash.Bytes())
}
