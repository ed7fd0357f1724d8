// Package mempool holds signed transactions waiting for block
// inclusion. The pool is drained by the local block producer and
// trimmed as other validators' blocks arrive carrying transactions it
// still holds.
package mempool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/forgelabs/forgecore/internal/log"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/types"
)

// Pool errors.
var (
	ErrAlreadyExists = errors.New("mempool: transaction already pending")
	ErrPoolFull      = errors.New("mempool: pool is full")
	ErrBadSignature  = errors.New("mempool: transaction signature invalid")
	ErrTooLarge      = errors.New("mempool: transaction params exceed limit")
)

// Pool is a FIFO set of pending transactions, deduplicated by hash.
// The producer drains it on its leader slots; the RPC surface feeds it
// from another goroutine, hence the lock.
type Pool struct {
	mu        sync.Mutex
	txs       map[types.Hash]block.Transaction
	order     []types.Hash
	maxSize   int
	maxTxSize uint64
}

// New creates a pool bounded at maxSize transactions, rejecting
// transactions whose params exceed maxTxSize bytes.
func New(maxSize int, maxTxSize uint64) *Pool {
	if maxSize <= 0 {
		maxSize = 5000
	}
	return &Pool{
		txs:       make(map[types.Hash]block.Transaction),
		maxSize:   maxSize,
		maxTxSize: maxTxSize,
	}
}

// Add validates and queues one transaction.
func (p *Pool) Add(tx block.Transaction) error {
	if p.maxTxSize > 0 && uint64(len(tx.Params)) > p.maxTxSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(tx.Params))
	}
	if !tx.VerifySignatures() {
		return ErrBadSignature
	}

	hash := tx.Hash()
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.txs[hash]; dup {
		return ErrAlreadyExists
	}
	if len(p.txs) >= p.maxSize {
		return ErrPoolFull
	}
	p.txs[hash] = tx
	p.order = append(p.order, hash)
	log.Producer.Debug().Stringer("tx", hash).Int("pending", len(p.txs)).Msg("transaction queued")
	return nil
}

// Drain removes and returns pending transactions in arrival order, up
// to maxTxs transactions and maxBytes of estimated payload size.
func (p *Pool) Drain(maxTxs int, maxBytes uint64) []block.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	var selected []block.Transaction
	var bytes uint64
	taken := 0
	for _, hash := range p.order {
		tx, ok := p.txs[hash]
		if !ok {
			taken++
			continue
		}
		if maxTxs > 0 && len(selected) >= maxTxs {
			break
		}
		size := uint64(block.Payload{Transactions: []block.Transaction{tx}}.Size())
		if maxBytes > 0 && bytes+size > maxBytes {
			break
		}
		selected = append(selected, tx)
		bytes += size
		delete(p.txs, hash)
		taken++
	}
	p.order = p.order[taken:]
	return selected
}

// RemovePayload discards any pending transaction that appears in an
// included block's payload, so it is not proposed twice.
func (p *Pool) RemovePayload(payload block.Payload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range payload.Transactions {
		delete(p.txs, payload.Transactions[i].Hash())
	}
}

// Len returns the number of pending transactions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}
