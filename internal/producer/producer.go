// Package producer assembles, executes, and signs new blocks on the
// slots this validator leads, and aggregates gossiped votes for
// inclusion in them.
package producer

import (
	"bytes"
	"sort"

	"github.com/forgelabs/forgecore/internal/consensus"
	"github.com/forgelabs/forgecore/internal/log"
	"github.com/forgelabs/forgecore/internal/mempool"
	"github.com/forgelabs/forgecore/internal/vm"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/crypto"
	"github.com/forgelabs/forgecore/pkg/types"
	"github.com/forgelabs/forgecore/pkg/vote"
)

// outBuffer bounds how many produced blocks may sit unconsumed by the
// main loop. Producing faster than one block per slot never happens, so
// this exists only to keep Produce non-blocking.
const outBuffer = 8

// Producer builds blocks for the slots the local validator leads. The
// vote pool deduplicates by signature: one gossiped vote enters one
// produced block at most once, and votes observed inside other
// validators' blocks are dropped before they can be re-broadcast.
type Producer struct {
	genesis    *block.Genesis
	machine    *vm.Machine
	signer     *crypto.PrivateKey
	pool       *mempool.Pool
	votes      map[string]vote.Vote
	validators map[types.Pubkey]struct{}
	out        chan *block.Produced
}

// New wires a producer to its mempool and signing key.
func New(genesis *block.Genesis, machine *vm.Machine, signer *crypto.PrivateKey, pool *mempool.Pool) *Producer {
	validators := make(map[types.Pubkey]struct{}, len(genesis.Validators))
	for _, v := range genesis.Validators {
		validators[v.Pubkey] = struct{}{}
	}
	return &Producer{
		genesis:    genesis,
		machine:    machine,
		signer:     signer,
		pool:       pool,
		votes:      make(map[string]vote.Vote),
		validators: validators,
		out:        make(chan *block.Produced, outBuffer),
	}
}

// Out is the channel freshly produced blocks arrive on; the main loop
// includes them locally and gossips them out.
func (p *Producer) Out() <-chan *block.Produced {
	return p.out
}

// Pubkey returns the producing validator's identity.
func (p *Producer) Pubkey() types.Pubkey {
	return p.signer.Public()
}

// RecordVote queues a gossiped vote for inclusion in the next produced
// block, dropping votes from keys outside the validator set.
func (p *Producer) RecordVote(v vote.Vote) {
	if _, known := p.validators[v.Validator]; !known {
		return
	}
	if !v.VerifySignature() {
		return
	}
	p.votes[string(v.Signature)] = v
}

// ExcludeVotes drops pool votes already carried by an included block,
// so they are not proposed a second time.
func (p *Producer) ExcludeVotes(b *block.Produced) {
	for _, v := range b.Votes {
		delete(p.votes, string(v.Signature))
	}
}

// PendingVotes returns the number of votes waiting for inclusion.
func (p *Producer) PendingVotes() int {
	return len(p.votes)
}

// Produce builds the block for slot on top of head: drains the
// mempool up to the genesis limits, executes the payload against the
// head's cascading state to fix the declared state hash, attaches the
// pool's votes justified by root, signs, and emits the result.
func (p *Producer) Produce(slot uint64, head consensus.Head, root types.Hash) {
	txs := p.pool.Drain(int(p.genesis.MaxBlockTxs), p.genesis.MaxBlockSize)

	var votes []vote.Vote
	for sig, v := range p.votes {
		if v.Justification != root {
			// Stale justification: the vote can never count under the
			// current finalized root.
			delete(p.votes, sig)
			continue
		}
		votes = append(votes, v)
	}
	sortVotes(votes)
	for _, v := range votes {
		delete(p.votes, string(v.Signature))
	}

	b := &block.Produced{
		Parent:  head.Hash,
		Height:  head.Height + 1,
		Slot:    slot,
		Payload: block.Payload{Transactions: txs},
		Votes:   votes,
	}
	output := p.machine.Execute(head.State, b)
	b.StateHash = output.Hash()
	b.Sign(p.signer)

	log.Producer.Info().
		Stringer("block", b.Hash()).
		Uint64("height", b.Height).
		Uint64("slot", slot).
		Int("txs", len(txs)).
		Int("votes", len(votes)).
		Stringer("state_hash", b.StateHash).
		Msg("produced block")

	select {
	case p.out <- b:
	default:
		log.Producer.Warn().Stringer("block", b.Hash()).Msg("output buffer full, block dropped")
	}
}

// sortVotes orders votes by validator then vote hash so the produced
// block's vote list (and therefore its hash) does not depend on map
// iteration order.
func sortVotes(votes []vote.Vote) {
	sort.Slice(votes, func(i, j int) bool {
		if votes[i].Validator != votes[j].Validator {
			return votes[i].Validator.Less(votes[j].Validator)
		}
		ah, bh := votes[i].Hash(), votes[j].Hash()
		return bytes.Compare(ah.Bytes(), bh.Bytes()) < 0
	})
}
