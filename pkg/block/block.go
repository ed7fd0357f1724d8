package block

import (
	"sync"

	"github.com/forgelabs/forgecore/pkg/crypto"
	"github.com/forgelabs/forgecore/pkg/types"
	"github.com/forgelabs/forgecore/pkg/vote"
)

// Signature pairs a producer's public key with its signature over a
// Produced block's hash parts.
type Signature struct {
	Pubkey types.Pubkey
	Sig    []byte
}

// Produced is a signed block proposal: everything needed to validate and
// execute it, prior to execution actually happening.
type Produced struct {
	Parent    types.Hash
	StateHash types.Hash
	Height    uint64
	Slot      uint64
	Signature Signature
	Payload   Payload
	Votes     []vote.Vote // validator attestations aggregated by the producer

	hashOnce sync.Once
	hashVal  types.Hash
}

// hashParts computes producer_pubkey || parent || state_hash || slot ||
// height || payload.hash || XOR of vote hashes, matching the exact field
// order and vote-folding rule the wire format fixes for a Produced
// block's hash.
func hashParts(pubkey types.Pubkey, parent, stateHash types.Hash, slot, height uint64, payloadHash types.Hash, votes []vote.Vote) types.Hash {
	var slotHeight [16]byte
	for i := 0; i < 8; i++ {
		slotHeight[i] = byte(slot >> (8 * i))
		slotHeight[8+i] = byte(height >> (8 * i))
	}

	var voteXor types.Hash
	for _, v := range votes {
		h := v.Hash()
		for i := range voteXor {
			voteXor[i] ^= h[i]
		}
	}

	return crypto.HashAll(
		pubkey.Bytes(),
		parent.Bytes(),
		stateHash.Bytes(),
		slotHeight[:],
		payloadHash.Bytes(),
		voteXor.Bytes(),
	)
}

// Hash computes (and caches) the block's content hash. Equality and
// ordering of Produced blocks are defined in terms of this hash.
func (b *Produced) Hash() types.Hash {
	b.hashOnce.Do(func() {
		b.hashVal = hashParts(b.Signature.Pubkey, b.Parent, b.StateHash, b.Slot, b.Height, b.Payload.Hash(), b.Votes)
	})
	return b.hashVal
}

// Sign computes the block's hash and signs it with signer, setting
// Signature. Must be called exactly once, before the block is ever
// gossiped or included, since Hash is cached on first access and every
// field influencing it must already be final.
func (b *Produced) Sign(signer *crypto.PrivateKey) {
	b.Signature.Pubkey = signer.Public()
	h := b.Hash()
	b.Signature.Sig = signer.Sign(h.Bytes())
}

// VerifySignature checks the producer's signature over the block's own
// hash.
func (b *Produced) VerifySignature() bool {
	return crypto.Verify(b.Signature.Pubkey, b.Hash().Bytes(), b.Signature.Sig)
}

// Equal compares two blocks by hash.
func (b *Produced) Equal(o *Produced) bool {
	return b.Hash() == o.Hash()
}

// Executed pairs a Produced block with the BlockOutput its execution
// yielded. Invariant: Output.Hash() == Block.StateHash.
type Executed struct {
	Block  *Produced
	Output *BlockOutput
}

// Valid reports whether Output.Hash satisfies the block's declared state
// hash -- the check that actually admits a block into the fork tree.
func (e *Executed) Valid() bool {
	return e.Output.Hash() == e.Block.StateHash
}
