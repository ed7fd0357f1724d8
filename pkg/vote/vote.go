// Package vote defines validator attestations over fork-tree targets and
// the equivocation fault they can expose.
package vote

import (
	"fmt"

	"github.com/forgelabs/forgecore/pkg/crypto"
	"github.com/forgelabs/forgecore/pkg/types"
)

// Vote attests that Validator observed Target as a descendant of the
// finalized checkpoint Justification. The signature covers
// Target.Multihash() || Justification.Multihash(), so a vote cannot be
// replayed against a different justification without re-signing.
type Vote struct {
	Validator     types.Pubkey
	Target        types.Hash
	Justification types.Hash
	Signature     []byte
}

// signedMessage is the exact byte string the validator signs.
func signedMessage(target, justification types.Hash) []byte {
	msg := make([]byte, 0, len(target.Multihash())+len(justification.Multihash()))
	msg = append(msg, target.Multihash()...)
	msg = append(msg, justification.Multihash()...)
	return msg
}

// New builds and signs a Vote with signer's key.
func New(signer *crypto.PrivateKey, target, justification types.Hash) Vote {
	sig := signer.Sign(signedMessage(target, justification))
	return Vote{
		Validator:     signer.Public(),
		Target:        target,
		Justification: justification,
		Signature:     sig,
	}
}

// VerifySignature checks the vote's signature against its own validator,
// target, and justification fields.
func (v Vote) VerifySignature() bool {
	return crypto.Verify(v.Validator, signedMessage(v.Target, v.Justification), v.Signature)
}

// Hash content-addresses the vote over validator || target ||
// justification || signature, as a raw SHA3-256 digest.
func (v Vote) Hash() types.Hash {
	return crypto.HashAll(v.Validator.Bytes(), v.Target.Bytes(), v.Justification.Bytes(), v.Signature)
}

// Key identifies a vote for deduplication purposes: one vote per
// (validator, target) may ever be counted toward a fork-tree node's stake.
type Key struct {
	Validator types.Pubkey
	Target    types.Hash
}

func (v Vote) Key() Key {
	return Key{Validator: v.Validator, Target: v.Target}
}

func (v Vote) String() string {
	return fmt.Sprintf("vote{validator=%s target=%s justification=%s}", v.Validator, v.Target, v.Justification)
}
