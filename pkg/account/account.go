// Package account defines the account record the state layer and VM
// operate over.
package account

import (
	"encoding/binary"

	"github.com/forgelabs/forgecore/pkg/crypto"
	"github.com/forgelabs/forgecore/pkg/types"
)

// Account is the unit of state: a balance, a replay-protection nonce, an
// executable flag, an optional owning contract, and an opaque data blob a
// contract may read and (if it owns the account) write.
type Account struct {
	Balance    uint64
	Nonce      uint64
	Executable bool
	Owner      *types.Pubkey
	Data       []byte
}

// Clone returns a deep copy, so overlays never alias a lower layer's data.
func (a Account) Clone() Account {
	out := a
	if a.Owner != nil {
		owner := *a.Owner
		out.Owner = &owner
	}
	if a.Data != nil {
		out.Data = append([]byte(nil), a.Data...)
	}
	return out
}

// Hash content-addresses the account over every field, in a fixed order,
// so it composes deterministically into a StateDiff hash.
func (a Account) Hash() types.Hash {
	var header [17]byte
	binary.LittleEndian.PutUint64(header[0:8], a.Balance)
	binary.LittleEndian.PutUint64(header[8:16], a.Nonce)
	if a.Executable {
		header[16] = 1
	}

	var ownerBytes []byte
	if a.Owner != nil {
		ownerBytes = a.Owner.Bytes()
	} else {
		ownerBytes = types.ZeroPubkey.Bytes()
	}

	return crypto.HashAll(header[:], ownerBytes, a.Data)
}
