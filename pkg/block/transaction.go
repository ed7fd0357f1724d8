package block

import (
	"encoding/binary"

	"github.com/forgelabs/forgecore/pkg/crypto"
	"github.com/forgelabs/forgecore/pkg/types"
)

// AccountMeta describes one account a transaction references: whether the
// VM may let the invoked contract mutate it, and whether its owner must
// co-sign the transaction.
type AccountMeta struct {
	Pubkey   types.Pubkey
	Writable bool
	Signer   bool
}

// Transaction invokes one contract entrypoint. The payer always signs
// first; every account flagged Signer then signs, in list order, each
// over the same Hash -- so Signatures[0] is the payer's and
// Signatures[1:] line up positionally with the signer-flagged entries of
// Accounts, in order.
type Transaction struct {
	Contract   types.Pubkey
	Nonce      uint64
	Payer      types.Pubkey
	Accounts   []AccountMeta
	Params     []byte
	Signatures [][]byte
}

func (tx *Transaction) accountsEncoded() []byte {
	buf := make([]byte, 0, len(tx.Accounts)*(types.PubkeySize+1))
	for _, a := range tx.Accounts {
		buf = append(buf, a.Pubkey.Bytes()...)
		var flags byte
		if a.Writable {
			flags |= 1
		}
		if a.Signer {
			flags |= 2
		}
		buf = append(buf, flags)
	}
	return buf
}

// Hash is the message every required signature covers and the identity
// under which the transaction's logs and errors are recorded in
// BlockOutput: SHA3-256(contract || nonce || payer || accounts || params).
func (tx *Transaction) Hash() types.Hash {
	var nonceBytes [8]byte
	binary.LittleEndian.PutUint64(nonceBytes[:], tx.Nonce)
	return crypto.HashAll(
		tx.Contract.Bytes(),
		nonceBytes[:],
		tx.Payer.Bytes(),
		tx.accountsEncoded(),
		tx.Params,
	)
}

// NewTransaction builds and signs a transaction: the payer signs first,
// then each signer key in order, which must line up with the
// signer-flagged entries of accounts.
func NewTransaction(contract types.Pubkey, nonce uint64, payer *crypto.PrivateKey, accounts []AccountMeta, params []byte, signers ...*crypto.PrivateKey) Transaction {
	tx := Transaction{
		Contract: contract,
		Nonce:    nonce,
		Payer:    payer.Public(),
		Accounts: accounts,
		Params:   params,
	}
	msg := tx.Hash().Bytes()
	tx.Signatures = append(tx.Signatures, payer.Sign(msg))
	for _, s := range signers {
		tx.Signatures = append(tx.Signatures, s.Sign(msg))
	}
	return tx
}

// SignerAccounts returns the subset of Accounts flagged Signer, in order --
// the accounts Signatures[1:] must line up with.
func (tx *Transaction) SignerAccounts() []AccountMeta {
	var out []AccountMeta
	for _, a := range tx.Accounts {
		if a.Signer {
			out = append(out, a)
		}
	}
	return out
}

// VerifySignatures checks the payer's signature followed by every
// signer-flagged account's signature, all over Hash(), in order.
func (tx *Transaction) VerifySignatures() bool {
	signers := tx.SignerAccounts()
	if len(tx.Signatures) != 1+len(signers) {
		return false
	}
	msg := tx.Hash().Bytes()
	if !crypto.Verify(tx.Payer, msg, tx.Signatures[0]) {
		return false
	}
	for i, s := range signers {
		if !crypto.Verify(s.Pubkey, msg, tx.Signatures[i+1]) {
			return false
		}
	}
	return true
}

// Payload is the ordered list of transactions a block executes.
type Payload struct {
	Transactions []Transaction
}

// Hash is the SHA3-256 digest over each transaction's own hash, in
// execution order.
func (p Payload) Hash() types.Hash {
	parts := make([][]byte, 0, len(p.Transactions))
	for _, tx := range p.Transactions {
		h := tx.Hash()
		parts = append(parts, h.Bytes())
	}
	return crypto.HashAll(parts...)
}

// Size estimates the encoded payload size in bytes, used to enforce
// Genesis.MaxBlockSize while assembling a block.
func (p Payload) Size() int {
	size := 0
	for _, tx := range p.Transactions {
		size += types.PubkeySize*2 + 8 + len(tx.Params)
		size += len(tx.Accounts) * (types.PubkeySize + 1)
		for _, sig := range tx.Signatures {
			size += len(sig)
		}
	}
	return size
}
