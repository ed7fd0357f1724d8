package wire

import (
	"fmt"

	"github.com/forgelabs/forgecore/internal/state"
	"github.com/forgelabs/forgecore/pkg/account"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/types"
	"github.com/forgelabs/forgecore/pkg/vote"
)

func writePubkey(w *Writer, p types.Pubkey) { w.buf = append(w.buf, p.Bytes()...) }
func writeHash(w *Writer, h types.Hash)     { w.buf = append(w.buf, h.Bytes()...) }

func readPubkey(r *Reader) (types.Pubkey, error) {
	b, err := r.take(types.PubkeySize)
	if err != nil {
		return types.Pubkey{}, err
	}
	return types.PubkeyFromBytes(b)
}

func readHash(r *Reader) (types.Hash, error) {
	b, err := r.take(types.HashSize)
	if err != nil {
		return types.Hash{}, err
	}
	return types.HashFromBytes(b)
}

// EncodeAccount writes a's fields in a fixed order: balance, nonce,
// executable, owner-present flag (+owner), data.
func EncodeAccount(a account.Account) []byte {
	w := NewWriter()
	w.Uint64(a.Balance)
	w.Uint64(a.Nonce)
	w.Bool(a.Executable)
	w.Bool(a.Owner != nil)
	if a.Owner != nil {
		writePubkey(w, *a.Owner)
	}
	w.BytesField(a.Data)
	return w.Bytes()
}

// DecodeAccount reverses EncodeAccount.
func DecodeAccount(b []byte) (account.Account, error) {
	r := NewReader(b)
	var a account.Account
	var err error
	if a.Balance, err = r.Uint64(); err != nil {
		return a, err
	}
	if a.Nonce, err = r.Uint64(); err != nil {
		return a, err
	}
	if a.Executable, err = r.Bool(); err != nil {
		return a, err
	}
	hasOwner, err := r.Bool()
	if err != nil {
		return a, err
	}
	if hasOwner {
		owner, err := readPubkey(r)
		if err != nil {
			return a, err
		}
		a.Owner = &owner
	}
	if a.Data, err = r.BytesField(); err != nil {
		return a, err
	}
	if err := r.Done(); err != nil {
		return a, err
	}
	return a, nil
}

// EncodeStateDiff writes a diff's entries in their insertion order: pubkey,
// tombstone flag, then account bytes if set.
func EncodeStateDiff(d *state.StateDiff) []byte {
	w := NewWriter()
	w.Uint64(uint64(d.Len()))
	d.Each(func(pubkey types.Pubkey, acc *account.Account) {
		writePubkey(w, pubkey)
		w.Bool(acc == nil)
		if acc != nil {
			w.BytesField(EncodeAccount(*acc))
		}
	})
	return w.Bytes()
}

// DecodeStateDiff reverses EncodeStateDiff, replaying Set/Delete calls in
// the original insertion order so the result is identical (index included).
func DecodeStateDiff(b []byte) (*state.StateDiff, error) {
	r := NewReader(b)
	n, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	d := state.NewStateDiff()
	for i := uint64(0); i < n; i++ {
		pubkey, err := readPubkey(r)
		if err != nil {
			return nil, err
		}
		tombstone, err := r.Bool()
		if err != nil {
			return nil, err
		}
		if tombstone {
			d.Delete(pubkey)
			continue
		}
		accBytes, err := r.BytesField()
		if err != nil {
			return nil, err
		}
		acc, err := DecodeAccount(accBytes)
		if err != nil {
			return nil, fmt.Errorf("wire: decode state diff entry %d: %w", i, err)
		}
		d.Set(pubkey, acc)
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return d, nil
}

// EncodeVote writes validator, target, justification, signature in field
// order -- the same order Vote.Hash() reads them in.
func EncodeVote(v vote.Vote) []byte {
	w := NewWriter()
	writePubkey(w, v.Validator)
	writeHash(w, v.Target)
	writeHash(w, v.Justification)
	w.BytesField(v.Signature)
	return w.Bytes()
}

// DecodeVote reverses EncodeVote.
func DecodeVote(b []byte) (vote.Vote, error) {
	r := NewReader(b)
	var v vote.Vote
	var err error
	if v.Validator, err = readPubkey(r); err != nil {
		return v, err
	}
	if v.Target, err = readHash(r); err != nil {
		return v, err
	}
	if v.Justification, err = readHash(r); err != nil {
		return v, err
	}
	if v.Signature, err = r.BytesField(); err != nil {
		return v, err
	}
	if err := r.Done(); err != nil {
		return v, err
	}
	return v, nil
}

// encodeAccountMeta writes one transaction account reference: pubkey,
// writable flag, signer flag.
func encodeAccountMeta(w *Writer, m block.AccountMeta) {
	writePubkey(w, m.Pubkey)
	w.Bool(m.Writable)
	w.Bool(m.Signer)
}

func decodeAccountMeta(r *Reader) (block.AccountMeta, error) {
	var m block.AccountMeta
	var err error
	if m.Pubkey, err = readPubkey(r); err != nil {
		return m, err
	}
	if m.Writable, err = r.Bool(); err != nil {
		return m, err
	}
	if m.Signer, err = r.Bool(); err != nil {
		return m, err
	}
	return m, nil
}

// EncodeTransaction writes contract, nonce, payer, accounts, params,
// signatures in field order.
func EncodeTransaction(tx block.Transaction) []byte {
	w := NewWriter()
	writePubkey(w, tx.Contract)
	w.Uint64(tx.Nonce)
	writePubkey(w, tx.Payer)
	w.Uint64(uint64(len(tx.Accounts)))
	for _, a := range tx.Accounts {
		encodeAccountMeta(w, a)
	}
	w.BytesField(tx.Params)
	w.Uint64(uint64(len(tx.Signatures)))
	for _, s := range tx.Signatures {
		w.BytesField(s)
	}
	return w.Bytes()
}

// DecodeTransaction reverses EncodeTransaction.
func DecodeTransaction(b []byte) (block.Transaction, error) {
	r := NewReader(b)
	var tx block.Transaction
	var err error
	if tx.Contract, err = readPubkey(r); err != nil {
		return tx, err
	}
	if tx.Nonce, err = r.Uint64(); err != nil {
		return tx, err
	}
	if tx.Payer, err = readPubkey(r); err != nil {
		return tx, err
	}
	nAccounts, err := r.Count(types.PubkeySize + 1)
	if err != nil {
		return tx, err
	}
	tx.Accounts = make([]block.AccountMeta, nAccounts)
	for i := range tx.Accounts {
		if tx.Accounts[i], err = decodeAccountMeta(r); err != nil {
			return tx, err
		}
	}
	if tx.Params, err = r.BytesField(); err != nil {
		return tx, err
	}
	nSigs, err := r.Count(8)
	if err != nil {
		return tx, err
	}
	tx.Signatures = make([][]byte, nSigs)
	for i := range tx.Signatures {
		if tx.Signatures[i], err = r.BytesField(); err != nil {
			return tx, err
		}
	}
	if err := r.Done(); err != nil {
		return tx, err
	}
	return tx, nil
}

// EncodePayload writes a payload's transactions in execution order.
func EncodePayload(p block.Payload) []byte {
	w := NewWriter()
	w.Uint64(uint64(len(p.Transactions)))
	for _, tx := range p.Transactions {
		w.BytesField(EncodeTransaction(tx))
	}
	return w.Bytes()
}

// DecodePayload reverses EncodePayload.
func DecodePayload(b []byte) (block.Payload, error) {
	r := NewReader(b)
	n, err := r.Count(8)
	if err != nil {
		return block.Payload{}, err
	}
	p := block.Payload{Transactions: make([]block.Transaction, n)}
	for i := range p.Transactions {
		txBytes, err := r.BytesField()
		if err != nil {
			return block.Payload{}, err
		}
		if p.Transactions[i], err = DecodeTransaction(txBytes); err != nil {
			return block.Payload{}, fmt.Errorf("wire: decode payload tx %d: %w", i, err)
		}
	}
	if err := r.Done(); err != nil {
		return block.Payload{}, err
	}
	return p, nil
}

// EncodeProduced writes a signed block proposal's full wire form: parent,
// state hash, height, slot, signature, payload, and every vote in full.
func EncodeProduced(b *block.Produced) []byte {
	w := NewWriter()
	writeHash(w, b.Parent)
	writeHash(w, b.StateHash)
	w.Uint64(b.Height)
	w.Uint64(b.Slot)
	writePubkey(w, b.Signature.Pubkey)
	w.BytesField(b.Signature.Sig)
	w.BytesField(EncodePayload(b.Payload))
	w.Uint64(uint64(len(b.Votes)))
	for _, v := range b.Votes {
		w.BytesField(EncodeVote(v))
	}
	return w.Bytes()
}

// DecodeProduced reverses EncodeProduced. The returned block's cached hash
// is unset; the first call to Hash() recomputes it from these fields.
func DecodeProduced(buf []byte) (*block.Produced, error) {
	r := NewReader(buf)
	b := &block.Produced{}
	var err error
	if b.Parent, err = readHash(r); err != nil {
		return nil, err
	}
	if b.StateHash, err = readHash(r); err != nil {
		return nil, err
	}
	if b.Height, err = r.Uint64(); err != nil {
		return nil, err
	}
	if b.Slot, err = r.Uint64(); err != nil {
		return nil, err
	}
	if b.Signature.Pubkey, err = readPubkey(r); err != nil {
		return nil, err
	}
	if b.Signature.Sig, err = r.BytesField(); err != nil {
		return nil, err
	}
	payloadBytes, err := r.BytesField()
	if err != nil {
		return nil, err
	}
	if b.Payload, err = DecodePayload(payloadBytes); err != nil {
		return nil, fmt.Errorf("wire: decode block payload: %w", err)
	}
	nVotes, err := r.Count(8)
	if err != nil {
		return nil, err
	}
	b.Votes = make([]vote.Vote, nVotes)
	for i := range b.Votes {
		voteBytes, err := r.BytesField()
		if err != nil {
			return nil, err
		}
		if b.Votes[i], err = DecodeVote(voteBytes); err != nil {
			return nil, fmt.Errorf("wire: decode block vote %d: %w", i, err)
		}
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return b, nil
}
