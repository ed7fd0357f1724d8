package wire

import (
	"testing"

	"github.com/forgelabs/forgecore/internal/state"
	"github.com/forgelabs/forgecore/pkg/account"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/crypto"
	"github.com/forgelabs/forgecore/pkg/types"
	"github.com/forgelabs/forgecore/pkg/vote"
)

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k
}

func TestAccountRoundTrip(t *testing.T) {
	owner := mustKey(t).Public()
	a := account.Account{
		Balance:    42,
		Nonce:      7,
		Executable: true,
		Owner:      &owner,
		Data:       []byte("hello"),
	}
	got, err := DecodeAccount(EncodeAccount(a))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Hash() != a.Hash() {
		t.Errorf("hash mismatch after round trip")
	}
	if got.Balance != a.Balance || got.Nonce != a.Nonce || got.Executable != a.Executable {
		t.Errorf("scalar field mismatch: got %+v", got)
	}
}

func TestAccountRoundTrip_NoOwner(t *testing.T) {
	a := account.Account{Balance: 1}
	got, err := DecodeAccount(EncodeAccount(a))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Owner != nil {
		t.Errorf("expected nil owner, got %v", got.Owner)
	}
	if got.Hash() != a.Hash() {
		t.Errorf("hash mismatch")
	}
}

func TestStateDiffRoundTrip(t *testing.T) {
	k1 := mustKey(t).Public()
	k2 := mustKey(t).Public()
	d := state.NewStateDiff()
	d.Set(k1, account.Account{Balance: 10})
	d.Set(k2, account.Account{Balance: 20})
	d.Delete(k1)

	got, err := DecodeStateDiff(EncodeStateDiff(d))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Hash() != d.Hash() {
		t.Errorf("hash mismatch after round trip")
	}
	if !got.Deleted(k1) {
		t.Errorf("expected k1 tombstoned")
	}
	if acc, ok := got.Get(k2); !ok || acc.Balance != 20 {
		t.Errorf("k2 = %+v, %v", acc, ok)
	}
}

func TestVoteRoundTrip(t *testing.T) {
	signer := mustKey(t)
	v := vote.New(signer, types.Hash{1, 2, 3}, types.Hash{4, 5, 6})
	got, err := DecodeVote(EncodeVote(v))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Hash() != v.Hash() {
		t.Errorf("hash mismatch")
	}
	if !got.VerifySignature() {
		t.Errorf("signature should still verify after round trip")
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	payer := mustKey(t)
	signer := mustKey(t)
	contract := mustKey(t).Public()
	tx := block.Transaction{
		Contract: contract,
		Nonce:    3,
		Payer:    payer.Public(),
		Accounts: []block.AccountMeta{
			{Pubkey: signer.Public(), Writable: true, Signer: true},
		},
		Params: []byte("params"),
	}
	tx.Signatures = [][]byte{
		payer.Sign(tx.Hash().Bytes()),
		signer.Sign(tx.Hash().Bytes()),
	}

	got, err := DecodeTransaction(EncodeTransaction(tx))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Hash() != tx.Hash() {
		t.Errorf("hash mismatch")
	}
	if !got.VerifySignatures() {
		t.Errorf("signatures should still verify after round trip")
	}
}

func TestProducedRoundTrip(t *testing.T) {
	producer := mustKey(t)
	payer := mustKey(t)
	contract := mustKey(t).Public()
	tx := block.Transaction{Contract: contract, Nonce: 1, Payer: payer.Public()}
	tx.Signatures = [][]byte{payer.Sign(tx.Hash().Bytes())}

	b := &block.Produced{
		Parent:    types.Hash{9},
		StateHash: types.Hash{8},
		Height:    5,
		Slot:      12,
		Payload:   block.Payload{Transactions: []block.Transaction{tx}},
		Votes: []vote.Vote{
			vote.New(producer, types.Hash{1}, types.Hash{2}),
		},
	}
	b.Sign(producer)

	got, err := DecodeProduced(EncodeProduced(b))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Hash() != b.Hash() {
		t.Errorf("hash mismatch after round trip")
	}
	if !got.VerifySignature() {
		t.Errorf("signature should still verify after round trip")
	}
}
