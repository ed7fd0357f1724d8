package mempool

import (
	"errors"
	"testing"

	"github.com/forgelabs/forgecore/internal/vm"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/crypto"
)

func signedTx(t *testing.T, nonce uint64, params []byte) block.Transaction {
	t.Helper()
	payer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return block.NewTransaction(vm.SystemAddress, nonce, payer, nil, params)
}

func TestAddAndDrainFIFO(t *testing.T) {
	pool := New(10, 1024)
	tx1 := signedTx(t, 1, []byte{4, 0})
	tx2 := signedTx(t, 1, []byte{4, 1})
	if err := pool.Add(tx1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := pool.Add(tx2); err != nil {
		t.Fatalf("add: %v", err)
	}

	drained := pool.Drain(0, 0)
	if len(drained) != 2 || drained[0].Hash() != tx1.Hash() || drained[1].Hash() != tx2.Hash() {
		t.Fatalf("drain order wrong: %d txs", len(drained))
	}
	if pool.Len() != 0 {
		t.Fatalf("drain left %d transactions behind", pool.Len())
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	pool := New(10, 1024)
	tx := signedTx(t, 1, []byte{4})
	if err := pool.Add(tx); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := pool.Add(tx); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("want duplicate, got %v", err)
	}
}

func TestAddRejectsBadSignature(t *testing.T) {
	pool := New(10, 1024)
	tx := signedTx(t, 1, []byte{4})
	tx.Params = []byte{9, 9} // invalidates the signed hash
	if err := pool.Add(tx); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("want bad signature, got %v", err)
	}
}

func TestAddRejectsWhenFull(t *testing.T) {
	pool := New(1, 1024)
	if err := pool.Add(signedTx(t, 1, []byte{4, 0})); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := pool.Add(signedTx(t, 1, []byte{4, 1})); !errors.Is(err, ErrPoolFull) {
		t.Fatalf("want pool full, got %v", err)
	}
}

func TestDrainRespectsTxCount(t *testing.T) {
	pool := New(10, 1024)
	for i := 0; i < 5; i++ {
		if err := pool.Add(signedTx(t, 1, []byte{4, byte(i)})); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if got := pool.Drain(3, 0); len(got) != 3 {
		t.Fatalf("drain(3) returned %d", len(got))
	}
	if pool.Len() != 2 {
		t.Fatalf("pool left with %d, want 2", pool.Len())
	}
}

func TestRemovePayloadDropsPending(t *testing.T) {
	pool := New(10, 1024)
	tx1 := signedTx(t, 1, []byte{4, 0})
	tx2 := signedTx(t, 1, []byte{4, 1})
	_ = pool.Add(tx1)
	_ = pool.Add(tx2)

	pool.RemovePayload(block.Payload{Transactions: []block.Transaction{tx1}})
	drained := pool.Drain(0, 0)
	if len(drained) != 1 || drained[0].Hash() != tx2.Hash() {
		t.Fatalf("payload removal wrong: %d left", len(drained))
	}
}
