package vm

import (
	"strings"
	"testing"
	"time"

	"github.com/forgelabs/forgecore/internal/chainerr"
	"github.com/forgelabs/forgecore/internal/state"
	"github.com/forgelabs/forgecore/pkg/account"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/crypto"
	"github.com/forgelabs/forgecore/pkg/types"
	"github.com/forgelabs/forgecore/pkg/wire"
)

func testGenesis(t *testing.T, validators ...*crypto.PrivateKey) *block.Genesis {
	t.Helper()
	g := &block.Genesis{
		ChainID:             "test-chain",
		GenesisTime:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		SlotInterval:        500 * time.Millisecond,
		EpochBlocks:         4,
		MaxJustificationAge: 8,
		MaxBlockSize:        1 << 20,
		MaxAccountSize:      4096,
		MaxLogSize:          1024,
		MaxTxSize:           2048,
		MaxBlockTxs:         256,
		Builtins:            []types.Pubkey{SystemAddress, TokenAddress, LoaderAddress},
		MinimumStake:        100,
	}
	for _, v := range validators {
		g.Validators = append(g.Validators, block.ValidatorStake{Pubkey: v.Public(), Stake: 1000})
	}
	return g
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func produceBlock(t *testing.T, signer *crypto.PrivateKey, parent types.Hash, height, slot uint64, txs ...block.Transaction) *block.Produced {
	t.Helper()
	b := &block.Produced{
		Parent:  parent,
		Height:  height,
		Slot:    slot,
		Payload: block.Payload{Transactions: txs},
	}
	return b
}

func memoParams(value []byte) []byte {
	w := wire.NewWriter()
	w.Raw([]byte{sysOpMemo})
	w.BytesField(value)
	return w.Bytes()
}

func transferParams(amount uint64) []byte {
	w := wire.NewWriter()
	w.Raw([]byte{sysOpTransfer})
	w.Uint64(amount)
	return w.Bytes()
}

func TestExecuteMemoLogsOnly(t *testing.T) {
	payer := mustKey(t)
	g := testGenesis(t, payer)
	m, err := NewMachine(g)
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	tx := block.NewTransaction(SystemAddress, 1, payer, nil, memoParams([]byte("hello")))
	b := produceBlock(t, payer, types.ZeroHash, 1, 1, tx)

	out := m.Execute(state.EmptyReadState(), b)
	if msg, failed := out.Error(tx.Hash()); failed {
		t.Fatalf("memo tx failed: %s", msg)
	}
	logs := out.Logs(tx.Hash())
	if len(logs) != 1 || logs[0].Key != "memo" || string(logs[0].Value) != "hello" {
		t.Fatalf("unexpected logs: %+v", logs)
	}
	// Only the payer's nonce bump touches state.
	if out.State.Len() != 1 {
		t.Fatalf("expected only the payer nonce write, got %d entries", out.State.Len())
	}
	payerAcc, ok := out.State.Get(payer.Public())
	if !ok || payerAcc.Nonce != 1 {
		t.Fatalf("payer nonce not advanced: %+v ok=%v", payerAcc, ok)
	}
}

func TestExecuteTransferMovesBalance(t *testing.T) {
	payer := mustKey(t)
	dest := mustKey(t)
	g := testGenesis(t, payer)
	g.State = []block.GenesisAccount{
		{Pubkey: payer.Public(), Account: account.Account{Balance: 500}},
	}
	m, err := NewMachine(g)
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	base := state.NewStateDiff()
	for _, entry := range g.State {
		base.Set(entry.Pubkey, entry.Account)
	}

	accounts := []block.AccountMeta{
		{Pubkey: payer.Public(), Writable: true, Signer: true},
		{Pubkey: dest.Public(), Writable: true},
	}
	tx := block.NewTransaction(SystemAddress, 1, payer, accounts, transferParams(200), payer)
	b := produceBlock(t, payer, types.ZeroHash, 1, 1, tx)

	out := m.Execute(state.NewOverlayed(state.EmptyReadState(), base), b)
	if msg, failed := out.Error(tx.Hash()); failed {
		t.Fatalf("transfer failed: %s", msg)
	}
	from, _ := out.State.Get(payer.Public())
	to, _ := out.State.Get(dest.Public())
	if from.Balance != 300 || to.Balance != 200 {
		t.Fatalf("balances after transfer: from=%d to=%d", from.Balance, to.Balance)
	}
}

func TestExecuteBadNonceRecorded(t *testing.T) {
	payer := mustKey(t)
	g := testGenesis(t, payer)
	m, _ := NewMachine(g)

	tx := block.NewTransaction(SystemAddress, 7, payer, nil, memoParams([]byte("x")))
	b := produceBlock(t, payer, types.ZeroHash, 1, 1, tx)

	out := m.Execute(state.EmptyReadState(), b)
	msg, failed := out.Error(tx.Hash())
	if !failed {
		t.Fatal("expected nonce failure")
	}
	if !strings.Contains(msg, chainerr.ErrInvalidNonce.Error()) {
		t.Fatalf("unexpected error message: %q", msg)
	}
	if out.State.Len() != 0 {
		t.Fatalf("failed tx leaked %d state entries", out.State.Len())
	}
}

func TestExecuteUnknownContract(t *testing.T) {
	payer := mustKey(t)
	g := testGenesis(t, payer)
	g.Builtins = []types.Pubkey{SystemAddress}
	m, _ := NewMachine(g)

	tx := block.NewTransaction(TokenAddress, 1, payer, nil, []byte{tokOpCreateMint})
	b := produceBlock(t, payer, types.ZeroHash, 1, 1, tx)

	out := m.Execute(state.EmptyReadState(), b)
	if _, failed := out.Error(tx.Hash()); !failed {
		t.Fatal("expected unknown contract error")
	}
}

func TestExecuteDeterministicHash(t *testing.T) {
	payer := mustKey(t)
	g := testGenesis(t, payer)
	m, _ := NewMachine(g)

	tx := block.NewTransaction(SystemAddress, 1, payer, nil, memoParams([]byte("same")))
	b1 := produceBlock(t, payer, types.ZeroHash, 1, 1, tx)
	b2 := produceBlock(t, payer, types.ZeroHash, 1, 1, tx)

	h1 := m.Execute(state.EmptyReadState(), b1).Hash()
	h2 := m.Execute(state.EmptyReadState(), b2).Hash()
	if h1 != h2 {
		t.Fatalf("same payload produced different output hashes: %s vs %s", h1, h2)
	}
}

func TestTokenMintAndTransfer(t *testing.T) {
	authority := mustKey(t)
	recipient := mustKey(t)
	g := testGenesis(t, authority)
	m, _ := NewMachine(g)

	mintAddr := crypto.Derive([]byte("mint"), []byte("gold"))
	srcAddr := crypto.Derive([]byte("holding"), authority.Public().Bytes())
	dstAddr := crypto.Derive([]byte("holding"), recipient.Public().Bytes())

	base := state.NewStateDiff()
	owner := TokenAddress
	base.Set(mintAddr, account.Account{Owner: &owner, Data: EncodeMint(Mint{Authority: ptr(authority.Public())})})
	base.Set(srcAddr, account.Account{Owner: &owner, Data: EncodeTokenAccount(TokenAccount{Mint: mintAddr, Owner: authority.Public()})})
	base.Set(dstAddr, account.Account{Owner: &owner, Data: EncodeTokenAccount(TokenAccount{Mint: mintAddr, Owner: recipient.Public()})})

	mintTx := block.NewTransaction(TokenAddress, 1, authority, []block.AccountMeta{
		{Pubkey: mintAddr, Writable: true},
		{Pubkey: srcAddr, Writable: true},
	}, tokenAmountParams(tokOpMint, 1000))
	transferTx := block.NewTransaction(TokenAddress, 2, authority, []block.AccountMeta{
		{Pubkey: srcAddr, Writable: true},
		{Pubkey: dstAddr, Writable: true},
	}, tokenAmountParams(tokOpTransfer, 400))

	b := produceBlock(t, authority, types.ZeroHash, 1, 1, mintTx, transferTx)
	out := m.Execute(state.NewOverlayed(state.EmptyReadState(), base), b)

	for _, tx := range []block.Transaction{mintTx, transferTx} {
		if msg, failed := out.Error(tx.Hash()); failed {
			t.Fatalf("tx failed: %s", msg)
		}
	}

	view := state.NewOverlayed(state.NewOverlayed(state.EmptyReadState(), base), out.State)
	src, _ := view.Get(srcAddr)
	dst, _ := view.Get(dstAddr)
	srcHolding, err := DecodeTokenAccount(src.Data)
	if err != nil {
		t.Fatalf("decode src: %v", err)
	}
	dstHolding, err := DecodeTokenAccount(dst.Data)
	if err != nil {
		t.Fatalf("decode dst: %v", err)
	}
	if srcHolding.Amount != 600 || dstHolding.Amount != 400 {
		t.Fatalf("holdings after transfer: src=%d dst=%d", srcHolding.Amount, dstHolding.Amount)
	}
}

func TestLoaderInstallsExecutable(t *testing.T) {
	payer := mustKey(t)
	g := testGenesis(t, payer)
	m, _ := NewMachine(g)

	codeAddr := crypto.Derive([]byte("code"), []byte("example"))
	w := wire.NewWriter()
	w.Raw([]byte{loaderOpInstall})
	w.BytesField([]byte{0x00, 0x61, 0x73, 0x6d})
	tx := block.NewTransaction(LoaderAddress, 1, payer, []block.AccountMeta{
		{Pubkey: codeAddr, Writable: true},
	}, w.Bytes())

	b := produceBlock(t, payer, types.ZeroHash, 1, 1, tx)
	out := m.Execute(state.EmptyReadState(), b)
	if msg, failed := out.Error(tx.Hash()); failed {
		t.Fatalf("install failed: %s", msg)
	}
	installed, ok := out.State.Get(codeAddr)
	if !ok || !installed.Executable || installed.Owner == nil || *installed.Owner != LoaderAddress {
		t.Fatalf("installed account wrong: %+v ok=%v", installed, ok)
	}
}

func TestSystemCreateRequiresWritable(t *testing.T) {
	payer := mustKey(t)
	g := testGenesis(t, payer)
	m, _ := NewMachine(g)

	target := crypto.Derive([]byte("data"), []byte("x"))
	w := wire.NewWriter()
	w.Raw([]byte{sysOpCreateAccount})
	w.BytesField([]byte("payload"))
	tx := block.NewTransaction(SystemAddress, 1, payer, []block.AccountMeta{
		{Pubkey: target, Writable: false},
	}, w.Bytes())

	b := produceBlock(t, payer, types.ZeroHash, 1, 1, tx)
	out := m.Execute(state.EmptyReadState(), b)
	if _, failed := out.Error(tx.Hash()); !failed {
		t.Fatal("expected not-writable failure")
	}
}

func tokenAmountParams(op byte, amount uint64) []byte {
	w := wire.NewWriter()
	w.Raw([]byte{op})
	w.Uint64(amount)
	return w.Bytes()
}

func ptr(p types.Pubkey) *types.Pubkey { return &p }
