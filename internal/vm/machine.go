package vm

import (
	"fmt"

	"github.com/forgelabs/forgecore/internal/log"
	"github.com/forgelabs/forgecore/internal/state"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/crypto"
	"github.com/forgelabs/forgecore/pkg/types"
)

// Built-in contract addresses. The system contract sits at the all-zero
// key; the others are program-derived so no private key can ever sign
// for them.
var (
	SystemAddress = types.ZeroPubkey
	TokenAddress  = crypto.Derive([]byte("builtin"), []byte("token"))
	LoaderAddress = crypto.Derive([]byte("builtin"), []byte("loader"))
)

// Execution limits not carried in Genesis. These bound per-transaction
// resource usage the same way on every validator.
const (
	// MaxInputAccounts bounds the accounts one transaction may reference.
	MaxInputAccounts = 32
	// MaxLogsCount bounds the log entries one transaction may emit.
	MaxLogsCount = 32
	// MaxInvokeDepth bounds recursive ContractInvoke nesting.
	MaxInvokeDepth = 8
)

// Machine maps contract addresses to built-in entrypoints and executes
// block payloads. Which built-ins are live is fixed by Genesis.Builtins;
// the mapping never changes after construction.
type Machine struct {
	genesis  *block.Genesis
	builtins map[types.Pubkey]Entrypoint
}

// NewMachine constructs a Machine with the built-ins genesis enables.
// An address in Genesis.Builtins that names no known built-in is a
// configuration error, caught at startup rather than at execution time.
func NewMachine(genesis *block.Genesis) (*Machine, error) {
	known := map[types.Pubkey]Entrypoint{
		SystemAddress: systemContract,
		TokenAddress:  tokenContract,
		LoaderAddress: loaderContract,
	}
	enabled := make(map[types.Pubkey]Entrypoint, len(genesis.Builtins))
	for _, addr := range genesis.Builtins {
		ep, ok := known[addr]
		if !ok {
			return nil, fmt.Errorf("vm: genesis enables unknown builtin %s", addr)
		}
		enabled[addr] = ep
	}
	return &Machine{genesis: genesis, builtins: enabled}, nil
}

// Genesis returns the chain parameters the machine enforces.
func (m *Machine) Genesis() *block.Genesis {
	return m.genesis
}

// Entrypoint resolves a contract address to its built-in entrypoint.
func (m *Machine) Entrypoint(contract types.Pubkey) (Entrypoint, bool) {
	ep, ok := m.builtins[contract]
	return ep, ok
}

// Execute runs every transaction of b's payload in order against base,
// producing the block's output. Individual transaction failures are
// recorded in the output's error map and never fail the block; the
// returned output's hash is what the block's declared state hash is
// checked against.
func (m *Machine) Execute(base state.ReadState, b *block.Produced) *block.BlockOutput {
	out := block.NewBlockOutput()
	for i := range b.Payload.Transactions {
		tx := &b.Payload.Transactions[i]
		txHash := tx.Hash()

		// Each transaction sees the finalized base overlaid with every
		// earlier transaction's accumulated writes.
		view := state.NewOverlayed(base, out.State)
		unit := newExecutionUnit(m, view, tx)
		result, err := unit.run()
		if err != nil {
			log.VM.Debug().
				Stringer("tx", txHash).
				Err(err).
				Msg("transaction failed")
			out.RecordError(txHash, err)
			continue
		}

		out.State = out.State.Merge(result.diff)
		for _, entry := range result.logs {
			out.AppendLog(txHash, entry.Key, entry.Value)
		}
	}
	return out
}
