// Package vm executes block payloads against the layered account state.
// The Machine dispatches each transaction to a genesis-enabled built-in
// contract entrypoint inside an ExecutionUnit and folds the contract's
// output stream into a deterministic BlockOutput.
package vm

import (
	"github.com/forgelabs/forgecore/pkg/types"
)

// AccountView is the snapshot of one referenced account handed to a
// contract entrypoint. Entrypoints never see live state: the view is
// fixed when the ExecutionUnit is built, so a contract is a pure function
// of (Environment, params).
type AccountView struct {
	Signer     bool
	Writable   bool
	Exists     bool
	Balance    uint64
	Executable bool
	Owner      *types.Pubkey
	Data       []byte
}

// Environment is the self-contained input to a contract invocation: the
// invoked contract's address, the transaction's payer (which always
// signs), and a snapshot of every account the transaction references,
// in the transaction's listed order.
type Environment struct {
	Contract types.Pubkey
	Payer    types.Pubkey
	Accounts []EnvAccount
}

// EnvAccount pairs an account address with its snapshot view.
type EnvAccount struct {
	Pubkey types.Pubkey
	View   AccountView
}

// Account returns the view for pubkey, if the transaction referenced it.
func (e *Environment) Account(pubkey types.Pubkey) (AccountView, bool) {
	for _, a := range e.Accounts {
		if a.Pubkey == pubkey {
			return a.View, true
		}
	}
	return AccountView{}, false
}

// Output is one effect emitted by a contract entrypoint. The
// ExecutionUnit folds the emitted sequence into a per-transaction state
// diff and log list, enforcing ownership and writability as it goes.
type Output interface {
	isOutput()
}

// LogEntry emits one key/value log line, visible to chain clients under
// the transaction's hash.
type LogEntry struct {
	Key   string
	Value []byte
}

// CreateOwnedAccount creates a new account at Address owned by the
// invoking contract. Fails if an account already exists there or the
// address is not listed writable by the transaction.
type CreateOwnedAccount struct {
	Address types.Pubkey
	Data    []byte
}

// WriteAccountData overwrites the data of an account the invoking
// contract owns. A nil Data resets the account's data without deleting
// the account.
type WriteAccountData struct {
	Address types.Pubkey
	Data    []byte
}

// DeleteOwnedAccount removes an account the invoking contract owns,
// recording a tombstone in the transaction's diff.
type DeleteOwnedAccount struct {
	Address types.Pubkey
}

// ContractInvoke requests a nested invocation of another contract. The
// listed accounts must already be referenced by the calling environment
// with at least the requested writability.
type ContractInvoke struct {
	Contract types.Pubkey
	Accounts []InvokeAccount
	Params   []byte
}

// InvokeAccount names one account passed down to a nested invocation and
// whether the callee may treat it as writable.
type InvokeAccount struct {
	Pubkey   types.Pubkey
	Writable bool
}

// CreateExecutableAccount installs contract bytecode at Address, flipping
// its executable flag. Only the loader built-in may emit this; any other
// contract emitting it fails its transaction.
type CreateExecutableAccount struct {
	Address types.Pubkey
	Code    []byte
}

// TransferBalance moves native balance between two accounts the
// transaction lists as writable. Only the system built-in may emit this;
// balances are otherwise untouchable by contract code.
type TransferBalance struct {
	From   types.Pubkey
	To     types.Pubkey
	Amount uint64
}

func (LogEntry) isOutput()                {}
func (CreateOwnedAccount) isOutput()      {}
func (WriteAccountData) isOutput()        {}
func (DeleteOwnedAccount) isOutput()      {}
func (ContractInvoke) isOutput()          {}
func (CreateExecutableAccount) isOutput() {}
func (TransferBalance) isOutput()         {}

// Entrypoint is the signature of a built-in contract. Entrypoints must be
// pure functions of their inputs: no clock, randomness, floating point,
// or I/O, so that every validator folds an identical output stream.
type Entrypoint func(env *Environment, params []byte, m *Machine) ([]Output, error)
