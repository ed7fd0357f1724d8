package vm

import (
	"fmt"

	"github.com/forgelabs/forgecore/internal/chainerr"
	"github.com/forgelabs/forgecore/internal/state"
	"github.com/forgelabs/forgecore/pkg/account"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/types"
)

// txResult is what a successfully executed transaction folds down to.
type txResult struct {
	diff *state.StateDiff
	logs []block.LogEntry
}

// ExecutionUnit carries the state of one transaction's execution: the
// read-only view it runs against, the diff and logs it accumulates, and
// the invocation depth of nested contract calls. A unit is discarded
// wholesale when its transaction fails, so failed transactions never
// leak partial writes into the block diff.
type ExecutionUnit struct {
	machine *Machine
	view    state.ReadState
	tx      *block.Transaction

	diff     *state.StateDiff
	logs     []block.LogEntry
	logBytes uint64
}

func newExecutionUnit(m *Machine, view state.ReadState, tx *block.Transaction) *ExecutionUnit {
	return &ExecutionUnit{
		machine: m,
		view:    view,
		tx:      tx,
		diff:    state.NewStateDiff(),
	}
}

// run validates the transaction and invokes its contract, folding the
// output stream. Any returned error is contract-level: recorded in the
// block output, never failing the block.
func (u *ExecutionUnit) run() (txResult, error) {
	if len(u.tx.Accounts) > MaxInputAccounts {
		return txResult{}, fmt.Errorf("%w: %d input accounts", chainerr.ErrLimitExceeded, len(u.tx.Accounts))
	}
	if max := u.machine.genesis.MaxTxSize; max > 0 && uint64(len(u.tx.Params)) > max {
		return txResult{}, fmt.Errorf("%w: %d param bytes", chainerr.ErrLimitExceeded, len(u.tx.Params))
	}
	if !u.tx.VerifySignatures() {
		return txResult{}, chainerr.ErrBadSignature
	}

	entrypoint, ok := u.machine.Entrypoint(u.tx.Contract)
	if !ok {
		return txResult{}, fmt.Errorf("%w: %s", chainerr.ErrUnknownContract, u.tx.Contract)
	}

	if err := u.bumpNonce(); err != nil {
		return txResult{}, err
	}

	env := u.buildEnvironment()
	outputs, err := entrypoint(env, u.tx.Params, u.machine)
	if err != nil {
		return txResult{}, err
	}
	if err := u.fold(env, outputs, 0); err != nil {
		return txResult{}, err
	}
	return txResult{diff: u.diff, logs: u.logs}, nil
}

// bumpNonce checks the payer's replay nonce and advances it in the
// transaction's diff. A payer with no account starts from nonce zero.
func (u *ExecutionUnit) bumpNonce() error {
	payer, _ := u.get(u.tx.Payer)
	if u.tx.Nonce != payer.Nonce+1 {
		return fmt.Errorf("%w: expected %d", chainerr.ErrInvalidNonce, payer.Nonce+1)
	}
	payer.Nonce = u.tx.Nonce
	u.diff.Set(u.tx.Payer, payer)
	return nil
}

// get reads an account through the unit's own diff first, then the
// block-level view, so a transaction observes its own earlier writes.
func (u *ExecutionUnit) get(pubkey types.Pubkey) (account.Account, bool) {
	if u.diff.Deleted(pubkey) {
		return account.Account{}, false
	}
	if acc, ok := u.diff.Get(pubkey); ok {
		return acc, true
	}
	return u.view.Get(pubkey)
}

// buildEnvironment snapshots every referenced account at its state when
// the transaction begins.
func (u *ExecutionUnit) buildEnvironment() *Environment {
	env := &Environment{Contract: u.tx.Contract, Payer: u.tx.Payer}
	for _, meta := range u.tx.Accounts {
		view := AccountView{Signer: meta.Signer, Writable: meta.Writable}
		if acc, ok := u.get(meta.Pubkey); ok {
			view.Exists = true
			view.Balance = acc.Balance
			view.Executable = acc.Executable
			view.Owner = acc.Owner
			view.Data = acc.Data
		}
		env.Accounts = append(env.Accounts, EnvAccount{Pubkey: meta.Pubkey, View: view})
	}
	return env
}

// writable reports whether the transaction listed pubkey as writable.
// Nested invocations narrow but never widen this set.
func (u *ExecutionUnit) writable(env *Environment, pubkey types.Pubkey) bool {
	for _, a := range env.Accounts {
		if a.Pubkey == pubkey {
			return a.View.Writable
		}
	}
	return false
}

// fold applies one invocation's output stream to the unit's diff and
// logs, recursing for nested ContractInvoke outputs.
func (u *ExecutionUnit) fold(env *Environment, outputs []Output, depth int) error {
	for _, out := range outputs {
		switch o := out.(type) {
		case LogEntry:
			if err := u.appendLog(o); err != nil {
				return err
			}

		case CreateOwnedAccount:
			if !u.writable(env, o.Address) {
				return fmt.Errorf("%w: %s", chainerr.ErrNotWritable, o.Address)
			}
			if _, exists := u.get(o.Address); exists {
				return fmt.Errorf("%w: %s", chainerr.ErrDuplicateAccount, o.Address)
			}
			if err := u.checkAccountSize(o.Data); err != nil {
				return err
			}
			owner := env.Contract
			u.diff.Set(o.Address, account.Account{Owner: &owner, Data: o.Data})

		case WriteAccountData:
			if err := u.checkOwnedWrite(env, o.Address); err != nil {
				return err
			}
			if err := u.checkAccountSize(o.Data); err != nil {
				return err
			}
			acc, _ := u.get(o.Address)
			acc.Data = o.Data
			u.diff.Set(o.Address, acc)

		case DeleteOwnedAccount:
			if err := u.checkOwnedWrite(env, o.Address); err != nil {
				return err
			}
			u.diff.Delete(o.Address)

		case ContractInvoke:
			if depth+1 > MaxInvokeDepth {
				return chainerr.ErrInvokeTooDeep
			}
			nested, err := u.invoke(env, o, depth+1)
			if err != nil {
				return err
			}
			if err := u.fold(nested.env, nested.outputs, depth+1); err != nil {
				return err
			}

		case CreateExecutableAccount:
			if env.Contract != LoaderAddress {
				return fmt.Errorf("%w: only the loader may install code", chainerr.ErrUnauthorizedWrite)
			}
			if !u.writable(env, o.Address) {
				return fmt.Errorf("%w: %s", chainerr.ErrNotWritable, o.Address)
			}
			if _, exists := u.get(o.Address); exists {
				return fmt.Errorf("%w: %s", chainerr.ErrDuplicateAccount, o.Address)
			}
			if err := u.checkAccountSize(o.Code); err != nil {
				return err
			}
			owner := env.Contract
			u.diff.Set(o.Address, account.Account{Executable: true, Owner: &owner, Data: o.Code})

		case TransferBalance:
			if env.Contract != SystemAddress {
				return fmt.Errorf("%w: only the system contract moves balance", chainerr.ErrUnauthorizedWrite)
			}
			if err := u.transfer(env, o); err != nil {
				return err
			}

		default:
			return fmt.Errorf("%w: unrecognized output %T", chainerr.ErrUnauthorizedWrite, out)
		}
	}
	return nil
}

func (u *ExecutionUnit) appendLog(o LogEntry) error {
	if len(u.logs) >= MaxLogsCount {
		return fmt.Errorf("%w: more than %d log entries", chainerr.ErrLimitExceeded, MaxLogsCount)
	}
	size := uint64(len(o.Key) + len(o.Value))
	if max := u.machine.genesis.MaxLogSize; max > 0 && u.logBytes+size > max {
		return fmt.Errorf("%w: log bytes exceed %d", chainerr.ErrLimitExceeded, max)
	}
	u.logBytes += size
	u.logs = append(u.logs, block.LogEntry{Key: o.Key, Value: o.Value})
	return nil
}

// checkOwnedWrite enforces the two conditions every mutation of an
// existing account needs: the invoking contract owns it, and the
// transaction listed it writable.
func (u *ExecutionUnit) checkOwnedWrite(env *Environment, address types.Pubkey) error {
	if !u.writable(env, address) {
		return fmt.Errorf("%w: %s", chainerr.ErrNotWritable, address)
	}
	acc, exists := u.get(address)
	if !exists {
		return fmt.Errorf("%w: %s does not exist", chainerr.ErrOwnershipViolation, address)
	}
	if acc.Owner == nil || *acc.Owner != env.Contract {
		return fmt.Errorf("%w: %s not owned by %s", chainerr.ErrOwnershipViolation, address, env.Contract)
	}
	return nil
}

func (u *ExecutionUnit) checkAccountSize(data []byte) error {
	if max := u.machine.genesis.MaxAccountSize; max > 0 && uint64(len(data)) > max {
		return fmt.Errorf("%w: %d bytes", chainerr.ErrAccountTooLarge, len(data))
	}
	return nil
}

func (u *ExecutionUnit) transfer(env *Environment, o TransferBalance) error {
	if !u.writable(env, o.From) || !u.writable(env, o.To) {
		return fmt.Errorf("%w: transfer endpoints must be writable", chainerr.ErrNotWritable)
	}
	from, ok := u.get(o.From)
	if !ok || from.Balance < o.Amount {
		return fmt.Errorf("%w: %s", chainerr.ErrInsufficientBalance, o.From)
	}
	to, _ := u.get(o.To)
	from.Balance -= o.Amount
	to.Balance += o.Amount
	u.diff.Set(o.From, from)
	u.diff.Set(o.To, to)
	return nil
}

// nestedInvocation pairs the environment a nested call ran under with
// the outputs it produced, so fold can apply them with the callee's
// (narrowed) writability.
type nestedInvocation struct {
	env     *Environment
	outputs []Output
}

// invoke runs a nested contract call. The callee's account list must be
// a subset of the caller's with writability no greater than the
// caller's.
func (u *ExecutionUnit) invoke(caller *Environment, o ContractInvoke, depth int) (nestedInvocation, error) {
	entrypoint, ok := u.machine.Entrypoint(o.Contract)
	if !ok {
		return nestedInvocation{}, fmt.Errorf("%w: %s", chainerr.ErrUnknownContract, o.Contract)
	}

	env := &Environment{Contract: o.Contract, Payer: caller.Payer}
	for _, ref := range o.Accounts {
		callerView, ok := caller.Account(ref.Pubkey)
		if !ok {
			return nestedInvocation{}, fmt.Errorf("%w: %s not referenced by caller", chainerr.ErrNotWritable, ref.Pubkey)
		}
		if ref.Writable && !callerView.Writable {
			return nestedInvocation{}, fmt.Errorf("%w: %s writability widened by nested call", chainerr.ErrNotWritable, ref.Pubkey)
		}
		// Re-snapshot so the callee observes the caller's writes so far.
		view := AccountView{Signer: callerView.Signer, Writable: ref.Writable}
		if acc, exists := u.get(ref.Pubkey); exists {
			view.Exists = true
			view.Balance = acc.Balance
			view.Executable = acc.Executable
			view.Owner = acc.Owner
			view.Data = acc.Data
		}
		env.Accounts = append(env.Accounts, EnvAccount{Pubkey: ref.Pubkey, View: view})
	}

	outputs, err := entrypoint(env, o.Params, u.machine)
	if err != nil {
		return nestedInvocation{}, err
	}
	return nestedInvocation{env: env, outputs: outputs}, nil
}
