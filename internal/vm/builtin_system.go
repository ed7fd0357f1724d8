package vm

import (
	"fmt"

	"github.com/forgelabs/forgecore/internal/chainerr"
	"github.com/forgelabs/forgecore/pkg/types"
	"github.com/forgelabs/forgecore/pkg/wire"
)

// System contract instruction opcodes.
const (
	sysOpCreateAccount = iota
	sysOpWriteAccount
	sysOpDeleteAccount
	sysOpTransfer
	sysOpMemo
)

// systemContract is the built-in at the all-zero address: plain account
// bookkeeping (create/write/delete of system-owned data accounts) and
// native balance transfers between signing wallets.
//
// Instruction encoding: a single opcode byte followed by the op's fields
// in wire format.
func systemContract(env *Environment, params []byte, _ *Machine) ([]Output, error) {
	op, rest, err := splitOp(params)
	if err != nil {
		return nil, err
	}

	switch op {
	case sysOpCreateAccount:
		target, err := soleTarget(env)
		if err != nil {
			return nil, err
		}
		data, err := dataField(rest)
		if err != nil {
			return nil, err
		}
		return []Output{CreateOwnedAccount{Address: target, Data: data}}, nil

	case sysOpWriteAccount:
		target, err := soleTarget(env)
		if err != nil {
			return nil, err
		}
		data, err := dataField(rest)
		if err != nil {
			return nil, err
		}
		return []Output{WriteAccountData{Address: target, Data: data}}, nil

	case sysOpDeleteAccount:
		target, err := soleTarget(env)
		if err != nil {
			return nil, err
		}
		return []Output{DeleteOwnedAccount{Address: target}}, nil

	case sysOpTransfer:
		if len(env.Accounts) < 2 {
			return nil, fmt.Errorf("%w: transfer needs [from, to] accounts", chainerr.ErrBadParams)
		}
		from := env.Accounts[0]
		to := env.Accounts[1]
		if !from.View.Signer {
			return nil, fmt.Errorf("%w: transfer source must sign", chainerr.ErrUnauthorizedWrite)
		}
		r := wire.NewReader(rest)
		amount, err := r.Uint64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", chainerr.ErrBadParams, err)
		}
		if err := r.Done(); err != nil {
			return nil, fmt.Errorf("%w: %v", chainerr.ErrBadParams, err)
		}
		return []Output{
			LogEntry{Key: "transfer", Value: []byte(fmt.Sprintf("%s->%s:%d", from.Pubkey, to.Pubkey, amount))},
			TransferBalance{From: from.Pubkey, To: to.Pubkey, Amount: amount},
		}, nil

	case sysOpMemo:
		data, err := dataField(rest)
		if err != nil {
			return nil, err
		}
		return []Output{LogEntry{Key: "memo", Value: data}}, nil

	default:
		return nil, fmt.Errorf("%w: system opcode %d", chainerr.ErrBadParams, op)
	}
}

func splitOp(params []byte) (byte, []byte, error) {
	if len(params) == 0 {
		return 0, nil, fmt.Errorf("%w: empty instruction", chainerr.ErrBadParams)
	}
	return params[0], params[1:], nil
}

// soleTarget returns the first referenced account, the convention every
// single-account instruction uses.
func soleTarget(env *Environment) (types.Pubkey, error) {
	if len(env.Accounts) == 0 {
		return types.Pubkey{}, fmt.Errorf("%w: no target account", chainerr.ErrBadParams)
	}
	return env.Accounts[0].Pubkey, nil
}

func dataField(rest []byte) ([]byte, error) {
	r := wire.NewReader(rest)
	data, err := r.BytesField()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chainerr.ErrBadParams, err)
	}
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", chainerr.ErrBadParams, err)
	}
	return data, nil
}
