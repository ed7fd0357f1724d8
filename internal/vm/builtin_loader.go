package vm

import (
	"fmt"

	"github.com/forgelabs/forgecore/internal/chainerr"
)

// Loader contract instruction opcodes.
const (
	loaderOpInstall = iota
)

// loaderContract is the only built-in permitted to emit
// CreateExecutableAccount. It performs the installation bookkeeping --
// placing bytecode into an account's data and flipping its executable
// flag -- without interpreting the installed code; running installed
// contracts is a concern of an external runtime, not this machine.
func loaderContract(env *Environment, params []byte, _ *Machine) ([]Output, error) {
	op, rest, err := splitOp(params)
	if err != nil {
		return nil, err
	}

	switch op {
	case loaderOpInstall:
		target, err := soleTarget(env)
		if err != nil {
			return nil, err
		}
		code, err := dataField(rest)
		if err != nil {
			return nil, err
		}
		if len(code) == 0 {
			return nil, fmt.Errorf("%w: empty bytecode", chainerr.ErrBadParams)
		}
		return []Output{
			LogEntry{Key: "install", Value: []byte(target.String())},
			CreateExecutableAccount{Address: target, Code: code},
		}, nil

	default:
		return nil, fmt.Errorf("%w: loader opcode %d", chainerr.ErrBadParams, op)
	}
}
