package vm

import (
	"fmt"

	"github.com/forgelabs/forgecore/internal/chainerr"
	"github.com/forgelabs/forgecore/pkg/types"
	"github.com/forgelabs/forgecore/pkg/wire"
)

// Token contract instruction opcodes.
const (
	tokOpCreateMint = iota
	tokOpCreateAccount
	tokOpMint
	tokOpTransfer
	tokOpBurn
)

// Mint is the metadata record a mint account's data decodes to. A nil
// Authority means the supply is frozen forever.
type Mint struct {
	Authority *types.Pubkey
	Supply    uint64
}

// TokenAccount records one wallet's holding of one mint.
type TokenAccount struct {
	Mint   types.Pubkey
	Owner  types.Pubkey
	Amount uint64
}

// EncodeMint serializes a mint record as token-contract account data.
func EncodeMint(m Mint) []byte {
	w := wire.NewWriter()
	w.Bool(m.Authority != nil)
	if m.Authority != nil {
		w.Raw(m.Authority.Bytes())
	}
	w.Uint64(m.Supply)
	return w.Bytes()
}

// DecodeMint reverses EncodeMint.
func DecodeMint(data []byte) (Mint, error) {
	r := wire.NewReader(data)
	var m Mint
	hasAuth, err := r.Bool()
	if err != nil {
		return m, err
	}
	if hasAuth {
		raw, err := r.Raw(types.PubkeySize)
		if err != nil {
			return m, err
		}
		auth, err := types.PubkeyFromBytes(raw)
		if err != nil {
			return m, err
		}
		m.Authority = &auth
	}
	if m.Supply, err = r.Uint64(); err != nil {
		return m, err
	}
	return m, r.Done()
}

// EncodeTokenAccount serializes a holding record as account data.
func EncodeTokenAccount(t TokenAccount) []byte {
	w := wire.NewWriter()
	w.Raw(t.Mint.Bytes())
	w.Raw(t.Owner.Bytes())
	w.Uint64(t.Amount)
	return w.Bytes()
}

// DecodeTokenAccount reverses EncodeTokenAccount.
func DecodeTokenAccount(data []byte) (TokenAccount, error) {
	r := wire.NewReader(data)
	var t TokenAccount
	raw, err := r.Raw(types.PubkeySize)
	if err != nil {
		return t, err
	}
	if t.Mint, err = types.PubkeyFromBytes(raw); err != nil {
		return t, err
	}
	if raw, err = r.Raw(types.PubkeySize); err != nil {
		return t, err
	}
	if t.Owner, err = types.PubkeyFromBytes(raw); err != nil {
		return t, err
	}
	if t.Amount, err = r.Uint64(); err != nil {
		return t, err
	}
	return t, r.Done()
}

// tokenContract implements fungible balances as token-owned data
// records: a mint account holds supply metadata, and each holding is a
// separate account owned by the token contract whose data decodes to a
// TokenAccount. Authorization is by signature of the recorded owner (or
// mint authority), never by holding the account's own key -- holdings
// live at program-derived addresses with no private key.
func tokenContract(env *Environment, params []byte, _ *Machine) ([]Output, error) {
	op, rest, err := splitOp(params)
	if err != nil {
		return nil, err
	}
	r := wire.NewReader(rest)

	switch op {
	case tokOpCreateMint:
		target, err := soleTarget(env)
		if err != nil {
			return nil, err
		}
		hasAuth, err := r.Bool()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", chainerr.ErrBadParams, err)
		}
		var mint Mint
		if hasAuth {
			raw, err := r.Raw(types.PubkeySize)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", chainerr.ErrBadParams, err)
			}
			auth, err := types.PubkeyFromBytes(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", chainerr.ErrBadParams, err)
			}
			mint.Authority = &auth
		}
		if err := r.Done(); err != nil {
			return nil, fmt.Errorf("%w: %v", chainerr.ErrBadParams, err)
		}
		return []Output{CreateOwnedAccount{Address: target, Data: EncodeMint(mint)}}, nil

	case tokOpCreateAccount:
		target, err := soleTarget(env)
		if err != nil {
			return nil, err
		}
		mintRaw, err := r.Raw(types.PubkeySize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", chainerr.ErrBadParams, err)
		}
		mintAddr, err := types.PubkeyFromBytes(mintRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", chainerr.ErrBadParams, err)
		}
		ownerRaw, err := r.Raw(types.PubkeySize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", chainerr.ErrBadParams, err)
		}
		owner, err := types.PubkeyFromBytes(ownerRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", chainerr.ErrBadParams, err)
		}
		if err := r.Done(); err != nil {
			return nil, fmt.Errorf("%w: %v", chainerr.ErrBadParams, err)
		}
		holding := TokenAccount{Mint: mintAddr, Owner: owner}
		return []Output{CreateOwnedAccount{Address: target, Data: EncodeTokenAccount(holding)}}, nil

	case tokOpMint:
		amount, err := amountArg(r)
		if err != nil {
			return nil, err
		}
		mintEnv, destEnv, err := twoAccounts(env)
		if err != nil {
			return nil, err
		}
		mint, err := DecodeMint(mintEnv.View.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: mint account: %v", chainerr.ErrBadParams, err)
		}
		if mint.Authority == nil || !signedBy(env, *mint.Authority) {
			return nil, fmt.Errorf("%w: mint authority must sign", chainerr.ErrUnauthorizedWrite)
		}
		dest, err := DecodeTokenAccount(destEnv.View.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: destination account: %v", chainerr.ErrBadParams, err)
		}
		if dest.Mint != mintEnv.Pubkey {
			return nil, fmt.Errorf("%w: destination holds a different mint", chainerr.ErrBadParams)
		}
		mint.Supply += amount
		dest.Amount += amount
		return []Output{
			WriteAccountData{Address: mintEnv.Pubkey, Data: EncodeMint(mint)},
			WriteAccountData{Address: destEnv.Pubkey, Data: EncodeTokenAccount(dest)},
		}, nil

	case tokOpTransfer:
		amount, err := amountArg(r)
		if err != nil {
			return nil, err
		}
		srcEnv, dstEnv, err := twoAccounts(env)
		if err != nil {
			return nil, err
		}
		src, err := DecodeTokenAccount(srcEnv.View.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: source account: %v", chainerr.ErrBadParams, err)
		}
		dst, err := DecodeTokenAccount(dstEnv.View.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: destination account: %v", chainerr.ErrBadParams, err)
		}
		if !signedBy(env, src.Owner) {
			return nil, fmt.Errorf("%w: source owner must sign", chainerr.ErrUnauthorizedWrite)
		}
		if src.Mint != dst.Mint {
			return nil, fmt.Errorf("%w: cross-mint transfer", chainerr.ErrBadParams)
		}
		if src.Amount < amount {
			return nil, fmt.Errorf("%w: %s", chainerr.ErrInsufficientBalance, srcEnv.Pubkey)
		}
		src.Amount -= amount
		dst.Amount += amount
		return []Output{
			WriteAccountData{Address: srcEnv.Pubkey, Data: EncodeTokenAccount(src)},
			WriteAccountData{Address: dstEnv.Pubkey, Data: EncodeTokenAccount(dst)},
		}, nil

	case tokOpBurn:
		amount, err := amountArg(r)
		if err != nil {
			return nil, err
		}
		mintEnv, srcEnv, err := twoAccounts(env)
		if err != nil {
			return nil, err
		}
		mint, err := DecodeMint(mintEnv.View.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: mint account: %v", chainerr.ErrBadParams, err)
		}
		src, err := DecodeTokenAccount(srcEnv.View.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: source account: %v", chainerr.ErrBadParams, err)
		}
		if !signedBy(env, src.Owner) {
			return nil, fmt.Errorf("%w: source owner must sign", chainerr.ErrUnauthorizedWrite)
		}
		if src.Mint != mintEnv.Pubkey {
			return nil, fmt.Errorf("%w: source holds a different mint", chainerr.ErrBadParams)
		}
		if src.Amount < amount || mint.Supply < amount {
			return nil, fmt.Errorf("%w: %s", chainerr.ErrInsufficientBalance, srcEnv.Pubkey)
		}
		mint.Supply -= amount
		src.Amount -= amount
		return []Output{
			WriteAccountData{Address: mintEnv.Pubkey, Data: EncodeMint(mint)},
			WriteAccountData{Address: srcEnv.Pubkey, Data: EncodeTokenAccount(src)},
		}, nil

	default:
		return nil, fmt.Errorf("%w: token opcode %d", chainerr.ErrBadParams, op)
	}
}

func amountArg(r *wire.Reader) (uint64, error) {
	amount, err := r.Uint64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", chainerr.ErrBadParams, err)
	}
	if err := r.Done(); err != nil {
		return 0, fmt.Errorf("%w: %v", chainerr.ErrBadParams, err)
	}
	return amount, nil
}

func twoAccounts(env *Environment) (EnvAccount, EnvAccount, error) {
	if len(env.Accounts) < 2 {
		return EnvAccount{}, EnvAccount{}, fmt.Errorf("%w: instruction needs two accounts", chainerr.ErrBadParams)
	}
	return env.Accounts[0], env.Accounts[1], nil
}

// signedBy reports whether the transaction carries pubkey's signature,
// either as the payer or as a signer-flagged account.
func signedBy(env *Environment, pubkey types.Pubkey) bool {
	if env.Payer == pubkey {
		return true
	}
	for _, a := range env.Accounts {
		if a.Pubkey == pubkey && a.View.Signer {
			return true
		}
	}
	return false
}
