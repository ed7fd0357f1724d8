// Package block defines the chain's block-shaped values: Genesis, the
// signed Produced block, the Executed pairing, transaction payloads, and
// BlockOutput.
package block

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/forgelabs/forgecore/pkg/account"
	"github.com/forgelabs/forgecore/pkg/crypto"
	"github.com/forgelabs/forgecore/pkg/types"
)

// ValidatorStake pairs a validator's key with its genesis-fixed stake.
// There is no dynamic validator-set membership:
// this list is fixed for the lifetime of the chain.
type ValidatorStake struct {
	Pubkey types.Pubkey
	Stake  uint64
}

// GenesisAccount is one entry of Genesis's initial state map.
type GenesisAccount struct {
	Pubkey  types.Pubkey
	Account account.Account
}

// Genesis carries every chain-identifying and consensus-critical
// parameter. It is block-shaped: height 0, no parent, no signature, no
// payload, immutable once loaded.
type Genesis struct {
	ChainID             string
	GenesisTime         time.Time
	SlotInterval        time.Duration
	EpochBlocks         uint64
	MaxJustificationAge uint64
	MaxBlockSize        uint64
	MaxAccountSize      uint64
	MaxLogSize          uint64
	MaxTxSize           uint64
	MaxBlockTxs         uint64
	Builtins            []types.Pubkey
	Validators          []ValidatorStake
	MinimumStake        uint64
	State               []GenesisAccount
}

// Height is always 0 for genesis.
func (Genesis) Height() uint64 { return 0 }

// SortedValidators returns a copy of Validators sorted by (pubkey, stake),
// the canonical order Hash uses so the digest never depends on the order
// validators were listed in the genesis file.
func (g *Genesis) SortedValidators() []ValidatorStake {
	out := append([]ValidatorStake(nil), g.Validators...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pubkey != out[j].Pubkey {
			return out[i].Pubkey.Less(out[j].Pubkey)
		}
		return out[i].Stake < out[j].Stake
	})
	return out
}

func (g *Genesis) sortedState() []GenesisAccount {
	out := append([]GenesisAccount(nil), g.State...)
	sort.Slice(out, func(i, j int) bool { return out[i].Pubkey.Less(out[j].Pubkey) })
	return out
}

// Hash content-addresses every genesis field: chain id, timing and size
// parameters (little-endian), builtin addresses in listed order, each
// validator's pubkey+stake in canonical sorted order, and each state
// entry's address + full account content hash in pubkey-sorted order.
func (g *Genesis) Hash() types.Hash {
	var parts [][]byte
	parts = append(parts, []byte(g.ChainID))

	// Every numeric parameter is consensus-critical: the size limits
	// decide which transactions fail, which changes block outputs and
	// state hashes. All of them bind the chain id.
	var timeAndSizes [80]byte
	binary.LittleEndian.PutUint64(timeAndSizes[0:8], uint64(g.GenesisTime.UnixMilli()))
	binary.LittleEndian.PutUint64(timeAndSizes[8:16], uint64(g.SlotInterval.Milliseconds()))
	binary.LittleEndian.PutUint64(timeAndSizes[16:24], g.EpochBlocks)
	binary.LittleEndian.PutUint64(timeAndSizes[24:32], g.MaxJustificationAge)
	binary.LittleEndian.PutUint64(timeAndSizes[32:40], g.MaxBlockSize)
	binary.LittleEndian.PutUint64(timeAndSizes[40:48], g.MaxAccountSize)
	binary.LittleEndian.PutUint64(timeAndSizes[48:56], g.MaxLogSize)
	binary.LittleEndian.PutUint64(timeAndSizes[56:64], g.MaxTxSize)
	binary.LittleEndian.PutUint64(timeAndSizes[64:72], g.MaxBlockTxs)
	binary.LittleEndian.PutUint64(timeAndSizes[72:80], g.MinimumStake)
	parts = append(parts, timeAndSizes[:])

	for _, b := range g.Builtins {
		parts = append(parts, b.Bytes())
	}

	for _, v := range g.SortedValidators() {
		var stakeBytes [8]byte
		binary.LittleEndian.PutUint64(stakeBytes[:], v.Stake)
		parts = append(parts, v.Pubkey.Bytes(), stakeBytes[:])
	}

	for _, s := range g.sortedState() {
		h := s.Account.Hash()
		parts = append(parts, s.Pubkey.Bytes(), h.Bytes())
	}

	return crypto.HashAll(parts...)
}

// Validate checks the cross-field consistency genesis must satisfy before
// a validator node will start from it.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("block: genesis chainId must not be empty")
	}
	if g.SlotInterval <= 0 {
		return fmt.Errorf("block: genesis slotInterval must be positive")
	}
	if g.EpochBlocks == 0 {
		return fmt.Errorf("block: genesis epochBlocks must be positive")
	}
	if len(g.Validators) == 0 {
		return fmt.Errorf("block: genesis must list at least one validator")
	}
	var maxStake uint64
	for _, v := range g.Validators {
		if v.Stake > maxStake {
			maxStake = v.Stake
		}
	}
	if g.MinimumStake > maxStake {
		return fmt.Errorf("block: minimumStake %d exceeds every validator's stake", g.MinimumStake)
	}
	return nil
}

// TotalStake sums every validator's genesis stake, regardless of whether
// it meets MinimumStake -- the denominator for finality fraction checks.
func (g *Genesis) TotalStake() uint64 {
	var total uint64
	for _, v := range g.Validators {
		total += v.Stake
	}
	return total
}
