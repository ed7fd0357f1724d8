// Package config loads the two kinds of configuration this validator
// needs: the consensus-critical Genesis (immutable, hashed, identical
// across every node) and the node-local Config (runtime settings that may
// differ per node without affecting consensus).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/forgelabs/forgecore/pkg/account"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/types"
)

// jsonValidator is the wire shape of one genesis validator entry.
type jsonValidator struct {
	Pubkey string `json:"pubkey"`
	Stake  uint64 `json:"stake"`
}

// jsonAccount is the wire shape of one genesis state entry's account.
type jsonAccount struct {
	Balance    uint64  `json:"balance"`
	Nonce      uint64  `json:"nonce"`
	Executable bool    `json:"executable"`
	Owner      *string `json:"owner,omitempty"`
	Data       []byte  `json:"data,omitempty"`
}

// jsonGenesis is the camelCase JSON shape of the genesis file.
// Durations are human-readable strings ("500ms"); the timestamp is
// RFC 3339.
type jsonGenesis struct {
	ChainID             string                 `json:"chainId"`
	GenesisTime         time.Time              `json:"genesisTime"`
	SlotInterval        string                 `json:"slotInterval"`
	EpochBlocks         uint64                 `json:"epochBlocks"`
	MaxJustificationAge uint64                 `json:"maxJustificationAge"`
	MaxBlockSize        uint64                 `json:"maxBlockSize"`
	MaxAccountSize      uint64                 `json:"maxAccountSize"`
	MaxLogSize          uint64                 `json:"maxLogSize"`
	MaxTxSize           uint64                 `json:"maxTxSize"`
	MaxBlockTxs         uint64                 `json:"maxBlockTxs"`
	Builtins            []string               `json:"builtins"`
	Validators          []jsonValidator        `json:"validators"`
	MinimumStake        uint64                 `json:"minimumStake"`
	State               map[string]jsonAccount `json:"state"`
}

// LoadGenesis decodes a genesis file, rejecting unknown fields so a typo
// in an operator's file fails loudly rather than being silently ignored,
// then validates cross-field consistency.
func LoadGenesis(path string) (*block.Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read genesis file: %w", err)
	}

	var jg jsonGenesis
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&jg); err != nil {
		return nil, fmt.Errorf("config: parse genesis file: %w", err)
	}

	g, err := fromJSON(&jg)
	if err != nil {
		return nil, fmt.Errorf("config: genesis file: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid genesis: %w", err)
	}
	return g, nil
}

func fromJSON(jg *jsonGenesis) (*block.Genesis, error) {
	slotInterval, err := time.ParseDuration(jg.SlotInterval)
	if err != nil {
		return nil, fmt.Errorf("slotInterval: %w", err)
	}

	builtins := make([]types.Pubkey, 0, len(jg.Builtins))
	for _, s := range jg.Builtins {
		p, err := types.PubkeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("builtins: %w", err)
		}
		builtins = append(builtins, p)
	}

	validators := make([]block.ValidatorStake, 0, len(jg.Validators))
	for _, v := range jg.Validators {
		p, err := types.PubkeyFromBase58(v.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("validators: %w", err)
		}
		validators = append(validators, block.ValidatorStake{Pubkey: p, Stake: v.Stake})
	}

	state := make([]block.GenesisAccount, 0, len(jg.State))
	for key, a := range jg.State {
		p, err := types.PubkeyFromBase58(key)
		if err != nil {
			return nil, fmt.Errorf("state: %w", err)
		}
		acc := account.Account{Balance: a.Balance, Nonce: a.Nonce, Executable: a.Executable, Data: a.Data}
		if a.Owner != nil {
			owner, err := types.PubkeyFromBase58(*a.Owner)
			if err != nil {
				return nil, fmt.Errorf("state[%s].owner: %w", key, err)
			}
			acc.Owner = &owner
		}
		state = append(state, block.GenesisAccount{Pubkey: p, Account: acc})
	}

	return &block.Genesis{
		ChainID:             jg.ChainID,
		GenesisTime:         jg.GenesisTime.UTC(),
		SlotInterval:        slotInterval,
		EpochBlocks:         jg.EpochBlocks,
		MaxJustificationAge: jg.MaxJustificationAge,
		MaxBlockSize:        jg.MaxBlockSize,
		MaxAccountSize:      jg.MaxAccountSize,
		MaxLogSize:          jg.MaxLogSize,
		MaxTxSize:           jg.MaxTxSize,
		MaxBlockTxs:         jg.MaxBlockTxs,
		Builtins:            builtins,
		Validators:          validators,
		MinimumStake:        jg.MinimumStake,
		State:               state,
	}, nil
}
