// Forgecore validator daemon.
//
// Usage:
//
//	forgecored [--produce --validator-mnemonic=...] Run a validator
//	forgecored --help                               Show help
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/forgelabs/forgecore/config"
	"github.com/forgelabs/forgecore/internal/log"
	"github.com/forgelabs/forgecore/internal/node"
	"github.com/forgelabs/forgecore/pkg/crypto"
)

func main() {
	cfg, flags, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "forgecored: %v\n", err)
		os.Exit(1)
	}

	logFile := cfg.Log.File
	if logFile == "" {
		logFile = filepath.Join(cfg.LogsDir(), "forgecore.log")
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "forgecored: init logging: %v\n", err)
		os.Exit(1)
	}

	genesisPath := flags.Genesis
	if genesisPath == "" {
		genesisPath = cfg.GenesisFile()
	}
	genesis, err := config.LoadGenesis(genesisPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", genesisPath).Msg("genesis load failed")
	}

	key, err := loadValidatorKey(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("validator key load failed")
	}

	log.Info().
		Str("chain_id", genesis.ChainID).
		Stringer("genesis_hash", genesis.Hash()).
		Stringer("validator", key.Public()).
		Str("datadir", cfg.DataDir).
		Msg("starting forgecored")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := node.New(ctx, cfg, genesis, key, flags.Produce)
	if err != nil {
		log.Fatal().Err(err).Msg("node initialization failed")
	}

	runErr := make(chan error, 1)
	go func() { runErr <- n.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-runErr:
		if err != nil {
			log.Error().Err(err).Msg("event loop exited")
		}
	}

	cancel()
	n.Stop()
}

// loadValidatorKey resolves the validator's Ed25519 signing key: a
// BIP-39 recovery phrase file takes precedence, then a raw hex key
// file. With neither configured, a fresh mnemonic is generated and
// written into the data directory so the identity survives restarts.
func loadValidatorKey(cfg *config.Config) (*crypto.PrivateKey, error) {
	if path := cfg.Validator.MnemonicFile; path != "" {
		phrase, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read mnemonic file: %w", err)
		}
		return crypto.KeyFromMnemonic(strings.TrimSpace(string(phrase)), "")
	}

	if path := cfg.Validator.KeyFile; path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		keyBytes, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("decode key file: %w", err)
		}
		return crypto.PrivateKeyFromBytes(keyBytes)
	}

	// First boot without configured key material: mint an identity.
	defaultPath := filepath.Join(cfg.DataDir, "validator.mnemonic")
	if phrase, err := os.ReadFile(defaultPath); err == nil {
		return crypto.KeyFromMnemonic(strings.TrimSpace(string(phrase)), "")
	}

	mnemonic, err := crypto.GenerateMnemonic()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(defaultPath, []byte(mnemonic+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("persist mnemonic: %w", err)
	}
	key, err := crypto.KeyFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, err
	}
	log.Info().
		Stringer("validator", key.Public()).
		Str("mnemonic_file", defaultPath).
		Msg("generated new validator identity")
	return key, nil
}
