package config

import "fmt"

// Validate checks runtime node config for obvious operator mistakes.
// Consensus-critical validation lives on Genesis.Validate instead.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir must not be empty")
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.P2P.MaxPeers < 0 {
		return fmt.Errorf("p2p.maxpeers must not be negative")
	}
	if cfg.Validator.MnemonicFile != "" && cfg.Validator.KeyFile != "" {
		return fmt.Errorf("validator.mnemonic and validator.keyfile are mutually exclusive; set at most one")
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}
