package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Config holds node-local runtime settings: everything that may differ
// between validators without affecting consensus. Consensus-critical
// parameters live in Genesis instead.
type Config struct {
	DataDir string `conf:"datadir"`

	P2P       P2PConfig
	Validator ValidatorConfig
	Log       LogConfig
}

// P2PConfig holds gossip-overlay networking settings.
type P2PConfig struct {
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Bootstrap  []string `conf:"p2p.bootstrap"` // libp2p multiaddrs used for the initial HyParView Join
	MaxPeers   int      `conf:"p2p.maxpeers"`
}

// ValidatorConfig locates this node's signing key material. At most one
// of MnemonicFile or KeyFile may be set; Validate rejects both together.
type ValidatorConfig struct {
	MnemonicFile string `conf:"validator.mnemonic"`
	KeyFile      string `conf:"validator.keyfile"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.forgecore
//	macOS:   ~/Library/Application Support/Forgecore
//	Windows: %APPDATA%\Forgecore
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".forgecore"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Forgecore")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Forgecore")
		}
		return filepath.Join(home, "AppData", "Roaming", "Forgecore")
	default:
		return filepath.Join(home, ".forgecore")
	}
}

// GenesisFile returns the expected genesis file path within DataDir.
func (c *Config) GenesisFile() string {
	return filepath.Join(c.DataDir, "genesis.json")
}

// StateDir returns the finalized-state storage directory.
func (c *Config) StateDir() string {
	return filepath.Join(c.DataDir, "state")
}

// BlocksDir returns the finalized-block storage directory.
func (c *Config) BlocksDir() string {
	return filepath.Join(c.DataDir, "blocks")
}

// LogsDir returns the log file directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the node config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "forgecore.conf")
}
