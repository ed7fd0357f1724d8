package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	DataDir string
	Config  string
	Genesis string

	// P2P
	P2PListen    string
	P2PPort      int
	Bootstrap    string
	MaxPeers     int

	// Validator key material
	MnemonicFile string
	KeyFile      string
	Produce      bool

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	SetLogJSON bool
}

// ParseFlags parses command-line flags.
func ParseFlags() *Flags {
	f := &Flags{}
	fs := flag.NewFlagSet("forgecored", flag.ContinueOnError)

	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")
	fs.StringVar(&f.Genesis, "genesis", "", "Genesis file path (default: <datadir>/genesis.json)")

	fs.StringVar(&f.P2PListen, "p2p-listen", "", "P2P listen address")
	fs.IntVar(&f.P2PPort, "p2p-port", 0, "P2P listen port")
	fs.StringVar(&f.Bootstrap, "bootstrap", "", "Bootstrap peers as comma-separated libp2p multiaddrs")
	fs.IntVar(&f.MaxPeers, "maxpeers", 0, "Maximum active gossip peers")

	fs.StringVar(&f.MnemonicFile, "validator-mnemonic", "", "Path to validator BIP-39 recovery phrase file")
	fs.StringVar(&f.KeyFile, "validator-keyfile", "", "Path to validator private key file")
	fs.BoolVar(&f.Produce, "produce", false, "Produce blocks for slots this validator leads")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() { printUsage() }

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.Args = fs.Args()

	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			fmt.Fprintf(os.Stderr, "Error: flag %q was not parsed (positional argument stopped parsing)\n", arg)
			os.Exit(1)
		}
	}

	return f
}

// ApplyFlags applies command-line flags to a Config struct, highest
// precedence over file config and defaults.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.P2PListen != "" {
		cfg.P2P.ListenAddr = f.P2PListen
	}
	if f.P2PPort != 0 {
		cfg.P2P.Port = f.P2PPort
	}
	if f.Bootstrap != "" {
		cfg.P2P.Bootstrap = parseStringList(f.Bootstrap)
	}
	if f.MaxPeers != 0 {
		cfg.P2P.MaxPeers = f.MaxPeers
	}
	if f.MnemonicFile != "" {
		cfg.Validator.MnemonicFile = f.MnemonicFile
	}
	if f.KeyFile != "" {
		cfg.Validator.KeyFile = f.KeyFile
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			found = true
		}
	})
	return found
}

func printUsage() {
	usage := `forgecored - proof-of-stake consensus validator

Usage:
  forgecored [options]
  forgecored --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --datadir             Data directory (default: ~/.forgecore)
  --config, -c          Config file path (default: <datadir>/forgecore.conf)
  --genesis             Genesis file path (default: <datadir>/genesis.json)

P2P Options:
  --p2p-listen          P2P listen address (default: 0.0.0.0)
  --p2p-port            P2P listen port (default: 7070)
  --bootstrap           Bootstrap peers as comma-separated libp2p multiaddrs
  --maxpeers            Maximum active gossip peers (default: 50)

Validator Options:
  --validator-mnemonic  Path to a BIP-39 recovery phrase file
  --validator-keyfile   Path to a raw validator private key file
  --produce             Produce blocks for slots this validator leads

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path, written in addition to the console (default: <datadir>/logs/forgecore.log)
  --log-json      Output logs as JSON

Note:
  Consensus parameters (slot interval, epoch length, validator set) are
  fixed at genesis and cannot be changed at runtime.
`
	fmt.Print(usage)
}

// Load loads configuration with the following precedence: defaults, then
// the on-disk config file, then command-line flags.
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("forgecored version 0.1.0")
		os.Exit(0)
	}

	cfg := Default()
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Idempotent -- safe on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.StateDir(),
		cfg.BlocksDir(),
		cfg.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
