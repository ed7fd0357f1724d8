package config

// Default returns a node configuration populated with sane defaults. The
// genesis file itself (consensus-critical) is loaded separately via
// LoadGenesis -- nothing here may ever affect consensus.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		P2P: P2PConfig{
			ListenAddr: "0.0.0.0",
			Port:       7070,
			Bootstrap:  []string{},
			MaxPeers:   50,
		},
		Validator: ValidatorConfig{},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
