package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the ledgersyncd service configuration.
type Config struct {
	ListenAddress string  `toml:"ListenAddress"`
	Env           string  `toml:"Env"`
	Storage       Storage `toml:"Storage"`
}

// Storage selects and parameterises the persistence backend.
type Storage struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Load reads the configuration from the given path and fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8650"
	}
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = "./ledgersync.db"
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		return fmt.Errorf("storage DSN required for driver %q", cfg.Storage.Driver)
	}
	return nil
}
