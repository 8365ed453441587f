package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"synthvault/native/vault"
)

// Config captures the daemon configuration. Addresses are bech32 strings so
// the file stays copy-pasteable between environments.
type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	DataDir      string `toml:"DataDir"`
	NetworkName  string `toml:"NetworkName"`
	Environment  string `toml:"Environment"`
	OwnerAddress string `toml:"OwnerAddress"`
	// VaultAddress is the collateral custody account. Generated when empty.
	VaultAddress   string `toml:"VaultAddress"`
	FeePoolAddress string `toml:"FeePoolAddress"`
	// ManualRate seeds the manual oracle at startup, expressed as a decimal
	// synth-per-collateral exchange rate. Empty leaves the oracle unset.
	ManualRate string `toml:"ManualRate"`
	// OracleMaxAgeSeconds bounds quote freshness; zero disables the check.
	OracleMaxAgeSeconds int64 `toml:"OracleMaxAgeSeconds"`

	Vault vault.Params `toml:"vault"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Vault.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "synthvault-local"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if cfg.OracleMaxAgeSeconds < 0 {
		cfg.OracleMaxAgeSeconds = 0
	}
	defaults := vault.DefaultParams()
	if cfg.Vault.MinCollateralRatioBps == 0 {
		cfg.Vault.MinCollateralRatioBps = defaults.MinCollateralRatioBps
	}
	if cfg.Vault.MaxClosureFeeBps == 0 {
		cfg.Vault.MaxClosureFeeBps = defaults.MaxClosureFeeBps
	}
	cfg.Vault.EnsureDefaults()
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{Vault: vault.DefaultParams()}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
