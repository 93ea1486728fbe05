// Package config loads the grainpay node configuration from TOML.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"grainpay/crypto"
)

// Config captures the runtime configuration for the grainpay node.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	InstanceName  string `toml:"InstanceName"`

	// Addresses are bech32 strings with the grain prefix.
	VaultAddress string `toml:"VaultAddress"`
	PayoutKey    string `toml:"PayoutKey"`
	AdminAddress string `toml:"AdminAddress"`

	// AllowUnboundRelease permits releasing a bounty to a recipient
	// other than the bound contributor.
	AllowUnboundRelease bool `toml:"AllowUnboundRelease"`

	// TargetVersion, when above the current schema version, triggers
	// sequential migrations at startup.
	TargetVersion uint32 `toml:"TargetVersion"`
}

// Load reads configuration from the given path, creating a default file
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":7080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./grainpay-data"
	}
	if strings.TrimSpace(cfg.InstanceName) == "" {
		cfg.InstanceName = "grainpay-local"
	}
}

// Validate checks that the configured addresses decode.
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"VaultAddress": c.VaultAddress,
		"PayoutKey":    c.PayoutKey,
		"AdminAddress": c.AdminAddress,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("config: %s must be configured", name)
		}
		if _, err := crypto.DecodeAddress(value); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// MustAddress decodes a configured bech32 address; the configuration is
// validated at load so failures here indicate programmer error.
func MustAddress(value string) crypto.Address {
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		panic(fmt.Sprintf("config: invalid address %q: %v", value, err))
	}
	return addr
}

func createDefault(path string) (*Config, error) {
	vaultKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	payoutKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	adminKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		VaultAddress: vaultKey.PubKey().Address().String(),
		PayoutKey:    payoutKey.PubKey().Address().String(),
		AdminAddress: adminKey.PubKey().Address().String(),
	}
	applyDefaults(cfg)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: create default: %w", err)
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: write default: %w", err)
	}
	return cfg, nil
}
