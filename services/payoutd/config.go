package payoutd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for payoutd.
type Config struct {
	ListenAddress  string       `yaml:"listen"`
	Ledger         LedgerConfig `yaml:"ledger"`
	ConfirmTimeout Duration     `yaml:"confirm_timeout"`
	PauseOnStart   bool         `yaml:"pause"`
	Admin          AdminConfig  `yaml:"admin"`
}

// LedgerConfig configures the ledger client and held signing key.
type LedgerConfig struct {
	Endpoint          string   `yaml:"endpoint"`
	ChainID           string   `yaml:"chain_id"`
	HTTPTimeout       Duration `yaml:"http_timeout"`
	SignerKey         string   `yaml:"signer_key"`
	SignerKeyFile     string   `yaml:"signer_key_file"`
	SignerKeyEnv      string   `yaml:"signer_key_env"`
	EscrowContractID  string   `yaml:"escrow_contract"`
	ProgramContractID string   `yaml:"program_contract"`
}

// AdminConfig captures security settings for the admin API.
type AdminConfig struct {
	BearerToken     string `yaml:"bearer_token"`
	BearerTokenFile string `yaml:"bearer_token_file"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Ledger.normalise(); err != nil {
		return cfg, fmt.Errorf("ledger signer: %w", err)
	}
	if err := cfg.Admin.normalise(); err != nil {
		return cfg, fmt.Errorf("admin security: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7082"
	}
	if cfg.ConfirmTimeout.Duration == 0 {
		cfg.ConfirmTimeout.Duration = time.Minute
	}
	if cfg.Ledger.HTTPTimeout.Duration == 0 {
		cfg.Ledger.HTTPTimeout.Duration = 30 * time.Second
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Ledger.Endpoint) == "" {
		return fmt.Errorf("ledger endpoint must be configured")
	}
	if strings.TrimSpace(cfg.Ledger.ChainID) == "" {
		return fmt.Errorf("ledger chain_id must be configured")
	}
	if strings.TrimSpace(cfg.Ledger.SignerKey) == "" {
		return fmt.Errorf("signer key must be configured")
	}
	if strings.TrimSpace(cfg.Ledger.EscrowContractID) == "" {
		return fmt.Errorf("escrow contract must be configured")
	}
	if strings.TrimSpace(cfg.Ledger.ProgramContractID) == "" {
		return fmt.Errorf("program contract must be configured")
	}
	if cfg.Admin.BearerToken == "" {
		return fmt.Errorf("admin bearer_token must be configured")
	}
	return nil
}

func (c *LedgerConfig) normalise() error {
	if c == nil {
		return fmt.Errorf("ledger configuration missing")
	}
	c.SignerKey = strings.TrimSpace(c.SignerKey)
	c.SignerKeyEnv = strings.TrimSpace(c.SignerKeyEnv)
	c.SignerKeyFile = strings.TrimSpace(c.SignerKeyFile)
	if c.SignerKey != "" {
		return nil
	}
	switch {
	case c.SignerKeyEnv != "":
		value := strings.TrimSpace(os.Getenv(c.SignerKeyEnv))
		if value == "" {
			return fmt.Errorf("signer_key_env %s is empty", c.SignerKeyEnv)
		}
		c.SignerKey = value
	case c.SignerKeyFile != "":
		contents, err := os.ReadFile(c.SignerKeyFile)
		if err != nil {
			return fmt.Errorf("read signer_key_file: %w", err)
		}
		c.SignerKey = strings.TrimSpace(string(contents))
	default:
		return fmt.Errorf("signer_key is required")
	}
	return nil
}

func (a *AdminConfig) normalise() error {
	if a == nil {
		return fmt.Errorf("admin configuration missing")
	}
	token := strings.TrimSpace(a.BearerToken)
	if path := strings.TrimSpace(a.BearerTokenFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read bearer_token_file: %w", err)
		}
		token = strings.TrimSpace(string(contents))
	}
	a.BearerToken = token
	return nil
}
