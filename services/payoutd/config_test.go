package payoutd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
ledger:
  endpoint: "http://localhost:8545"
  chain_id: "grainpay-test"
  signer_key: "aabbcc"
  escrow_contract: "` + "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789" + `"
  program_contract: "` + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef" + `"
admin:
  bearer_token: "secret"
`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":7082" {
		t.Fatalf("default listen address not applied: %q", cfg.ListenAddress)
	}
	if cfg.ConfirmTimeout.Duration != time.Minute {
		t.Fatalf("default confirm timeout not applied: %s", cfg.ConfirmTimeout.Duration)
	}
	if cfg.Ledger.HTTPTimeout.Duration != 30*time.Second {
		t.Fatalf("default http timeout not applied: %s", cfg.Ledger.HTTPTimeout.Duration)
	}
	if cfg.PauseOnStart {
		t.Fatalf("pause should default to false")
	}
}

func TestLoadConfigParsesDurations(t *testing.T) {
	path := writeConfigFile(t, minimalConfig+`
listen: ":9000"
confirm_timeout: "2m30s"
pause: true
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("listen address not honoured: %q", cfg.ListenAddress)
	}
	if cfg.ConfirmTimeout.Duration != 2*time.Minute+30*time.Second {
		t.Fatalf("confirm timeout not parsed: %s", cfg.ConfirmTimeout.Duration)
	}
	if !cfg.PauseOnStart {
		t.Fatalf("pause flag not honoured")
	}
}

func TestLoadConfigSignerKeyFromEnv(t *testing.T) {
	t.Setenv("GRAINPAY_TEST_SIGNER", "  ddeeff  ")
	cfg := strings.Replace(minimalConfig, `signer_key: "aabbcc"`, `signer_key_env: "GRAINPAY_TEST_SIGNER"`, 1)
	path := writeConfigFile(t, cfg)

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded.Ledger.SignerKey != "ddeeff" {
		t.Fatalf("env signer key not resolved: %q", loaded.Ledger.SignerKey)
	}
}

func TestLoadConfigSignerKeyFromFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "signer.key")
	if err := os.WriteFile(keyPath, []byte("ffeedd\n"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	cfg := strings.Replace(minimalConfig, `signer_key: "aabbcc"`, `signer_key_file: "`+keyPath+`"`, 1)
	path := writeConfigFile(t, cfg)

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded.Ledger.SignerKey != "ffeedd" {
		t.Fatalf("file signer key not resolved: %q", loaded.Ledger.SignerKey)
	}
}

func TestLoadConfigBearerTokenFromFile(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenPath, []byte(" tok-123 \n"), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}
	cfg := strings.Replace(minimalConfig, `bearer_token: "secret"`, `bearer_token_file: "`+tokenPath+`"`, 1)
	path := writeConfigFile(t, cfg)

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded.Admin.BearerToken != "tok-123" {
		t.Fatalf("token file not resolved: %q", loaded.Admin.BearerToken)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mangle func(string) string
	}{
		{"missing endpoint", func(s string) string { return strings.Replace(s, `endpoint: "http://localhost:8545"`, `endpoint: ""`, 1) }},
		{"missing chain id", func(s string) string { return strings.Replace(s, `chain_id: "grainpay-test"`, `chain_id: ""`, 1) }},
		{"missing signer key", func(s string) string { return strings.Replace(s, `signer_key: "aabbcc"`, ``, 1) }},
		{"missing bearer token", func(s string) string { return strings.Replace(s, `bearer_token: "secret"`, ``, 1) }},
	}
	for _, tc := range cases {
		path := writeConfigFile(t, tc.mangle(minimalConfig))
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
