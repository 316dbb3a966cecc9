package client

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fitcipher/fitcipher/scheme"
)

// Config is the client configuration.
//
//	server_url: http://localhost:8080
//	keyring_path: ~/.config/fitcipher/keyring
//	passphrase_env: FITCIPHER_KEYRING_PASSPHRASE
type Config struct {
	ServerURL string        `yaml:"server_url"`
	Timeout   time.Duration `yaml:"timeout"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`

	Scheme scheme.ParametersLiteral `yaml:"scheme"`

	// KeyringPath stores the client key pair, created on first use.
	KeyringPath   string `yaml:"keyring_path"`
	PassphraseEnv string `yaml:"passphrase_env"`

	// AdoptServerKeys uses the key pair exported by a server running in
	// server key mode instead of the local keyring.
	AdoptServerKeys bool `yaml:"adopt_server_keys"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	keyring := "fitcipher.keyring"
	if dir, err := os.UserConfigDir(); err == nil {
		keyring = filepath.Join(dir, "fitcipher", "keyring")
	}
	return &Config{
		ServerURL:     "http://localhost:8080",
		Timeout:       30 * time.Second,
		LogLevel:      "warning",
		LogFormat:     "text",
		Scheme:        scheme.ExampleParametersLogN12LogQP109,
		KeyringPath:   keyring,
		PassphraseEnv: "FITCIPHER_KEYRING_PASSPHRASE",
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Passphrase returns the keyring passphrase from the environment.
func (c *Config) Passphrase() ([]byte, error) {
	p, ok := os.LookupEnv(c.PassphraseEnv)
	if !ok || p == "" {
		return nil, fmt.Errorf("environment variable %s is empty", c.PassphraseEnv)
	}
	return []byte(p), nil
}
