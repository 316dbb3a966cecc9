package service

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fitcipher/fitcipher/aggregator"
	"github.com/fitcipher/fitcipher/scheme"
)

// Key modes.
const (
	// KeyModeClient binds the first public key registered by a client. The
	// secret key never reaches the server.
	KeyModeClient = "client"
	// KeyModeServer generates or loads a key pair on the server and binds its
	// public key at startup.
	KeyModeServer = "server"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config is the server configuration, usually read from a YAML file.
//
//	listen_addr: ":8080"
//	log_level: info
//	log_format: text
//	scheme:
//	  log_n: 12
//	  log_q: [54]
//	  log_p: [55]
//	  plaintext_modulus: 65537
//	keys:
//	  mode: client
//	storage:
//	  driver: memory
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	Scheme  scheme.ParametersLiteral `yaml:"scheme"`
	Keys    KeysConfig               `yaml:"keys"`
	Storage StorageConfig            `yaml:"storage"`
	CORS    CORSConfig               `yaml:"cors"`

	// MaxRecords caps the record log. Zero selects the largest value the
	// parameters allow.
	MaxRecords int `yaml:"max_records"`

	ReadTimeout              time.Duration `yaml:"read_timeout"`
	WriteTimeout             time.Duration `yaml:"write_timeout"`
	DrainDuration            time.Duration `yaml:"drain_duration"`
	GracefulShutdownDuration time.Duration `yaml:"graceful_shutdown_duration"`
}

// KeysConfig selects who owns the key pair.
type KeysConfig struct {
	Mode string `yaml:"mode"`

	// ExportSecretKey makes GET /api/metrics/keys return the secret key in
	// server mode. Only for clients that cannot generate keys themselves.
	ExportSecretKey bool `yaml:"export_secret_key"`

	// KeyringPath persists the server key pair in server mode. Empty means
	// an ephemeral key pair per process.
	KeyringPath string `yaml:"keyring_path"`
	// PassphraseEnv names the environment variable holding the keyring
	// passphrase.
	PassphraseEnv string `yaml:"passphrase_env"`
}

// StorageConfig selects the record log.
type StorageConfig struct {
	Driver   string                    `yaml:"driver"`
	Postgres aggregator.PostgresConfig `yaml:"postgres"`
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		LogFormat:  "text",
		Scheme:     scheme.ExampleParametersLogN12LogQP109,
		Keys: KeysConfig{
			Mode:          KeyModeClient,
			PassphraseEnv: "FITCIPHER_KEYRING_PASSPHRASE",
		},
		Storage: StorageConfig{
			Driver: StorageMemory,
			Postgres: aggregator.PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Database: "fitcipher",
			},
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             60 * time.Second,
		DrainDuration:            2 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that NewService cannot check itself.
func (c *Config) Validate() error {
	switch c.Keys.Mode {
	case KeyModeClient:
		if c.Keys.ExportSecretKey {
			return fmt.Errorf("invalid config: keys.export_secret_key requires keys.mode %q", KeyModeServer)
		}
	case KeyModeServer:
	default:
		return fmt.Errorf("invalid config: unknown keys.mode %q", c.Keys.Mode)
	}

	switch c.Storage.Driver {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("invalid config: unknown storage.driver %q", c.Storage.Driver)
	}

	if c.MaxRecords < 0 {
		return fmt.Errorf("invalid config: max_records must be non-negative")
	}
	return nil
}

// Passphrase returns the keyring passphrase from the environment.
func (c *KeysConfig) Passphrase() ([]byte, error) {
	if c.PassphraseEnv == "" {
		return nil, fmt.Errorf("keys.passphrase_env is not set")
	}
	p, ok := os.LookupEnv(c.PassphraseEnv)
	if !ok || p == "" {
		return nil, fmt.Errorf("environment variable %s is empty", c.PassphraseEnv)
	}
	return []byte(p), nil
}
