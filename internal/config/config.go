// Package config provides configuration management for CertifyChain.
// It loads a YAML file (optionally SOPS-encrypted), applies environment
// variable overrides and command line flags, and validates the result for the
// server, database, chain, wallet, session, upload, logging and security
// settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/getsops/sops/v3/decrypt"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CERTIFYCHAIN_SERVER_PORT.
const EnvPrefix = "CERTIFYCHAIN"

// DefaultMaxUploadSize is the cap on uploaded certificate images.
const DefaultMaxUploadSize = 5 << 20

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DB"`
	Chain    ChainConfig    `yaml:"chain" envconfig:"CHAIN"`
	Wallet   WalletConfig   `yaml:"wallet" envconfig:"WALLET"`
	Client   ClientConfig   `yaml:"client" envconfig:"CLIENT"`
	JWT      JWTConfig      `yaml:"jwt" envconfig:"JWT"`
	Session  SessionConfig  `yaml:"session" envconfig:"SESSION"`
	Upload   UploadConfig   `yaml:"upload" envconfig:"UPLOAD"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOG"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Metrics  MetricsConfig  `yaml:"metrics" envconfig:"METRICS"`
	Tracing  TracingConfig  `yaml:"tracing" envconfig:"TRACING"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" split_words:"true"`
	Host         string        `yaml:"host" split_words:"true"`
	ReadTimeout  time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout time.Duration `yaml:"write_timeout" split_words:"true"`
	TLSEnabled   bool          `yaml:"tls_enabled" split_words:"true"`
	TLSCert      string        `yaml:"tls_cert" split_words:"true"`
	TLSKey       string        `yaml:"tls_key" split_words:"true"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type     string         `yaml:"type" split_words:"true"`
	SQLite   SQLiteConfig   `yaml:"sqlite" envconfig:"SQLITE"`
	Postgres PostgresConfig `yaml:"postgres" envconfig:"POSTGRES"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path" split_words:"true"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	Host         string `yaml:"host" split_words:"true"`
	Port         int    `yaml:"port" split_words:"true"`
	Database     string `yaml:"database" split_words:"true"`
	User         string `yaml:"user" split_words:"true"`
	Password     string `yaml:"password" split_words:"true"`
	SSLMode      string `yaml:"ssl_mode" split_words:"true"`
	MaxOpenConns int    `yaml:"max_open_conns" split_words:"true"`
	MaxIdleConns int    `yaml:"max_idle_conns" split_words:"true"`
}

// ChainConfig points at the registry contract
type ChainConfig struct {
	RPCURL              string        `yaml:"rpc_url" split_words:"true"`
	ContractAddress     string        `yaml:"contract_address" split_words:"true"`
	ChainID             int64         `yaml:"chain_id" split_words:"true"`
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout" split_words:"true"`
	CallTimeout         time.Duration `yaml:"call_timeout" split_words:"true"`
}

// WalletConfig holds the signing key used by the command line client.
// KeystorePath takes precedence over PrivateKey.
type WalletConfig struct {
	KeystorePath string `yaml:"keystore_path" split_words:"true"`
	Passphrase   string `yaml:"passphrase" split_words:"true"`
	PrivateKey   string `yaml:"private_key" split_words:"true"`
}

// ClientConfig holds settings for the command line client
type ClientConfig struct {
	APIURL      string        `yaml:"api_url" split_words:"true"`
	JournalPath string        `yaml:"journal_path" split_words:"true"`
	Timeout     time.Duration `yaml:"timeout" split_words:"true"`
}

// JWTConfig holds JWT authentication configuration
type JWTConfig struct {
	Secret     string        `yaml:"secret" split_words:"true"`
	Expiration time.Duration `yaml:"expiration" split_words:"true"`
	Issuer     string        `yaml:"issuer" split_words:"true"`
}

// SessionConfig holds wallet sign-in settings
type SessionConfig struct {
	ChallengeMaxAge time.Duration `yaml:"challenge_max_age" split_words:"true"`
}

// UploadConfig selects where certificate images are stored
type UploadConfig struct {
	Backend         string `yaml:"backend" split_words:"true"`
	MaxSize         int64  `yaml:"max_size" split_words:"true"`
	LocalDir        string `yaml:"local_dir" split_words:"true"`
	PublicBaseURL   string `yaml:"public_base_url" split_words:"true"`
	Bucket          string `yaml:"bucket" split_words:"true"`
	Prefix          string `yaml:"prefix" split_words:"true"`
	Region          string `yaml:"region" split_words:"true"`
	Endpoint        string `yaml:"endpoint" split_words:"true"`
	CredentialsFile string `yaml:"credentials_file" split_words:"true"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"`
	Output string `yaml:"output" split_words:"true"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORSEnabled       bool          `yaml:"cors_enabled" split_words:"true"`
	CORSOrigins       []string      `yaml:"cors_origins" split_words:"true"`
	RateLimitEnabled  bool          `yaml:"rate_limit_enabled" split_words:"true"`
	RateLimitRequests int           `yaml:"rate_limit_requests" split_words:"true"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window" split_words:"true"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" split_words:"true"`
	Path    string `yaml:"path" split_words:"true"`
}

// TracingConfig controls OpenTelemetry export. With Stdout unset spans go to
// the OTLP HTTP endpoint (or the OTEL_EXPORTER_OTLP_* defaults).
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled" split_words:"true"`
	Stdout   bool   `yaml:"stdout" split_words:"true"`
	Endpoint string `yaml:"endpoint" split_words:"true"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8000,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: "./data/certifychain.db",
			},
			Postgres: PostgresConfig{
				Port:         5432,
				SSLMode:      "disable",
				MaxOpenConns: 25,
				MaxIdleConns: 5,
			},
		},
		Chain: ChainConfig{
			RPCURL:              "http://127.0.0.1:8545",
			ChainID:             31337,
			ConfirmationTimeout: 5 * time.Minute,
			CallTimeout:         15 * time.Second,
		},
		Client: ClientConfig{
			APIURL:      "http://localhost:8000",
			JournalPath: "./data/journal",
			Timeout:     30 * time.Second,
		},
		JWT: JWTConfig{
			Expiration: 24 * time.Hour,
			Issuer:     "certifychain",
		},
		Session: SessionConfig{
			ChallengeMaxAge: 5 * time.Minute,
		},
		Upload: UploadConfig{
			Backend:       "local",
			MaxSize:       DefaultMaxUploadSize,
			LocalDir:      "./data/uploads",
			PublicBaseURL: "/uploads",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			CORSEnabled:       true,
			CORSOrigins:       []string{"http://localhost:3000"},
			RateLimitEnabled:  true,
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration: defaults, then the file at path (missing
// file is not an error), then environment variables, then flags.
func Load(path string, flags *Flags) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if isSopsEncrypted(data) {
			data, err = decrypt.Data(data, "yaml")
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt config file: %w", err)
			}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if flags != nil {
		if err := flags.apply(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func isSopsEncrypted(data []byte) bool {
	var probe map[string]any
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return false
	}
	_, ok := probe["sops"]
	return ok
}

// applyEnvOverrides applies CERTIFYCHAIN_* environment variables on top of
// the current values. Unset variables leave fields untouched.
func (c *Config) applyEnvOverrides() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.TLSEnabled {
		if c.Server.TLSCert == "" || c.Server.TLSKey == "" {
			return fmt.Errorf("TLS enabled but cert or key not specified")
		}
	}

	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("invalid database type: %s (must be 'sqlite' or 'postgres')", c.Database.Type)
	}
	if c.Database.Type == "sqlite" && c.Database.SQLite.Path == "" {
		return fmt.Errorf("SQLite path not specified")
	}
	if c.Database.Type == "postgres" {
		if c.Database.Postgres.Host == "" || c.Database.Postgres.Database == "" {
			return fmt.Errorf("PostgreSQL host and database must be specified")
		}
	}

	if c.Chain.ContractAddress != "" && !common.IsHexAddress(c.Chain.ContractAddress) {
		return fmt.Errorf("invalid contract address: %s", c.Chain.ContractAddress)
	}
	if c.Chain.ConfirmationTimeout <= 0 {
		return fmt.Errorf("chain confirmation timeout must be positive")
	}

	switch c.Upload.Backend {
	case "local":
		if c.Upload.LocalDir == "" {
			return fmt.Errorf("upload directory not specified")
		}
	case "s3", "gcs":
		if c.Upload.Bucket == "" {
			return fmt.Errorf("upload bucket must be specified for %s backend", c.Upload.Backend)
		}
	default:
		return fmt.Errorf("invalid upload backend: %s (must be 'local', 's3' or 'gcs')", c.Upload.Backend)
	}
	if c.Upload.MaxSize <= 0 || c.Upload.MaxSize > DefaultMaxUploadSize {
		return fmt.Errorf("upload max size must be between 1 and %d bytes", DefaultMaxUploadSize)
	}

	if c.Security.RateLimitEnabled {
		if c.Security.RateLimitRequests < 1 || c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("rate limit requires positive requests and window")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// ValidateServer checks the settings only the API server needs.
func (c *Config) ValidateServer() error {
	if len(c.JWT.Secret) < 16 {
		return fmt.Errorf("JWT secret must be at least 16 characters")
	}
	if c.Session.ChallengeMaxAge <= 0 {
		return fmt.Errorf("session challenge max age must be positive")
	}
	return nil
}

// ValidateChain checks the settings needed to talk to the registry contract.
func (c *Config) ValidateChain() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain RPC URL not specified")
	}
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		return fmt.Errorf("invalid contract address: %q", c.Chain.ContractAddress)
	}
	return nil
}

// ValidateWallet checks that a signing key is configured.
func (c *Config) ValidateWallet() error {
	if c.Wallet.KeystorePath == "" && strings.TrimSpace(c.Wallet.PrivateKey) == "" {
		return fmt.Errorf("wallet keystore path or private key must be specified")
	}
	if c.Client.APIURL == "" {
		return fmt.Errorf("client API URL not specified")
	}
	return nil
}

// GetDSN returns the database connection string based on the configured type
func (c *Config) GetDSN() string {
	switch c.Database.Type {
	case "sqlite":
		return c.Database.SQLite.Path
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Database.Postgres.Host,
			c.Database.Postgres.Port,
			c.Database.Postgres.User,
			c.Database.Postgres.Password,
			c.Database.Postgres.Database,
			c.Database.Postgres.SSLMode,
		)
	default:
		return ""
	}
}
