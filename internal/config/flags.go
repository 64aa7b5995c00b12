package config

import (
	"fmt"
	"time"

	flag "github.com/spf13/pflag"
)

// Flags holds command line overrides. Only flags the user actually set are
// applied on top of file and environment values.
type Flags struct {
	fs *flag.FlagSet

	serverPort         *int
	serverHost         *string
	serverReadTimeout  *string
	serverWriteTimeout *string
	serverTLSEnabled   *bool
	serverTLSCert      *string
	serverTLSKey       *string

	dbType             *string
	dbSQLitePath       *string
	dbPostgresHost     *string
	dbPostgresPort     *int
	dbPostgresDatabase *string
	dbPostgresUser     *string
	dbPostgresPassword *string
	dbPostgresSSLMode  *string

	chainRPCURL              *string
	chainContractAddress     *string
	chainID                  *int64
	chainConfirmationTimeout *string

	walletKeystorePath *string
	walletPassphrase   *string

	clientAPIURL      *string
	clientJournalPath *string

	jwtSecret     *string
	jwtExpiration *string

	uploadBackend  *string
	uploadLocalDir *string
	uploadBucket   *string

	logLevel  *string
	logFormat *string
	logOutput *string

	securityCORSEnabled      *bool
	securityCORSOrigins      *[]string
	securityRateLimitEnabled *bool

	metricsEnabled *bool
	tracingEnabled *bool
	tracingStdout  *bool
}

// BindFlags registers the configuration flags on fs.
func BindFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}

	f.serverPort = fs.Int("server.port", 0, "HTTP server port")
	f.serverHost = fs.String("server.host", "", "HTTP server bind address")
	f.serverReadTimeout = fs.String("server.read-timeout", "", "Server read timeout (e.g., 30s)")
	f.serverWriteTimeout = fs.String("server.write-timeout", "", "Server write timeout (e.g., 30s)")
	f.serverTLSEnabled = fs.Bool("server.tls-enabled", false, "Enable HTTPS")
	f.serverTLSCert = fs.String("server.tls-cert", "", "Path to TLS certificate")
	f.serverTLSKey = fs.String("server.tls-key", "", "Path to TLS key")

	f.dbType = fs.String("db.type", "", "Database type (sqlite or postgres)")
	f.dbSQLitePath = fs.String("db.sqlite.path", "", "SQLite database file path")
	f.dbPostgresHost = fs.String("db.postgres.host", "", "PostgreSQL host")
	f.dbPostgresPort = fs.Int("db.postgres.port", 0, "PostgreSQL port")
	f.dbPostgresDatabase = fs.String("db.postgres.database", "", "PostgreSQL database name")
	f.dbPostgresUser = fs.String("db.postgres.user", "", "PostgreSQL user")
	f.dbPostgresPassword = fs.String("db.postgres.password", "", "PostgreSQL password")
	f.dbPostgresSSLMode = fs.String("db.postgres.ssl-mode", "", "PostgreSQL SSL mode")

	f.chainRPCURL = fs.String("chain.rpc-url", "", "Ethereum JSON-RPC endpoint")
	f.chainContractAddress = fs.String("chain.contract-address", "", "Certificate registry contract address")
	f.chainID = fs.Int64("chain.id", 0, "Chain ID used to sign transactions")
	f.chainConfirmationTimeout = fs.String("chain.confirmation-timeout", "", "How long to wait for a transaction to be mined (e.g., 5m)")

	f.walletKeystorePath = fs.String("wallet.keystore", "", "Path to an encrypted keystore file")
	f.walletPassphrase = fs.String("wallet.passphrase", "", "Keystore passphrase")

	f.clientAPIURL = fs.String("client.api-url", "", "CertifyChain API base URL")
	f.clientJournalPath = fs.String("client.journal", "", "Directory of the pending operation journal")

	f.jwtSecret = fs.String("jwt.secret", "", "JWT secret key")
	f.jwtExpiration = fs.String("jwt.expiration", "", "JWT expiration duration (e.g., 24h)")

	f.uploadBackend = fs.String("upload.backend", "", "Upload backend (local, s3 or gcs)")
	f.uploadLocalDir = fs.String("upload.local-dir", "", "Directory for the local upload backend")
	f.uploadBucket = fs.String("upload.bucket", "", "Bucket for the s3 and gcs upload backends")

	f.logLevel = fs.StringP("log.level", "l", "", "Log level (debug, info, warn, error)")
	f.logFormat = fs.String("log.format", "", "Log format (json or console)")
	f.logOutput = fs.String("log.output", "", "Log output (stdout, stderr or file path)")

	f.securityCORSEnabled = fs.Bool("security.cors-enabled", false, "Enable CORS")
	f.securityCORSOrigins = fs.StringSlice("security.cors-origins", nil, "CORS allowed origins (can be specified multiple times)")
	f.securityRateLimitEnabled = fs.Bool("security.rate-limit-enabled", false, "Enable rate limiting")

	f.metricsEnabled = fs.Bool("metrics.enabled", false, "Expose Prometheus metrics")
	f.tracingEnabled = fs.Bool("tracing.enabled", false, "Enable OpenTelemetry tracing")
	f.tracingStdout = fs.Bool("tracing.stdout", false, "Write spans to stdout instead of OTLP")

	return f
}

func (f *Flags) changed(name string) bool {
	return f.fs != nil && f.fs.Changed(name)
}

func (f *Flags) duration(name string, v string, dst *time.Duration) error {
	if !f.changed(name) {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid --%s: %w", name, err)
	}
	*dst = d
	return nil
}

func setIf[T any](f *Flags, name string, v *T, dst *T) {
	if f.changed(name) {
		*dst = *v
	}
}

// apply copies every flag the user set into cfg.
func (f *Flags) apply(cfg *Config) error {
	setIf(f, "server.port", f.serverPort, &cfg.Server.Port)
	setIf(f, "server.host", f.serverHost, &cfg.Server.Host)
	setIf(f, "server.tls-enabled", f.serverTLSEnabled, &cfg.Server.TLSEnabled)
	setIf(f, "server.tls-cert", f.serverTLSCert, &cfg.Server.TLSCert)
	setIf(f, "server.tls-key", f.serverTLSKey, &cfg.Server.TLSKey)
	if err := f.duration("server.read-timeout", *f.serverReadTimeout, &cfg.Server.ReadTimeout); err != nil {
		return err
	}
	if err := f.duration("server.write-timeout", *f.serverWriteTimeout, &cfg.Server.WriteTimeout); err != nil {
		return err
	}

	setIf(f, "db.type", f.dbType, &cfg.Database.Type)
	setIf(f, "db.sqlite.path", f.dbSQLitePath, &cfg.Database.SQLite.Path)
	setIf(f, "db.postgres.host", f.dbPostgresHost, &cfg.Database.Postgres.Host)
	setIf(f, "db.postgres.port", f.dbPostgresPort, &cfg.Database.Postgres.Port)
	setIf(f, "db.postgres.database", f.dbPostgresDatabase, &cfg.Database.Postgres.Database)
	setIf(f, "db.postgres.user", f.dbPostgresUser, &cfg.Database.Postgres.User)
	setIf(f, "db.postgres.password", f.dbPostgresPassword, &cfg.Database.Postgres.Password)
	setIf(f, "db.postgres.ssl-mode", f.dbPostgresSSLMode, &cfg.Database.Postgres.SSLMode)

	setIf(f, "chain.rpc-url", f.chainRPCURL, &cfg.Chain.RPCURL)
	setIf(f, "chain.contract-address", f.chainContractAddress, &cfg.Chain.ContractAddress)
	setIf(f, "chain.id", f.chainID, &cfg.Chain.ChainID)
	if err := f.duration("chain.confirmation-timeout", *f.chainConfirmationTimeout, &cfg.Chain.ConfirmationTimeout); err != nil {
		return err
	}

	setIf(f, "wallet.keystore", f.walletKeystorePath, &cfg.Wallet.KeystorePath)
	setIf(f, "wallet.passphrase", f.walletPassphrase, &cfg.Wallet.Passphrase)

	setIf(f, "client.api-url", f.clientAPIURL, &cfg.Client.APIURL)
	setIf(f, "client.journal", f.clientJournalPath, &cfg.Client.JournalPath)

	setIf(f, "jwt.secret", f.jwtSecret, &cfg.JWT.Secret)
	if err := f.duration("jwt.expiration", *f.jwtExpiration, &cfg.JWT.Expiration); err != nil {
		return err
	}

	setIf(f, "upload.backend", f.uploadBackend, &cfg.Upload.Backend)
	setIf(f, "upload.local-dir", f.uploadLocalDir, &cfg.Upload.LocalDir)
	setIf(f, "upload.bucket", f.uploadBucket, &cfg.Upload.Bucket)

	setIf(f, "log.level", f.logLevel, &cfg.Logging.Level)
	setIf(f, "log.format", f.logFormat, &cfg.Logging.Format)
	setIf(f, "log.output", f.logOutput, &cfg.Logging.Output)

	setIf(f, "security.cors-enabled", f.securityCORSEnabled, &cfg.Security.CORSEnabled)
	setIf(f, "security.cors-origins", f.securityCORSOrigins, &cfg.Security.CORSOrigins)
	setIf(f, "security.rate-limit-enabled", f.securityRateLimitEnabled, &cfg.Security.RateLimitEnabled)

	setIf(f, "metrics.enabled", f.metricsEnabled, &cfg.Metrics.Enabled)
	setIf(f, "tracing.enabled", f.tracingEnabled, &cfg.Tracing.Enabled)
	setIf(f, "tracing.stdout", f.tracingStdout, &cfg.Tracing.Stdout)

	return nil
}
