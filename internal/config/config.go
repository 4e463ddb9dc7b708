// Package config defines the top-level configuration for the nestd daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/nest-markets/nestd/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by NESTD_* environment variables.
type Config struct {
	App      AppConfig      `toml:"app"`
	Chain    ChainConfig    `toml:"chain"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Server   ServerConfig   `toml:"server"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Log      LogConfig      `toml:"log"`
}

// AppConfig selects what this process runs.
type AppConfig struct {
	// Mode is one of "node" (devnet chain + API), "indexer" (event fold +
	// read API) or "full" (both in one process).
	Mode string `toml:"mode"`
}

// ChainConfig parameterizes the in-process devnet: the component accounts,
// genesis funding and protocol parameters.
type ChainConfig struct {
	CollateralAccount string `toml:"collateral_account"`
	LedgerAccount     string `toml:"ledger_account"`
	MarketAccount     string `toml:"market_account"`
	OracleAccount     string `toml:"oracle_account"`
	// AdminAccount owns the components, signs faucet mints and settles
	// oracle claims.
	AdminAccount string `toml:"admin_account"`

	// GenesisBalances maps account ids to decimal collateral amounts minted
	// before the first block.
	GenesisBalances map[string]string `toml:"genesis_balances"`

	// MinInitialLiquidity is the decimal amount a CreateMarket deposit must
	// reach. Zero means the protocol default.
	MinInitialLiquidity string `toml:"min_initial_liquidity"`
	// DefaultFeeBPS applies to every new market. Zero means the protocol
	// default.
	DefaultFeeBPS int `toml:"default_fee_bps"`
	// AssertionLiveness is how long an assertion stays open before the
	// monitor flags it as overdue.
	AssertionLiveness duration `toml:"assertion_liveness"`
}

// PostgresConfig holds PostgreSQL connection parameters for the indexer's
// read models.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards write routes: plaintext or the pbkdf2$... form produced
	// by crypto.HashAPIKey. Empty disables authentication.
	APIKey string `toml:"api_key"`
	// RateLimit is requests per RateWindow per client IP; zero disables.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig schedules JSONL snapshots of old events and price points.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	// Prune deletes archived rows from Postgres after a successful upload.
	// Off by default; uploads alone never delete anything.
	Prune bool `toml:"prune"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable devnet values. These
// match config.example.toml.
func Defaults() Config {
	return Config{
		App: AppConfig{
			Mode: "full",
		},
		Chain: ChainConfig{
			CollateralAccount: "usdc.devnet",
			LedgerAccount:     "outcomes.devnet",
			MarketAccount:     "amm.devnet",
			OracleAccount:     "oracle.devnet",
			AdminAccount:      "admin.devnet",
			GenesisBalances: map[string]string{
				"alice.devnet": "1000000000000",
				"bob.devnet":   "1000000000000",
			},
			MinInitialLiquidity: "",
			DefaultFeeBPS:       0,
			AssertionLiveness:   duration{2 * time.Hour},
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "nestd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "nestd-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
			Prune:         false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// validModes enumerates the accepted values for AppConfig.Mode.
var validModes = map[string]bool{
	"node":    true,
	"indexer": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for LogConfig.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

// NeedsChain reports whether the mode runs the devnet runtime.
func (c *Config) NeedsChain() bool {
	mode := strings.ToLower(c.App.Mode)
	return mode == "node" || mode == "full"
}

// NeedsIndexer reports whether the mode runs the event fold.
func (c *Config) NeedsIndexer() bool {
	mode := strings.ToLower(c.App.Mode)
	return mode == "indexer" || mode == "full"
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.App.Mode)] {
		errs = append(errs, fmt.Sprintf("app: unknown mode %q (valid: node, indexer, full)", c.App.Mode))
	}

	// Log
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level))
	}
	if !validLogFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, fmt.Sprintf("log: unknown format %q (valid: json, text)", c.Log.Format))
	}

	// Chain. Component accounts must be present and distinct; the runtime
	// rejects duplicate registrations, but catching it here names the fields.
	if c.NeedsChain() {
		accounts := map[string]string{
			"collateral_account": c.Chain.CollateralAccount,
			"ledger_account":     c.Chain.LedgerAccount,
			"market_account":     c.Chain.MarketAccount,
			"oracle_account":     c.Chain.OracleAccount,
			"admin_account":      c.Chain.AdminAccount,
		}
		seen := make(map[string]string, len(accounts))
		for field, acct := range accounts {
			if acct == "" {
				errs = append(errs, "chain: "+field+" must not be empty")
				continue
			}
			if other, dup := seen[acct]; dup {
				errs = append(errs, fmt.Sprintf("chain: %s and %s both name %q", other, field, acct))
			}
			seen[acct] = field
		}
		for acct, amount := range c.Chain.GenesisBalances {
			if acct == "" {
				errs = append(errs, "chain: genesis_balances contains an empty account id")
			}
			if _, err := domain.AmountFromString(amount); err != nil {
				errs = append(errs, fmt.Sprintf("chain: genesis balance for %q is not a valid amount: %s", acct, amount))
			}
		}
		if c.Chain.MinInitialLiquidity != "" {
			if _, err := domain.AmountFromString(c.Chain.MinInitialLiquidity); err != nil {
				errs = append(errs, fmt.Sprintf("chain: min_initial_liquidity is not a valid amount: %s", c.Chain.MinInitialLiquidity))
			}
		}
		if c.Chain.DefaultFeeBPS < 0 || c.Chain.DefaultFeeBPS >= int(domain.BPSDenominator) {
			errs = append(errs, fmt.Sprintf("chain: default_fee_bps must be 0-%d, got %d", domain.BPSDenominator-1, c.Chain.DefaultFeeBPS))
		}
		if c.Chain.AssertionLiveness.Duration < 0 {
			errs = append(errs, "chain: assertion_liveness must not be negative")
		}
	}

	// Postgres is only reachable from the indexer fold.
	if c.NeedsIndexer() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis backs the event stream in every mode.
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 only matters when the archiver runs.
	if c.Archive.Enabled {
		if !c.NeedsIndexer() {
			errs = append(errs, "archive: enabled requires mode indexer or full")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, fmt.Sprintf("archive: retention_days must be >= 1, got %d", c.Archive.RetentionDays))
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty when archiving is enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
