package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies NESTD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known NESTD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── App ──
	setStr(&cfg.App.Mode, "NESTD_MODE")

	// ── Chain ──
	setStr(&cfg.Chain.CollateralAccount, "NESTD_CHAIN_COLLATERAL_ACCOUNT")
	setStr(&cfg.Chain.LedgerAccount, "NESTD_CHAIN_LEDGER_ACCOUNT")
	setStr(&cfg.Chain.MarketAccount, "NESTD_CHAIN_MARKET_ACCOUNT")
	setStr(&cfg.Chain.OracleAccount, "NESTD_CHAIN_ORACLE_ACCOUNT")
	setStr(&cfg.Chain.AdminAccount, "NESTD_CHAIN_ADMIN_ACCOUNT")
	setStr(&cfg.Chain.MinInitialLiquidity, "NESTD_CHAIN_MIN_INITIAL_LIQUIDITY")
	setInt(&cfg.Chain.DefaultFeeBPS, "NESTD_CHAIN_DEFAULT_FEE_BPS")
	setDuration(&cfg.Chain.AssertionLiveness, "NESTD_CHAIN_ASSERTION_LIVENESS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "NESTD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "NESTD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "NESTD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "NESTD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "NESTD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "NESTD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "NESTD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "NESTD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "NESTD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "NESTD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "NESTD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "NESTD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "NESTD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "NESTD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "NESTD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "NESTD_REDIS_TLS_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "NESTD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "NESTD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "NESTD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "NESTD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "NESTD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "NESTD_SERVER_RATE_WINDOW")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "NESTD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "NESTD_S3_REGION")
	setStr(&cfg.S3.Bucket, "NESTD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "NESTD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "NESTD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "NESTD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "NESTD_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "NESTD_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "NESTD_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "NESTD_ARCHIVE_CRON")
	setBool(&cfg.Archive.Prune, "NESTD_ARCHIVE_PRUNE")

	// ── Log ──
	setStr(&cfg.Log.Level, "NESTD_LOG_LEVEL")
	setStr(&cfg.Log.Format, "NESTD_LOG_FORMAT")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
