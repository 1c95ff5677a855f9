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
// built-in defaults, applies ARBITER_* environment variable overrides, and
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

// applyEnvOverrides reads well-known ARBITER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "ARBITER_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "ARBITER_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ARBITER_WALLET_KEY_PASSWORD")

	// ── Providers ── (per-index API key injection, ARBITER_PROVIDER_0_API_KEY etc.)
	for i := range cfg.Providers {
		prefix := "ARBITER_PROVIDER_" + strconv.Itoa(i) + "_"
		setStr(&cfg.Providers[i].ApiKey, prefix+"API_KEY")
		setStr(&cfg.Providers[i].BaseURL, prefix+"BASE_URL")
		setStr(&cfg.Providers[i].Model, prefix+"MODEL")
	}

	// ── Consensus ──
	setDuration(&cfg.Consensus.CallTimeout, "ARBITER_CONSENSUS_CALL_TIMEOUT")
	setFloat64(&cfg.Consensus.Temperature, "ARBITER_CONSENSUS_TEMPERATURE")
	setInt(&cfg.Consensus.MaxOutputTokens, "ARBITER_CONSENSUS_MAX_OUTPUT_TOKENS")

	// ── Ledger ──
	setStr(&cfg.Ledger.RpcURL, "ARBITER_LEDGER_RPC_URL")
	setStr(&cfg.Ledger.ContractAddress, "ARBITER_LEDGER_CONTRACT_ADDRESS")
	setInt64(&cfg.Ledger.ChainID, "ARBITER_LEDGER_CHAIN_ID")
	setDuration(&cfg.Ledger.BlockTime, "ARBITER_LEDGER_BLOCK_TIME")
	setInt64(&cfg.Ledger.Confirmations, "ARBITER_LEDGER_CONFIRMATIONS")

	// ── Relay ──
	setStr(&cfg.Relay.BaseURL, "ARBITER_RELAY_BASE_URL")
	setStr(&cfg.Relay.ApiKey, "ARBITER_RELAY_API_KEY")
	setInt64(&cfg.Relay.TargetChain, "ARBITER_RELAY_TARGET_CHAIN")
	setStr(&cfg.Relay.TargetAddress, "ARBITER_RELAY_TARGET_ADDRESS")

	// ── Resolution ──
	setDuration(&cfg.Resolution.DisputeWindow, "ARBITER_RESOLUTION_DISPUTE_WINDOW")
	setDuration(&cfg.Resolution.Lookback, "ARBITER_RESOLUTION_LOOKBACK")
	setDuration(&cfg.Resolution.DedupTTL, "ARBITER_RESOLUTION_DEDUP_TTL")
	setInt(&cfg.Resolution.MaxBatch, "ARBITER_RESOLUTION_MAX_BATCH")
	setDuration(&cfg.Resolution.ResolveInterval, "ARBITER_RESOLUTION_RESOLVE_INTERVAL")

	// ── Governance ──
	setInt64(&cfg.Governance.MinBond, "ARBITER_GOVERNANCE_MIN_BOND")
	setInt64(&cfg.Governance.Quorum, "ARBITER_GOVERNANCE_QUORUM")
	setDuration(&cfg.Governance.VotingPeriod, "ARBITER_GOVERNANCE_VOTING_PERIOD")
	setInt64(&cfg.Governance.ExpertiseBoost, "ARBITER_GOVERNANCE_EXPERTISE_BOOST")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBITER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBITER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBITER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBITER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBITER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBITER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBITER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBITER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBITER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBITER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBITER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBITER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBITER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBITER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBITER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBITER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARBITER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBITER_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBITER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBITER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBITER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBITER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBITER_S3_FORCE_PATH_STYLE")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "ARBITER_PIPELINE_ENABLED")
	setDuration(&cfg.Pipeline.ScanInterval, "ARBITER_PIPELINE_SCAN_INTERVAL")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "ARBITER_PIPELINE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Pipeline.ArchiveCron, "ARBITER_PIPELINE_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBITER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBITER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBITER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminApiKey, "ARBITER_SERVER_ADMIN_API_KEY")
	setStr(&cfg.Server.AdminApiSecret, "ARBITER_SERVER_ADMIN_API_SECRET")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBITER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBITER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBITER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBITER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBITER_MODE")
	setStr(&cfg.LogLevel, "ARBITER_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
