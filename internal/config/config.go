// Package config defines the top-level configuration for the arbiter service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBITER_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Providers  []ProviderConfig `toml:"providers"`
	Consensus  ConsensusConfig  `toml:"consensus"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Relay      RelayConfig      `toml:"relay"`
	Resolution ResolutionConfig `toml:"resolution"`
	Governance GovernanceConfig `toml:"governance"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the operator signing key used for resolution
// attestations and direct ledger submissions.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ProviderConfig holds one AI provider endpoint. Kind selects the adapter:
// "openai" for OpenAI-compatible chat completions, "gemini" for the Google
// Generative Language API.
type ProviderConfig struct {
	Kind    string `toml:"kind"`
	BaseURL string `toml:"base_url"`
	ApiKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

// ConsensusConfig holds multi-model consensus parameters.
type ConsensusConfig struct {
	CallTimeout     duration `toml:"call_timeout"`
	Temperature     float64  `toml:"temperature"`
	MaxOutputTokens int      `toml:"max_output_tokens"`
}

// LedgerConfig holds the target chain and resolution contract parameters.
type LedgerConfig struct {
	RpcURL          string   `toml:"rpc_url"`
	ContractAddress string   `toml:"contract_address"`
	ChainID         int64    `toml:"chain_id"`
	BlockTime       duration `toml:"block_time"`
	GasLimit        uint64   `toml:"gas_limit"`
	Confirmations   int64    `toml:"confirmations"`
}

// RelayConfig holds the gasless relay network parameters.
type RelayConfig struct {
	BaseURL       string `toml:"base_url"`
	ApiKey        string `toml:"api_key"`
	TargetChain   int64  `toml:"target_chain"`
	TargetAddress string `toml:"target_address"`
}

// ResolutionConfig holds state machine and resolver parameters.
type ResolutionConfig struct {
	DisputeWindow   duration `toml:"dispute_window"`
	Lookback        duration `toml:"lookback"`
	DedupTTL        duration `toml:"dedup_ttl"`
	MaxBatch        int      `toml:"max_batch"`
	ResolveInterval duration `toml:"resolve_interval"`
}

// GovernanceConfig holds proposal and voting parameters.
type GovernanceConfig struct {
	MinBond        int64    `toml:"min_bond"`
	Quorum         int64    `toml:"quorum"`
	VotingPeriod   duration `toml:"voting_period"`
	ExpertiseBoost int64    `toml:"expertise_boost"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PipelineConfig holds scanning and archival parameters.
type PipelineConfig struct {
	Enabled              bool     `toml:"enabled"`
	ScanInterval         duration `toml:"scan_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveCron          string   `toml:"archive_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	AdminApiKey    string   `toml:"admin_api_key"`
	AdminApiSecret string   `toml:"admin_api_secret"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Consensus: ConsensusConfig{
			CallTimeout:     duration{45 * time.Second},
			Temperature:     0.1,
			MaxOutputTokens: 1024,
		},
		Ledger: LedgerConfig{
			ChainID:       137,
			BlockTime:     duration{2 * time.Second},
			GasLimit:      300_000,
			Confirmations: 3,
		},
		Relay: RelayConfig{
			TargetChain: 137,
		},
		Resolution: ResolutionConfig{
			DisputeWindow:   duration{24 * time.Hour},
			Lookback:        duration{72 * time.Hour},
			DedupTTL:        duration{10 * time.Minute},
			MaxBatch:        50,
			ResolveInterval: duration{time.Minute},
		},
		Governance: GovernanceConfig{
			MinBond:        100,
			Quorum:         150,
			VotingPeriod:   duration{72 * time.Hour},
			ExpertiseBoost: 2,
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
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
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbiter-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Pipeline: PipelineConfig{
			Enabled:              true,
			ScanInterval:         duration{5 * time.Minute},
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "manual_required", "resolution_failed", "dispute_opened", "proposal_executed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"resolver": true,
	"monitor":  true,
	"server":   true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validProviderKinds enumerates the accepted values for ProviderConfig.Kind.
var validProviderKinds = map[string]bool{
	"openai": true,
	"gemini": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: resolver, monitor, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — a key source is required for modes that submit resolutions.
	needsWallet := c.Mode == "resolver" || c.Mode == "full"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Providers — resolution needs at least one.
	if needsWallet && len(c.Providers) == 0 {
		errs = append(errs, "providers: at least one AI provider is required for mode "+c.Mode)
	}
	for i, p := range c.Providers {
		if !validProviderKinds[strings.ToLower(p.Kind)] {
			errs = append(errs, fmt.Sprintf("providers[%d]: unknown kind %q (valid: openai, gemini)", i, p.Kind))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Sprintf("providers[%d]: model must not be empty", i))
		}
		if p.ApiKey == "" {
			errs = append(errs, fmt.Sprintf("providers[%d]: api_key must not be empty", i))
		}
	}

	// Ledger
	if needsWallet {
		if c.Ledger.RpcURL == "" {
			errs = append(errs, "ledger: rpc_url must not be empty for mode "+c.Mode)
		}
		if c.Ledger.ContractAddress == "" {
			errs = append(errs, "ledger: contract_address must not be empty for mode "+c.Mode)
		}
	}
	if c.Ledger.ChainID <= 0 {
		errs = append(errs, "ledger: chain_id must be positive")
	}

	// Relay
	if needsWallet {
		if c.Relay.BaseURL == "" {
			errs = append(errs, "relay: base_url must not be empty for mode "+c.Mode)
		}
		if c.Relay.TargetAddress == "" {
			errs = append(errs, "relay: target_address must not be empty for mode "+c.Mode)
		}
	}

	// Resolution
	if c.Resolution.MaxBatch < 1 {
		errs = append(errs, "resolution: max_batch must be >= 1")
	}
	if c.Resolution.ResolveInterval.Duration <= 0 {
		errs = append(errs, "resolution: resolve_interval must be > 0")
	}

	// Governance
	if c.Governance.MinBond < 0 {
		errs = append(errs, "governance: min_bond must be >= 0")
	}
	if c.Governance.Quorum < 0 {
		errs = append(errs, "governance: quorum must be >= 0")
	}
	if c.Governance.VotingPeriod.Duration <= 0 {
		errs = append(errs, "governance: voting_period must be > 0")
	}
	if c.Governance.ExpertiseBoost < 1 {
		errs = append(errs, "governance: expertise_boost must be >= 1")
	}

	// Postgres
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

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		ak := c.Server.AdminApiKey != ""
		as := c.Server.AdminApiSecret != ""
		if ak != as {
			errs = append(errs, "server: admin_api_key and admin_api_secret must be set together")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
