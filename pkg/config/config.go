package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// Config holds the application configuration, loaded once from config/server.json.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Security SecurityConfig `json:"security"`
	Limits   LimitsConfig   `json:"limits"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	TLSCertPath        string `json:"tls_cert_path"`
	TLSKeyPath         string `json:"tls_key_path"`
	MetricsPort        int    `json:"metrics_port"`
	TLSHandshakeMillis int    `json:"-"`
	HeaderReadMillis   int    `json:"-"`

	ReadHeaderTimeoutStr string `json:"read_header_timeout"`
	TLSHandshakeTimeoutStr string `json:"tls_handshake_timeout"`
}

// StorageConfig holds on-disk layout and sharding defaults.
type StorageConfig struct {
	DataDir           string `json:"data_dir"`
	ConfigDir         string `json:"config_dir"`
	MaxRecordsPerShard int   `json:"max_records_per_shard"`
	AdaptiveLoading   bool   `json:"adaptive_loading"`
	IdleUnloadStr     string `json:"idle_unload_after"`
	IdleUnloadAfter   time.Duration `json:"-"`
	AutoOptimize      bool   `json:"auto_optimize"`
	OptimizeCron      string `json:"optimize_cron"`

	// PreSizeShards, when greater than 1, pre-creates that many shards at
	// table-creation time and distributes inserts across them by hashing
	// the identifier instead of scanning for first-fit capacity. Zero
	// disables pre-sizing.
	PreSizeShards int `json:"pre_size_shards"`
}

// SecurityConfig holds auth and encryption configuration.
type SecurityConfig struct {
	EnableTLS        bool   `json:"enable_tls"`
	JWTSecret        string `json:"jwt_secret"`
	LoginTokenTTLStr string `json:"login_token_ttl"`
	LoginTokenTTL    time.Duration `json:"-"`
	EncryptionKeyHashPath string `json:"encryption_key_hash_path"`
}

// LimitsConfig holds shared process-wide atomics, adjustable at runtime
// through an admin action (see Live below). Values here are the boot defaults.
type LimitsConfig struct {
	DataSetsPerThread   int `json:"data_sets_per_thread"`
	MaxSTPEThreads      int `json:"max_stpe_threads"`
	RecordsPerTokenWorker int `json:"records_per_token_worker"`
	MaxTokenWorkers     int `json:"max_token_workers"`
	BanAfterFlags       int `json:"ban_after_flags"`
	DefaultBucketSize   int `json:"default_bucket_size"`
}

// LoggingConfig mirrors pkg/logging.LogConfig's JSON shape.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// LoadConfig loads configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse durations: %w", err)
	}

	setDefaults(&cfg)
	return &cfg, nil
}

func parseDurations(c *Config) error {
	if c.Storage.IdleUnloadStr != "" {
		d, err := time.ParseDuration(c.Storage.IdleUnloadStr)
		if err != nil {
			return fmt.Errorf("invalid idle_unload_after: %w", err)
		}
		c.Storage.IdleUnloadAfter = d
	}
	if c.Security.LoginTokenTTLStr != "" {
		d, err := time.ParseDuration(c.Security.LoginTokenTTLStr)
		if err != nil {
			return fmt.Errorf("invalid login_token_ttl: %w", err)
		}
		c.Security.LoginTokenTTL = d
	}
	return nil
}

func setDefaults(c *Config) {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8443
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.ConfigDir == "" {
		c.Storage.ConfigDir = "config"
	}
	if c.Storage.MaxRecordsPerShard == 0 {
		c.Storage.MaxRecordsPerShard = 10000
	}
	if c.Storage.IdleUnloadAfter == 0 {
		c.Storage.IdleUnloadAfter = 10 * time.Minute
	}
	if c.Storage.OptimizeCron == "" {
		c.Storage.OptimizeCron = "@every 15m"
	}
	if c.Security.LoginTokenTTL == 0 {
		c.Security.LoginTokenTTL = 24 * time.Hour
	}
	if c.Limits.DataSetsPerThread == 0 {
		c.Limits.DataSetsPerThread = 500
	}
	if c.Limits.MaxSTPEThreads == 0 {
		c.Limits.MaxSTPEThreads = 8
	}
	if c.Limits.RecordsPerTokenWorker == 0 {
		c.Limits.RecordsPerTokenWorker = 1000
	}
	if c.Limits.MaxTokenWorkers == 0 {
		c.Limits.MaxTokenWorkers = 4
	}
	if c.Limits.BanAfterFlags == 0 {
		c.Limits.BanAfterFlags = 10
	}
	if c.Limits.DefaultBucketSize == 0 {
		c.Limits.DefaultBucketSize = 120
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Live holds the §5 shared configuration values that admin actions may
// adjust at runtime. Changes take effect on next use, never mid-operation.
type Live struct {
	recordsPerTokenWorker atomic.Int64
	maxTokenWorkers       atomic.Int64
	banAfterFlags         atomic.Int64
	defaultBucketSize     atomic.Int64
}

// NewLive seeds a Live configuration block from the boot-time Config.
func NewLive(l LimitsConfig) *Live {
	live := &Live{}
	live.recordsPerTokenWorker.Store(int64(l.RecordsPerTokenWorker))
	live.maxTokenWorkers.Store(int64(l.MaxTokenWorkers))
	live.banAfterFlags.Store(int64(l.BanAfterFlags))
	live.defaultBucketSize.Store(int64(l.DefaultBucketSize))
	return live
}

func (l *Live) RecordsPerTokenWorker() int { return int(l.recordsPerTokenWorker.Load()) }
func (l *Live) MaxTokenWorkers() int       { return int(l.maxTokenWorkers.Load()) }
func (l *Live) BanAfterFlags() int         { return int(l.banAfterFlags.Load()) }
func (l *Live) DefaultBucketSize() int     { return int(l.defaultBucketSize.Load()) }

func (l *Live) SetRecordsPerTokenWorker(v int) { l.recordsPerTokenWorker.Store(int64(v)) }
func (l *Live) SetMaxTokenWorkers(v int)       { l.maxTokenWorkers.Store(int64(v)) }
func (l *Live) SetBanAfterFlags(v int)         { l.banAfterFlags.Store(int64(v)) }
func (l *Live) SetDefaultBucketSize(v int)     { l.defaultBucketSize.Store(int64(v)) }

// Snapshot returns the current values as a JSON-friendly map, used by the
// admin config action.
func (l *Live) Snapshot() map[string]int {
	return map[string]int{
		"records_per_token_worker": l.RecordsPerTokenWorker(),
		"max_token_workers":        l.MaxTokenWorkers(),
		"ban_after_flags":          l.BanAfterFlags(),
		"default_bucket_size":      l.DefaultBucketSize(),
	}
}
