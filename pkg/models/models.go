// Package models holds the JSON-facing DTOs returned by internal/api
// action handlers, kept separate from the domain types in pkg/record,
// pkg/shard, pkg/table and pkg/database so those packages stay free of
// wire-format concerns.
package models

import (
	"encoding/json"
	"time"
)

// RecordView is the wire representation of a record's full data, as
// returned by a successful dataset get. Fields are carried as raw JSON so
// the dispatcher never re-encodes a document it didn't parse.
type RecordView map[string]json.RawMessage

// ShardSummary describes one shard's lifecycle state for diagnostics and
// the statistics action.
type ShardSummary struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	Records    int       `json:"records"`
	LastAccess time.Time `json:"last_access"`
}

// TableStatistics mirrors pkg/table.Counters for the statistics action.
type TableStatistics struct {
	Database string           `json:"database"`
	Table    string           `json:"table"`
	Shards   []ShardSummary   `json:"shards"`
	Counters map[string]int64 `json:"counters"`
}

// DatabaseSummary lists the tables within a database.
type DatabaseSummary struct {
	Name      string   `json:"name"`
	Encrypted bool     `json:"encrypted"`
	Tables    []string `json:"tables"`
}

// CacheEntryView is the wire representation of a cached dataset entry.
type CacheEntryView struct {
	Identifier   string          `json:"identifier"`
	IsValid      bool            `json:"is_valid"`
	IsValidUntil time.Time       `json:"is_valid_until"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// HealthView is the /health action's response body.
type HealthView struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
}

// ConfigView is the admin config action's response body, a snapshot of
// the live, runtime-adjustable configuration values.
type ConfigView struct {
	MaxTokenWorkers      int `json:"max_token_workers"`
	RecordsPerTokenWorker int `json:"records_per_token_worker"`
	IPBanThreshold       int `json:"ip_ban_threshold"`
	DefaultBucketSize    int `json:"default_bucket_size"`
}

// BackupResult reports the outcome of a forced snapshot across a
// database's loaded shards.
type BackupResult struct {
	Database      string   `json:"database"`
	ShardsFlushed []string `json:"shards_flushed"`
	Failed        []string `json:"failed,omitempty"`
}

// TokenGrant is returned by the login-token issuance action.
type TokenGrant struct {
	Token    string    `json:"token"`
	Deadline time.Time `json:"deadline"`
}
