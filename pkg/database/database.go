// Package database implements the table registry and encryption flag
// described in spec §4.4: a thin delegation layer enforcing
// insert-unique, delete-cascade invariants over its tables.
package database

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/docvault/engine/pkg/apperr"
	"github.com/docvault/engine/pkg/crypt"
	"github.com/docvault/engine/pkg/table"
	"github.com/docvault/engine/pkg/tokenpool"
)

// Config bundles a database's fixed parameters, inherited by every table
// it creates.
type Config struct {
	Name               string
	DataDir            string
	MaxRecordsPerShard int
	IdleUnloadAfter    time.Duration
	AdaptiveLoading    bool
	AutoOptimize       bool
	OptimizeCron       string
	SecureUpdate       bool
	Encrypt            bool
	PreSizeShards      int
	Pool               *tokenpool.Pool
	Crypt              *crypt.Tool
	Logger             *zap.Logger
}

// Database holds a named set of tables.
type Database struct {
	mu sync.RWMutex

	name    string
	encrypt bool
	cfg     Config
	tables  map[string]*table.Table
}

// New creates an empty database.
func New(cfg Config) *Database {
	return &Database{
		name:    strings.ToLower(cfg.Name),
		encrypt: cfg.Encrypt,
		cfg:     cfg,
		tables:  make(map[string]*table.Table),
	}
}

// Name returns the database's identifier.
func (d *Database) Name() string { return d.name }

// Encrypted reports the database's encryption flag, which tables copy
// when they are created.
func (d *Database) Encrypted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.encrypt
}

// SetEncrypted toggles the encryption flag. Only tables created afterwards
// pick up the new value; existing tables and their shards keep the flag
// they were created with.
func (d *Database) SetEncrypted(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.encrypt = v
}

// CreateTable registers a new table, failing if one already exists under
// that name.
func (d *Database) CreateTable(name string) (*table.Table, error) {
	lower := strings.ToLower(name)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.tables[lower]; exists {
		return nil, apperr.ErrAlreadyExists
	}

	t := table.New(table.Config{
		Database:           d.name,
		Name:               lower,
		MaxRecordsPerShard: d.cfg.MaxRecordsPerShard,
		DataDir:            d.cfg.DataDir,
		IdleUnloadAfter:    d.cfg.IdleUnloadAfter,
		AdaptiveLoading:    d.cfg.AdaptiveLoading,
		AutoOptimize:       d.cfg.AutoOptimize,
		OptimizeCron:       d.cfg.OptimizeCron,
		SecureUpdate:       d.cfg.SecureUpdate,
		Encrypt:            d.encrypt,
		PreSizeShards:      d.cfg.PreSizeShards,
		Pool:               d.cfg.Pool,
		Crypt:              d.cfg.Crypt,
		Logger:             d.cfg.Logger,
	})
	if err := t.StartMaintenance(); err != nil {
		return nil, err
	}
	d.tables[lower] = t
	return t, nil
}

// Table looks up a table by name.
func (d *Database) Table(name string) (*table.Table, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tables[strings.ToLower(name)]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return t, nil
}

// DeleteTable removes a table and stops its background maintenance.
func (d *Database) DeleteTable(name string) error {
	lower := strings.ToLower(name)

	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[lower]
	if !ok {
		return apperr.ErrNotFound
	}
	t.StopMaintenance()
	delete(d.tables, lower)
	return nil
}

// Tables returns a snapshot slice of the database's tables.
func (d *Database) Tables() []*table.Table {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*table.Table, 0, len(d.tables))
	for _, t := range d.tables {
		out = append(out, t)
	}
	return out
}
