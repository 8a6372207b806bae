// Package table implements shard fan-out, the primary index, and the
// background maintenance routines described in spec §4.3: adaptive
// loading, auto-optimize compaction, and inconsistency resolution.
package table

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"github.com/docvault/engine/pkg/apperr"
	"github.com/docvault/engine/pkg/crypt"
	"github.com/docvault/engine/pkg/record"
	"github.com/docvault/engine/pkg/shard"
	"github.com/docvault/engine/pkg/tokenpool"
)

// InconsistencyMode selects how ResolveInconsistency reconciles the
// primary index against shard contents (§4.3).
type InconsistencyMode int

const (
	Passive       InconsistencyMode = -1
	AddToIndex    InconsistencyMode = 0
	DeleteOrphans InconsistencyMode = 1
	RebuildIndex  InconsistencyMode = 2
	Aggressive    InconsistencyMode = 3
)

// Counters holds the per-operation success/failure statistics from §4.3.
type Counters struct {
	GetSuccess     atomic.Int64
	GetFailure     atomic.Int64
	InsertSuccess  atomic.Int64
	InsertFailure  atomic.Int64
	UpdateSuccess  atomic.Int64
	UpdateFailure  atomic.Int64
	DeleteSuccess  atomic.Int64
	DeleteFailure  atomic.Int64
	AcquireSuccess atomic.Int64
	AcquireFailure atomic.Int64
}

// Snapshot returns the counters as a plain map, for the stats action.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"get_success":     c.GetSuccess.Load(),
		"get_failure":     c.GetFailure.Load(),
		"insert_success":  c.InsertSuccess.Load(),
		"insert_failure":  c.InsertFailure.Load(),
		"update_success":  c.UpdateSuccess.Load(),
		"update_failure":  c.UpdateFailure.Load(),
		"delete_success":  c.DeleteSuccess.Load(),
		"delete_failure":  c.DeleteFailure.Load(),
		"acquire_success": c.AcquireSuccess.Load(),
		"acquire_failure": c.AcquireFailure.Load(),
	}
}

// Config bundles a table's fixed parameters.
type Config struct {
	Database        string
	Name            string
	MaxRecordsPerShard int
	DataDir         string
	IdleUnloadAfter time.Duration
	AdaptiveLoading bool
	AutoOptimize    bool
	OptimizeCron    string
	SecureUpdate    bool
	Encrypt         bool
	PreSizeShards   int
	Pool            *tokenpool.Pool
	Crypt           *crypt.Tool
	Logger          *zap.Logger
}

// Table assigns records to shards and maintains the primary index.
type Table struct {
	mu sync.RWMutex

	database string
	name     string
	cfg      Config

	shards      []*shard.Shard
	index       map[string]string // identifier -> shard ID
	nextOrdinal int
	presized    bool

	stats Counters

	cronSched *cron.Cron
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates an empty table. When cfg.PreSizeShards is greater than one,
// that many shards are created up front and inserts are distributed across
// them by hashing the identifier rather than scanning for first-fit
// capacity (§4.3's default).
func New(cfg Config) *Table {
	t := &Table{
		database: strings.ToLower(cfg.Database),
		name:     strings.ToLower(cfg.Name),
		cfg:      cfg,
		index:    make(map[string]string),
		stopCh:   make(chan struct{}),
	}
	if cfg.PreSizeShards > 1 {
		t.presized = true
		for i := 0; i < cfg.PreSizeShards; i++ {
			t.shards = append(t.shards, t.newShard())
		}
	}
	return t
}

// Name, Database expose identity.
func (t *Table) Name() string     { return t.name }
func (t *Table) Database() string { return t.database }

// Stats returns the table's operation counters.
func (t *Table) Stats() *Counters { return &t.stats }

// SecureUpdate reports whether field acquisition mints update tokens for
// this table (§4.1's "table enforces secure-update").
func (t *Table) SecureUpdate() bool { return t.cfg.SecureUpdate }

// Pool exposes the table's token pool so callers can build records bound
// to the right update-token scheduler.
func (t *Table) Pool() *tokenpool.Pool { return t.cfg.Pool }

func (t *Table) newShard() *shard.Shard {
	ordinal := t.nextOrdinal
	t.nextOrdinal++
	id := shard.AllocateID(t.name, ordinal)
	return shard.New(shard.Config{
		ID:         id,
		Database:   t.database,
		Table:      t.name,
		MaxRecords: t.cfg.MaxRecordsPerShard,
		DataDir:    t.cfg.DataDir,
		Pool:       t.cfg.Pool,
		Crypt:      t.cfg.Crypt,
		Encrypt:    t.cfg.Encrypt,
		Logger:     t.cfg.Logger,
	})
}

// Insert assigns r to a shard with spare capacity, creating one if
// necessary, and records it in the primary index.
func (t *Table) Insert(r *record.Record) error {
	identifier := r.Identifier()

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.index[identifier]; exists {
		t.stats.InsertFailure.Add(1)
		return apperr.ErrAlreadyExists
	}

	var target *shard.Shard
	if t.presized {
		target = t.pickByHash(identifier)
	} else {
		for _, s := range t.shards {
			if err := s.LoadData(); err != nil {
				continue
			}
			if t.cfg.MaxRecordsPerShard < 0 || s.Size() < t.cfg.MaxRecordsPerShard {
				target = s
				break
			}
		}
	}
	if target == nil {
		target = t.newShard()
		if err := target.LoadData(); err != nil {
			t.stats.InsertFailure.Add(1)
			return err
		}
		t.shards = append(t.shards, target)
	}

	if err := target.Insert(r); err != nil {
		t.stats.InsertFailure.Add(1)
		return err
	}
	t.index[identifier] = target.ID()
	t.stats.InsertSuccess.Add(1)
	return nil
}

// Get resolves identifier through the primary index to its shard.
func (t *Table) Get(identifier string) (*record.Record, error) {
	identifier = strings.ToLower(identifier)

	t.mu.RLock()
	shardID, ok := t.index[identifier]
	s := t.shardByID(shardID)
	t.mu.RUnlock()

	if !ok || s == nil {
		t.stats.GetFailure.Add(1)
		return nil, apperr.ErrNotFound
	}

	r, err := s.Get(identifier)
	if err != nil {
		t.stats.GetFailure.Add(1)
		return nil, err
	}
	t.stats.GetSuccess.Add(1)
	return r, nil
}

// Delete removes identifier's record from its shard and the index.
func (t *Table) Delete(identifier string) error {
	identifier = strings.ToLower(identifier)

	t.mu.Lock()
	defer t.mu.Unlock()

	shardID, ok := t.index[identifier]
	if !ok {
		t.stats.DeleteFailure.Add(1)
		return apperr.ErrNotFound
	}
	s := t.shardByIDLocked(shardID)
	if s == nil {
		t.stats.DeleteFailure.Add(1)
		return apperr.ErrNotFound
	}

	if err := s.Delete(identifier); err != nil {
		t.stats.DeleteFailure.Add(1)
		return err
	}
	delete(t.index, identifier)
	t.stats.DeleteSuccess.Add(1)
	return nil
}

// RecordUpdateOutcome lets callers (the dispatcher's dataset action)
// attribute an update's tri-state result to the table's counters.
func (t *Table) RecordUpdateOutcome(applied bool) {
	if applied {
		t.stats.UpdateSuccess.Add(1)
	} else {
		t.stats.UpdateFailure.Add(1)
	}
}

// RecordAcquireOutcome attributes a token-acquisition attempt.
func (t *Table) RecordAcquireOutcome(granted bool) {
	if granted {
		t.stats.AcquireSuccess.Add(1)
	} else {
		t.stats.AcquireFailure.Add(1)
	}
}

// pickByHash routes identifier to one of the table's pre-sized shards by
// murmur3 hash, falling back to a first-fit scan across all shards when
// the hashed bucket has no spare capacity.
func (t *Table) pickByHash(identifier string) *shard.Shard {
	bucket := int(murmur3.Sum32([]byte(identifier)) % uint32(len(t.shards)))
	s := t.shards[bucket]
	if err := s.LoadData(); err == nil {
		if t.cfg.MaxRecordsPerShard < 0 || s.Size() < t.cfg.MaxRecordsPerShard {
			return s
		}
	}
	for _, alt := range t.shards {
		if err := alt.LoadData(); err != nil {
			continue
		}
		if t.cfg.MaxRecordsPerShard < 0 || alt.Size() < t.cfg.MaxRecordsPerShard {
			return alt
		}
	}
	return nil
}

func (t *Table) shardByID(id string) *shard.Shard {
	for _, s := range t.shards {
		if s.ID() == id {
			return s
		}
	}
	return nil
}

func (t *Table) shardByIDLocked(id string) *shard.Shard { return t.shardByID(id) }

// Shards returns a snapshot slice of the table's shards, for maintenance
// routines and persistence on shutdown.
func (t *Table) Shards() []*shard.Shard {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*shard.Shard, len(t.shards))
	copy(out, t.shards)
	return out
}

// StartMaintenance launches the adaptive-loading sweeper and, if enabled,
// the auto-optimize cron job.
func (t *Table) StartMaintenance() error {
	if t.cfg.AdaptiveLoading {
		t.wg.Add(1)
		go t.adaptiveLoadingLoop()
	}
	if t.cfg.AutoOptimize {
		t.cronSched = cron.New()
		spec := t.cfg.OptimizeCron
		if spec == "" {
			spec = "@every 15m"
		}
		if _, err := t.cronSched.AddFunc(spec, t.autoOptimizeOnce); err != nil {
			return apperr.Wrap(err, apperr.Validation, "invalid optimize cron spec")
		}
		t.cronSched.Start()
	}
	return nil
}

// StopMaintenance terminates the sweeper and cron job.
func (t *Table) StopMaintenance() {
	close(t.stopCh)
	t.wg.Wait()
	if t.cronSched != nil {
		ctx := t.cronSched.Stop()
		<-ctx.Done()
	}
}

func (t *Table) adaptiveLoadingLoop() {
	defer t.wg.Done()
	interval := t.cfg.IdleUnloadAfter / 4
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.sweepIdleShards()
		}
	}
}

func (t *Table) sweepIdleShards() {
	now := time.Now()
	for _, s := range t.Shards() {
		if s.State() != shard.Loaded {
			continue
		}
		if now.Sub(s.LastAccess()) < t.cfg.IdleUnloadAfter {
			continue
		}
		_ = s.UnloadData(shard.Options{Persist: true, Clear: true})
	}
}

// autoOptimizeOnce compacts the last-created shard into shards with spare
// capacity, draining and dropping the source when it empties.
func (t *Table) autoOptimizeOnce() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.shards) < 2 {
		return
	}

	source := t.shards[len(t.shards)-1]
	if source.Size() == 0 {
		return
	}

	for _, target := range t.shards[:len(t.shards)-1] {
		if target == source {
			continue
		}
		if t.cfg.MaxRecordsPerShard >= 0 && target.Size() >= t.cfg.MaxRecordsPerShard {
			continue
		}
		t.drainInto(source, target)
		if source.Size() == 0 {
			_ = source.UnloadData(shard.Options{Drop: true})
			t.shards = t.shards[:len(t.shards)-1]
			return
		}
	}
}

func (t *Table) drainInto(source, target *shard.Shard) {
	moved := 0
	budget := t.cfg.MaxRecordsPerShard
	for identifier, shardID := range t.index {
		if shardID != source.ID() {
			continue
		}
		if budget >= 0 && target.Size() >= budget {
			break
		}
		r, err := source.Get(identifier)
		if err != nil {
			continue
		}
		if err := target.Insert(r); err != nil {
			continue
		}
		_ = source.Delete(identifier)
		t.index[identifier] = target.ID()
		moved++
	}
	_ = moved
}

// ResolveInconsistency reconciles the primary index against shard
// contents according to mode (§4.3).
func (t *Table) ResolveInconsistency(mode InconsistencyMode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if mode == Passive {
		return
	}

	if mode == RebuildIndex || mode == Aggressive {
		t.index = make(map[string]string)
	}

	for _, s := range t.shards {
		for _, identifier := range s.Identifiers() {
			owner, indexed := t.index[identifier]

			switch mode {
			case AddToIndex:
				if !indexed {
					t.index[identifier] = s.ID()
				}
			case DeleteOrphans:
				if indexed && owner != s.ID() {
					_ = s.Delete(identifier)
				}
			case RebuildIndex, Aggressive:
				t.index[identifier] = s.ID()
			}
		}
	}

	if mode == Aggressive {
		for _, s := range t.shards {
			if s.Size() == 0 {
				_ = s.UnloadData(shard.Options{Drop: true})
			}
		}
	}
}
