// Package registry is the top-level object graph described in spec §3-4.4:
// the process-wide map of databases, a readiness flag, and the periodic
// inconsistency-resolution sweep run across every table.
package registry

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/docvault/engine/pkg/apperr"
	"github.com/docvault/engine/pkg/config"
	"github.com/docvault/engine/pkg/crypt"
	"github.com/docvault/engine/pkg/database"
	"github.com/docvault/engine/pkg/shard"
	"github.com/docvault/engine/pkg/table"
	"github.com/docvault/engine/pkg/tokenpool"
)

// Registry is the process-wide singleton holding every database (§9:
// "process-wide singletons ... modeled as long-lived components with
// explicit lifecycle methods").
type Registry struct {
	mu    sync.RWMutex
	ready bool

	databases map[string]*database.Database

	cfg    *config.Config
	live   *config.Live
	pool   *tokenpool.Pool
	crypt  *crypt.Tool
	logger *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs an un-started registry. Call Init to mark it ready for
// traffic.
func New(cfg *config.Config, live *config.Live, pool *tokenpool.Pool, cryptTool *crypt.Tool, logger *zap.Logger) *Registry {
	return &Registry{
		databases: make(map[string]*database.Database),
		cfg:       cfg,
		live:      live,
		pool:      pool,
		crypt:     cryptTool,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Init marks the registry ready and starts the background
// inconsistency-resolution sweep.
func (r *Registry) Init() {
	r.mu.Lock()
	r.ready = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.inconsistencySweepLoop()
}

// Ready reports whether the registry has completed initialization.
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// Shutdown stops the background sweep and persists every loaded shard in
// parallel, per §5's graceful-shutdown rule.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.ready = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()

	var wg sync.WaitGroup
	for _, db := range r.Databases() {
		for _, t := range db.Tables() {
			t.StopMaintenance()
			for _, s := range t.Shards() {
				if s.State() != shard.Loaded {
					continue
				}
				wg.Add(1)
				go func(s *shard.Shard) {
					defer wg.Done()
					if err := s.UnloadData(shard.Options{Persist: true, Clear: true}); err != nil && r.logger != nil {
						r.logger.Warn("data may be lost: failed to persist shard on shutdown",
							zap.String("shard", s.ID()), zap.Error(err))
					}
				}(s)
			}
		}
	}
	wg.Wait()
}

// CreateDatabase registers a new database.
func (r *Registry) CreateDatabase(name string) (*database.Database, error) {
	lower := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return nil, apperr.ErrNotReady
	}
	if _, exists := r.databases[lower]; exists {
		return nil, apperr.ErrAlreadyExists
	}

	db := database.New(database.Config{
		Name:               lower,
		DataDir:            r.cfg.Storage.DataDir,
		MaxRecordsPerShard: r.cfg.Storage.MaxRecordsPerShard,
		IdleUnloadAfter:    r.cfg.Storage.IdleUnloadAfter,
		AdaptiveLoading:    r.cfg.Storage.AdaptiveLoading,
		AutoOptimize:       r.cfg.Storage.AutoOptimize,
		OptimizeCron:       r.cfg.Storage.OptimizeCron,
		SecureUpdate:       true,
		PreSizeShards:      r.cfg.Storage.PreSizeShards,
		Pool:               r.pool,
		Crypt:              r.crypt,
		Logger:             r.logger,
	})
	r.databases[lower] = db
	return db, nil
}

// Database looks up a database by name.
func (r *Registry) Database(name string) (*database.Database, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.ready {
		return nil, apperr.ErrNotReady
	}
	db, ok := r.databases[strings.ToLower(name)]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return db, nil
}

// DeleteDatabase removes a database.
func (r *Registry) DeleteDatabase(name string) error {
	lower := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return apperr.ErrNotReady
	}
	if _, ok := r.databases[lower]; !ok {
		return apperr.ErrNotFound
	}
	delete(r.databases, lower)
	return nil
}

// Databases returns a snapshot slice of the registry's databases.
func (r *Registry) Databases() []*database.Database {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*database.Database, 0, len(r.databases))
	for _, db := range r.databases {
		out = append(out, db)
	}
	return out
}

func (r *Registry) inconsistencySweepLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

func (r *Registry) sweepOnce() {
	for _, db := range r.Databases() {
		for _, t := range db.Tables() {
			t.ResolveInconsistency(table.AddToIndex)
		}
	}
}
