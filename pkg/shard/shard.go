// Package shard implements the bounded, file-backed record group
// described in spec §4.2, including its lifecycle state machine and the
// line-oriented, envelope-aware persistence format.
package shard

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/docvault/engine/pkg/apperr"
	"github.com/docvault/engine/pkg/crypt"
	"github.com/docvault/engine/pkg/metrics"
	"github.com/docvault/engine/pkg/record"
	"github.com/docvault/engine/pkg/tokenpool"
)

// State is one of the lifecycle codes from §4.2.
type State int

const (
	InsufficientMemory State = -2
	GeneralError        State = -1
	Unloaded            State = 0
	Unloading           State = 1
	Loading             State = 2
	Loaded              State = 3
)

func (s State) String() string {
	switch s {
	case InsufficientMemory:
		return "INSUFFICIENT_MEMORY"
	case GeneralError:
		return "GENERAL_ERROR"
	case Unloaded:
		return "UNLOADED"
	case Unloading:
		return "UNLOADING"
	case Loading:
		return "LOADING"
	case Loaded:
		return "LOADED"
	default:
		return "UNKNOWN"
	}
}

// AllocateID derives a shard identifier from the table name and an
// ordinal, using xxhash so identifiers are short, stable and collision
// resistant across process restarts.
func AllocateID(table string, ordinal int) string {
	h := xxhash.Sum64String(fmt.Sprintf("%s#%d", strings.ToLower(table), ordinal))
	return fmt.Sprintf("%016x", h)
}

// Shard is a bounded group of records persisted as a single
// newline-delimited file.
type Shard struct {
	mu sync.RWMutex

	id         string
	database   string
	table      string
	maxRecords int
	dataDir    string

	state      State
	lastAccess time.Time
	records    map[string]*record.Record

	pool    *tokenpool.Pool
	crypt   *crypt.Tool
	encrypt bool
	logger  *zap.Logger
}

// Config bundles the fixed parameters of a shard.
type Config struct {
	ID         string
	Database   string
	Table      string
	MaxRecords int
	DataDir    string
	Pool       *tokenpool.Pool
	Crypt      *crypt.Tool
	Encrypt    bool
	Logger     *zap.Logger
}

// New creates an unloaded shard. Call LoadData before first use.
func New(cfg Config) *Shard {
	database := strings.ToLower(cfg.Database)
	table := strings.ToLower(cfg.Table)
	metrics.ShardState.WithLabelValues(database, table, Unloaded.String()).Inc()
	return &Shard{
		id:         cfg.ID,
		database:   database,
		table:      table,
		maxRecords: cfg.MaxRecords,
		dataDir:    cfg.DataDir,
		records:    make(map[string]*record.Record),
		pool:       cfg.Pool,
		crypt:      cfg.Crypt,
		encrypt:    cfg.Encrypt,
		logger:     cfg.Logger,
		state:      Unloaded,
	}
}

// ID, State, Size, LastAccess are read-only observers for table-level
// maintenance (adaptive loading, auto-optimize, statistics).
func (s *Shard) ID() string { return s.id }

func (s *Shard) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Shard) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Shard) LastAccess() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAccess
}

// setStateLocked transitions the shard's state, keeping the exported
// state gauge in sync. Callers must hold s.mu.
func (s *Shard) setStateLocked(newState State) {
	if s.state == newState {
		return
	}
	metrics.ShardState.WithLabelValues(s.database, s.table, s.state.String()).Dec()
	s.state = newState
	metrics.ShardState.WithLabelValues(s.database, s.table, s.state.String()).Inc()
}

func (s *Shard) filePath() string {
	return filepath.Join(s.dataDir, "db", s.database, s.table, fmt.Sprintf("%s_%s", s.table, s.id))
}

func (s *Shard) touch() {
	s.lastAccess = time.Now()
}

// Get returns the record for identifier, triggering a lazy load if the
// shard isn't currently resident.
func (s *Shard) Get(identifier string) (*record.Record, error) {
	identifier = strings.ToLower(identifier)

	s.mu.Lock()
	if s.state <= Unloaded {
		if err := s.loadDataLocked(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	s.touch()
	if s.state != Loaded {
		s.mu.Unlock()
		return nil, apperr.New(apperr.LoadFailure, "shard is still loading")
	}
	r, ok := s.records[identifier]
	s.mu.Unlock()

	if !ok {
		return nil, apperr.ErrNotFound
	}
	return r, nil
}

// ContainsRecord reports whether identifier is resident, without
// triggering a load.
func (s *Shard) ContainsRecord(identifier string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[strings.ToLower(identifier)]
	return ok
}

// Identifiers returns the identifiers of all records currently resident
// in the shard, used by the table's inconsistency resolver to discover
// records without a matching index entry.
func (s *Shard) Identifiers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	return out
}

// Insert adds r to the shard, verifying ownership and capacity.
func (s *Shard) Insert(r *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if r.Database() != s.database || r.Table() != s.table {
		return apperr.New(apperr.Validation, "record owner does not match shard")
	}
	if s.maxRecords >= 0 && len(s.records) >= s.maxRecords {
		return apperr.New(apperr.LoadFailure, "shard is full")
	}
	if _, exists := s.records[r.Identifier()]; exists {
		return apperr.ErrAlreadyExists
	}
	s.records[r.Identifier()] = r
	return nil
}

// Delete removes identifier's record, if present.
func (s *Shard) Delete(identifier string) error {
	identifier = strings.ToLower(identifier)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if _, ok := s.records[identifier]; !ok {
		return apperr.ErrNotFound
	}
	delete(s.records, identifier)
	return nil
}

// LoadData loads the shard's file from disk, taking the write lock. A
// shard that is already loaded is left unchanged.
func (s *Shard) LoadData() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Loaded {
		return nil
	}
	return s.loadDataLocked()
}

func (s *Shard) loadDataLocked() error {
	s.setStateLocked(Loading)
	dir := filepath.Dir(s.filePath())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.setStateLocked(GeneralError)
		metrics.ShardLoads.WithLabelValues(s.database, s.table, "error").Inc()
		return apperr.Wrap(err, apperr.LoadFailure, "failed to create shard directory")
	}

	info, err := os.Stat(s.filePath())
	if os.IsNotExist(err) {
		s.records = make(map[string]*record.Record)
		s.setStateLocked(Loaded)
		s.touch()
		metrics.ShardLoads.WithLabelValues(s.database, s.table, "ok").Inc()
		return nil
	}
	if err != nil {
		s.setStateLocked(GeneralError)
		metrics.ShardLoads.WithLabelValues(s.database, s.table, "error").Inc()
		return apperr.Wrap(err, apperr.LoadFailure, "failed to stat shard file")
	}

	if !hasAvailableMemory(info.Size()) {
		s.setStateLocked(InsufficientMemory)
		metrics.ShardLoads.WithLabelValues(s.database, s.table, "insufficient_memory").Inc()
		return apperr.New(apperr.LoadFailure, "insufficient memory to load shard")
	}

	file, err := os.Open(s.filePath())
	if err != nil {
		s.setStateLocked(GeneralError)
		metrics.ShardLoads.WithLabelValues(s.database, s.table, "error").Inc()
		return apperr.Wrap(err, apperr.LoadFailure, "failed to open shard file")
	}
	defer file.Close()

	records := make(map[string]*record.Record)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		raw := []byte(line)
		if crypt.IsEnvelope(line) {
			if s.crypt == nil || !s.crypt.IsReady() {
				if s.logger != nil {
					s.logger.Warn("skipping encrypted line, key not ready", zap.String("shard", s.id))
				}
				continue
			}
			plain, err := s.crypt.Decrypt(line)
			if err != nil {
				if s.logger != nil {
					s.logger.Warn("skipping undecryptable line", zap.String("shard", s.id), zap.Error(err))
				}
				continue
			}
			raw = plain
		}

		rec, err := decodeRecord(raw, s)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("skipping malformed shard line", zap.String("shard", s.id), zap.Error(err))
			}
			continue
		}
		records[rec.Identifier()] = rec
	}
	if err := scanner.Err(); err != nil {
		s.setStateLocked(GeneralError)
		metrics.ShardLoads.WithLabelValues(s.database, s.table, "error").Inc()
		return apperr.Wrap(err, apperr.LoadFailure, "failed to read shard file")
	}

	s.records = records
	s.setStateLocked(Loaded)
	s.touch()
	metrics.ShardLoads.WithLabelValues(s.database, s.table, "ok").Inc()
	metrics.ShardRecords.WithLabelValues(s.database, s.table, s.id).Set(float64(len(records)))
	return nil
}

func decodeRecord(raw []byte, s *Shard) (*record.Record, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	database, err := rawString(doc["database"])
	if err != nil {
		return nil, err
	}
	table, err := rawString(doc["table"])
	if err != nil {
		return nil, err
	}
	identifier, err := rawString(doc["identifier"])
	if err != nil {
		return nil, err
	}
	if strings.ToLower(database) != s.database || strings.ToLower(table) != s.table {
		return nil, fmt.Errorf("record owner %s/%s does not match shard %s/%s", database, table, s.database, s.table)
	}

	rec := record.New(database, table, identifier, s.pool)
	for field, value := range doc {
		lower := strings.ToLower(field)
		if lower == "database" || lower == "table" || lower == "identifier" {
			continue
		}
		rec.Insert(field, value)
	}
	return rec, nil
}

func rawString(raw json.RawMessage) (string, error) {
	if raw == nil {
		return "", fmt.Errorf("missing field")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

// Options controls UnloadData's behavior.
type Options struct {
	Clear   bool
	Persist bool
	Drop    bool
}

// UnloadData releases or persists the shard's resident records per §4.2.
func (s *Shard) UnloadData(opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state <= Unloaded {
		if opts.Drop {
			_ = os.Remove(s.filePath())
		}
		return nil
	}

	s.setStateLocked(Unloading)

	if opts.Drop {
		if err := os.Remove(s.filePath()); err != nil && !os.IsNotExist(err) {
			s.setStateLocked(GeneralError)
			return apperr.Wrap(err, apperr.LoadFailure, "failed to drop shard file")
		}
		s.records = make(map[string]*record.Record)
		s.setStateLocked(Unloaded)
		metrics.ShardUnloads.WithLabelValues(s.database, s.table, "drop").Inc()
		metrics.ShardRecords.DeleteLabelValues(s.database, s.table, s.id)
		return nil
	}

	if opts.Persist {
		if err := s.persistLocked(); err != nil {
			s.setStateLocked(GeneralError)
			return err
		}
	}

	if opts.Clear {
		s.records = make(map[string]*record.Record)
	}

	if opts.Persist || opts.Clear {
		s.setStateLocked(Unloaded)
		reason := "clear"
		if opts.Persist {
			reason = "persist"
		}
		metrics.ShardUnloads.WithLabelValues(s.database, s.table, reason).Inc()
		metrics.ShardRecords.DeleteLabelValues(s.database, s.table, s.id)
	} else {
		s.setStateLocked(Loaded)
	}
	return nil
}

func (s *Shard) persistLocked() error {
	dir := filepath.Dir(s.filePath())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(err, apperr.LoadFailure, "failed to create shard directory")
	}

	tmp := s.filePath() + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return apperr.Wrap(err, apperr.LoadFailure, "failed to create shard file")
	}

	writer := bufio.NewWriter(file)
	for _, r := range s.records {
		data := r.GetFullData()
		line, err := json.Marshal(data)
		if err != nil {
			file.Close()
			return apperr.Wrap(err, apperr.LoadFailure, "failed to encode record")
		}
		if s.encrypt && s.crypt != nil && s.crypt.IsReady() {
			envelope, err := s.crypt.Encrypt(line)
			if err != nil {
				file.Close()
				return apperr.Wrap(err, apperr.CryptError, "failed to encrypt record")
			}
			line = []byte(envelope)
		}
		if _, err := writer.Write(line); err != nil {
			file.Close()
			return apperr.Wrap(err, apperr.LoadFailure, "failed to write shard file")
		}
		if err := writer.WriteByte('\n'); err != nil {
			file.Close()
			return apperr.Wrap(err, apperr.LoadFailure, "failed to write shard file")
		}
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		return apperr.Wrap(err, apperr.LoadFailure, "failed to flush shard file")
	}
	if err := file.Close(); err != nil {
		return apperr.Wrap(err, apperr.LoadFailure, "failed to close shard file")
	}
	return os.Rename(tmp, s.filePath())
}

// hasAvailableMemory implements the §4.2 heuristic: availableMemory*0.8 >=
// fileSize, using the runtime's reported system memory as a stand-in for
// available memory.
func hasAvailableMemory(fileSize int64) bool {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	available := int64(m.Sys - m.HeapInuse)
	if available <= 0 {
		return true
	}
	return float64(available)*0.8 >= float64(fileSize)
}
