// Package record implements the typed-field container described in spec
// §4.1: a JSON field map guarded by a reader/writer lock, with a
// per-field update-token protocol for exclusive writes.
package record

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"

	"github.com/docvault/engine/pkg/tokenpool"
)

// Outcome is the tri-state result of update/insert/delete.
type Outcome int

const (
	// Rejected means the field doesn't exist, a token was required but
	// missing or mismatched, or (on delete) the field holds a live token.
	Rejected Outcome = iota
	// Invalid means the request itself is malformed: reserved field, empty
	// payload, or (on insert) a field that already exists. Payloads are not
	// checked against a template or against the record's own identifiers.
	Invalid
	// Applied means the mutation succeeded.
	Applied
)

var reservedFields = map[string]struct{}{
	"database":   {},
	"table":      {},
	"identifier": {},
}

func isReserved(field string) bool {
	_, ok := reservedFields[strings.ToLower(field)]
	return ok
}

type tokenEntry struct {
	value  string
	ticket *tokenpool.Ticket
}

// Record is one stored document, keyed by an owning database/table/identifier
// triple, holding an arbitrary JSON field map.
type Record struct {
	mu sync.RWMutex

	database   string
	table      string
	identifier string
	fields     map[string]json.RawMessage

	tokensMu sync.Mutex
	tokens   map[string]tokenEntry

	pool *tokenpool.Pool
}

// New creates a record for the given owner triple with an empty field map.
func New(database, table, identifier string, pool *tokenpool.Pool) *Record {
	return &Record{
		database:   strings.ToLower(database),
		table:      strings.ToLower(table),
		identifier: strings.ToLower(identifier),
		fields:     make(map[string]json.RawMessage),
		tokens:     make(map[string]tokenEntry),
		pool:       pool,
	}
}

// Database, Table, Identifier expose the owner triple.
func (r *Record) Database() string   { return r.database }
func (r *Record) Table() string      { return r.table }
func (r *Record) Identifier() string { return r.identifier }

// GetFullData returns a deep copy of the record's field map, keyed as
// stored plus the owner triple.
func (r *Record) GetFullData() map[string]json.RawMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(r.fields)+3)
	for k, v := range r.fields {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		out[k] = cp
	}
	out["database"], _ = json.Marshal(r.database)
	out["table"], _ = json.Marshal(r.table)
	out["identifier"], _ = json.Marshal(r.identifier)
	return out
}

// Get reads field's value. If acquire is true and secureUpdate is true for
// the owning table, it also tries to mint an update token bound to that
// field, returned via token (empty if acquisition failed or wasn't
// requested).
func (r *Record) Get(field string, acquire, secureUpdate bool) (value json.RawMessage, found bool, token string) {
	lower := strings.ToLower(field)

	r.mu.RLock()
	v, ok := r.fields[lower]
	r.mu.RUnlock()
	if !ok {
		return nil, false, ""
	}

	if acquire && secureUpdate && !isReserved(lower) {
		if t, granted := r.acquireToken(lower); granted {
			token = t
		}
	}
	return v, true, token
}

func (r *Record) acquireToken(field string) (string, bool) {
	r.tokensMu.Lock()
	defer r.tokensMu.Unlock()

	if _, live := r.tokens[field]; live {
		return "", false
	}

	value := randomToken()
	ticket := r.pool.Schedule(func() { r.expireToken(field, value) })
	r.tokens[field] = tokenEntry{value: value, ticket: ticket}
	return value, true
}

func (r *Record) expireToken(field, value string) {
	r.tokensMu.Lock()
	defer r.tokensMu.Unlock()
	if entry, ok := r.tokens[field]; ok && entry.value == value {
		delete(r.tokens, field)
	}
}

func randomToken() string {
	buf := make([]byte, 8) // 64 bits of entropy
	_, _ = rand.Read(buf)
	return base64.StdEncoding.EncodeToString(buf)
}

// Update applies a token-gated write to field. requireToken is the table's
// secure-update policy; token is the caller-supplied token, required only
// when requireToken is true.
func (r *Record) Update(field string, payload json.RawMessage, requireToken bool, token string) Outcome {
	lower := strings.ToLower(field)

	if isReserved(lower) {
		return Invalid
	}
	if len(payload) == 0 {
		return Invalid
	}

	r.mu.RLock()
	_, exists := r.fields[lower]
	r.mu.RUnlock()
	if !exists {
		return Rejected
	}

	if requireToken {
		r.tokensMu.Lock()
		entry, live := r.tokens[lower]
		if !live || entry.value != token {
			r.tokensMu.Unlock()
			return Rejected
		}
		entry.ticket.Cancel()
		delete(r.tokens, lower)
		r.tokensMu.Unlock()
	}

	r.mu.Lock()
	r.fields[lower] = append(json.RawMessage{}, payload...)
	r.mu.Unlock()
	return Applied
}

// Insert adds a new field, empty (payload == nil) or pre-populated.
func (r *Record) Insert(field string, payload json.RawMessage) Outcome {
	lower := strings.ToLower(field)
	if isReserved(lower) {
		return Invalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fields[lower]; exists {
		return Invalid
	}
	if payload == nil {
		r.fields[lower] = json.RawMessage("null")
	} else {
		r.fields[lower] = append(json.RawMessage{}, payload...)
	}
	return Applied
}

// Delete removes field, refusing reserved fields and fields with a live
// update token.
func (r *Record) Delete(field string) Outcome {
	lower := strings.ToLower(field)
	if isReserved(lower) {
		return Invalid
	}

	r.tokensMu.Lock()
	_, live := r.tokens[lower]
	r.tokensMu.Unlock()
	if live {
		return Rejected
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fields[lower]; !exists {
		return Rejected
	}
	delete(r.fields, lower)
	return Applied
}

// HasField reports whether field is present.
func (r *Record) HasField(field string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fields[strings.ToLower(field)]
	return ok
}
