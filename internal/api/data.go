// Package api implements the HTTP-facing action handlers registered
// against the action dispatcher (§4.6), one handler struct per resource
// family, following the teacher's per-resource *Handler convention.
package api

import (
	"encoding/json"
	"strconv"

	"go.uber.org/zap"

	"github.com/docvault/engine/internal/notify"
	"github.com/docvault/engine/pkg/apperr"
	"github.com/docvault/engine/pkg/dispatch"
	"github.com/docvault/engine/pkg/models"
	"github.com/docvault/engine/pkg/record"
	"github.com/docvault/engine/pkg/registry"
	"github.com/docvault/engine/pkg/table"
)

// DataHandler implements the database/table/record/field action family
// (§4.1-§4.4).
type DataHandler struct {
	registry *registry.Registry
	hub      *notify.Hub
	logger   *zap.Logger
}

// NewDataHandler creates a data handler bound to reg. hub may be nil, in
// which case mutations are simply not announced.
func NewDataHandler(reg *registry.Registry, hub *notify.Hub, logger *zap.Logger) *DataHandler {
	return &DataHandler{registry: reg, hub: hub, logger: logger}
}

func (h *DataHandler) publish(database, table, identifier, kind string) {
	if h.hub == nil {
		return
	}
	h.hub.Publish(notify.Event{Database: database, Table: table, Identifier: identifier, Kind: kind})
}

// Register binds every action in the family onto d.
func (h *DataHandler) Register(d *dispatch.Dispatcher) {
	d.Register([]string{"data", "db"}, &dispatch.Action{
		Name: "create-database", Verb: dispatch.PUT,
		RequiredArgs: []string{"identifier"},
		Resource:     "database", Operation: "create",
		Handler: h.createDatabase,
	})
	d.Register([]string{"data", "db", "drop"}, &dispatch.Action{
		Name: "drop-database", Verb: dispatch.DELETE,
		RequiredArgs: []string{"identifier"},
		Resource:     "database", Operation: "delete",
		Handler: h.dropDatabase,
	})
	d.Register([]string{"data", "db", "table"}, &dispatch.Action{
		Name: "create-table", Verb: dispatch.PUT,
		RequiredArgs: []string{"database", "identifier"},
		Resource:     "table", Operation: "create",
		Handler: h.createTable,
	})
	d.Register([]string{"data", "db", "table", "drop"}, &dispatch.Action{
		Name: "drop-table", Verb: dispatch.DELETE,
		RequiredArgs: []string{"database", "identifier"},
		Resource:     "table", Operation: "delete",
		Handler: h.dropTable,
	})
	d.Register([]string{"data", "db", "table", "stats"}, &dispatch.Action{
		Name: "table-statistics", Verb: dispatch.GET,
		RequiredArgs: []string{"database", "table"},
		Resource:     "table", Operation: "read",
		Handler: h.tableStatistics,
	})
	d.Register([]string{"data", "db", "table", "dataset"}, &dispatch.Action{
		Name: "insert-record", Verb: dispatch.PUT,
		RequiredArgs: []string{"database", "table", "identifier"},
		RequiresBody: true,
		Resource:     "dataset", Operation: "create",
		Handler: h.insertRecord,
	})
	d.Register([]string{"data", "db", "table", "dataset", "get"}, &dispatch.Action{
		Name: "get-record", Verb: dispatch.GET,
		RequiredArgs: []string{"database", "table", "identifier"},
		Resource:     "dataset", Operation: "read",
		Handler: h.getRecord,
	})
	d.Register([]string{"data", "db", "table", "dataset", "drop"}, &dispatch.Action{
		Name: "delete-record", Verb: dispatch.DELETE,
		RequiredArgs: []string{"database", "table", "identifier"},
		Resource:     "dataset", Operation: "delete",
		Handler: h.deleteRecord,
	})
	d.Register([]string{"data", "db", "table", "dataset", "field"}, &dispatch.Action{
		Name: "get-field", Verb: dispatch.GET,
		RequiredArgs: []string{"database", "table", "identifier", "field"},
		Resource:     "dataset", Operation: "read",
		Handler: h.getField,
	})
	d.Register([]string{"data", "db", "table", "dataset", "field", "insert"}, &dispatch.Action{
		Name: "insert-field", Verb: dispatch.PUT,
		RequiredArgs: []string{"database", "table", "identifier", "field"},
		RequiresBody: true,
		Resource:     "dataset", Operation: "create",
		Handler: h.insertField,
	})
	d.Register([]string{"data", "db", "table", "dataset", "field", "update"}, &dispatch.Action{
		Name: "update-field", Verb: dispatch.UPDATE,
		RequiredArgs: []string{"database", "table", "identifier", "field"},
		RequiresBody: true,
		Resource:     "dataset", Operation: "update",
		Handler: h.updateField,
	})
	d.Register([]string{"data", "db", "table", "dataset", "field", "drop"}, &dispatch.Action{
		Name: "delete-field", Verb: dispatch.DELETE,
		RequiredArgs: []string{"database", "table", "identifier", "field"},
		Resource:     "dataset", Operation: "delete",
		Handler: h.deleteField,
	})
}

func (h *DataHandler) createDatabase(ctx *dispatch.Context) (interface{}, error) {
	name, _ := ctx.Arg("identifier")
	db, err := h.registry.CreateDatabase(name)
	if err != nil {
		return nil, err
	}
	return models.DatabaseSummary{Name: db.Name(), Encrypted: db.Encrypted()}, nil
}

func (h *DataHandler) dropDatabase(ctx *dispatch.Context) (interface{}, error) {
	name, _ := ctx.Arg("identifier")
	if err := h.registry.DeleteDatabase(name); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *DataHandler) createTable(ctx *dispatch.Context) (interface{}, error) {
	dbName, _ := ctx.Arg("database")
	tableName, _ := ctx.Arg("identifier")

	db, err := h.registry.Database(dbName)
	if err != nil {
		return nil, err
	}
	t, err := db.CreateTable(tableName)
	if err != nil {
		return nil, err
	}
	return map[string]string{"database": t.Database(), "table": t.Name()}, nil
}

func (h *DataHandler) dropTable(ctx *dispatch.Context) (interface{}, error) {
	dbName, _ := ctx.Arg("database")
	tableName, _ := ctx.Arg("identifier")

	db, err := h.registry.Database(dbName)
	if err != nil {
		return nil, err
	}
	if err := db.DeleteTable(tableName); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *DataHandler) resolveTable(ctx *dispatch.Context) (*table.Table, error) {
	dbName, _ := ctx.Arg("database")
	tableName, _ := ctx.Arg("table")

	db, err := h.registry.Database(dbName)
	if err != nil {
		return nil, err
	}
	return db.Table(tableName)
}

func (h *DataHandler) tableStatistics(ctx *dispatch.Context) (interface{}, error) {
	t, err := h.resolveTable(ctx)
	if err != nil {
		return nil, err
	}

	shards := t.Shards()
	summaries := make([]models.ShardSummary, 0, len(shards))
	for _, s := range shards {
		summaries = append(summaries, models.ShardSummary{
			ID:         s.ID(),
			State:      s.State().String(),
			Records:    s.Size(),
			LastAccess: s.LastAccess(),
		})
	}

	return models.TableStatistics{
		Database: t.Database(),
		Table:    t.Name(),
		Shards:   summaries,
		Counters: t.Stats().Snapshot(),
	}, nil
}

// insertRecord builds a record from the request body's JSON object,
// skipping the reserved owner-triple keys if present in the payload, and
// inserts it through the table (§4.3's shard-assignment rule).
func (h *DataHandler) insertRecord(ctx *dispatch.Context) (interface{}, error) {
	t, err := h.resolveTable(ctx)
	if err != nil {
		return nil, err
	}
	identifier, _ := ctx.Arg("identifier")

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(ctx.Body, &doc); err != nil {
		return nil, apperr.Wrap(err, apperr.BodyParse, "record body must be a JSON object")
	}

	r := record.New(t.Database(), t.Name(), identifier, t.Pool())
	for field, value := range doc {
		if field == "database" || field == "table" || field == "identifier" {
			continue
		}
		r.Insert(field, value)
	}

	if err := t.Insert(r); err != nil {
		return nil, err
	}
	h.publish(t.Database(), t.Name(), identifier, "insert")
	return models.RecordView(r.GetFullData()), nil
}

func (h *DataHandler) getRecord(ctx *dispatch.Context) (interface{}, error) {
	t, err := h.resolveTable(ctx)
	if err != nil {
		return nil, err
	}
	identifier, _ := ctx.Arg("identifier")

	r, err := t.Get(identifier)
	if err != nil {
		return nil, err
	}
	return models.RecordView(r.GetFullData()), nil
}

func (h *DataHandler) deleteRecord(ctx *dispatch.Context) (interface{}, error) {
	t, err := h.resolveTable(ctx)
	if err != nil {
		return nil, err
	}
	identifier, _ := ctx.Arg("identifier")
	if err := t.Delete(identifier); err != nil {
		return nil, err
	}
	h.publish(t.Database(), t.Name(), identifier, "delete")
	return nil, nil
}

// fieldView is the wire shape for a single field read: the value plus an
// update token, present only when acquisition was requested and granted.
type fieldView struct {
	Value  json.RawMessage `json:"value"`
	UToken string          `json:"utoken,omitempty"`
}

func (h *DataHandler) getField(ctx *dispatch.Context) (interface{}, error) {
	t, err := h.resolveTable(ctx)
	if err != nil {
		return nil, err
	}
	identifier, _ := ctx.Arg("identifier")
	field, _ := ctx.Arg("field")

	r, err := t.Get(identifier)
	if err != nil {
		return nil, err
	}

	acquire, _ := strconv.ParseBool(firstOr(ctx, "acquire", "false"))
	value, found, token := r.Get(field, acquire, t.SecureUpdate())
	if acquire {
		t.RecordAcquireOutcome(token != "")
	}
	if !found {
		return nil, apperr.ErrNotFound
	}
	return fieldView{Value: value, UToken: token}, nil
}

func (h *DataHandler) insertField(ctx *dispatch.Context) (interface{}, error) {
	t, err := h.resolveTable(ctx)
	if err != nil {
		return nil, err
	}
	identifier, _ := ctx.Arg("identifier")
	field, _ := ctx.Arg("field")

	r, err := t.Get(identifier)
	if err != nil {
		return nil, err
	}
	if outcome := r.Insert(field, ctx.Body); outcome != record.Applied {
		return nil, apperr.New(apperr.Validation, "field already exists or is reserved")
	}
	return nil, nil
}

func (h *DataHandler) updateField(ctx *dispatch.Context) (interface{}, error) {
	t, err := h.resolveTable(ctx)
	if err != nil {
		return nil, err
	}
	identifier, _ := ctx.Arg("identifier")
	field, _ := ctx.Arg("field")
	token, _ := ctx.Arg("utoken")

	r, err := t.Get(identifier)
	if err != nil {
		return nil, err
	}

	outcome := r.Update(field, ctx.Body, t.SecureUpdate(), token)
	t.RecordUpdateOutcome(outcome == record.Applied)
	switch outcome {
	case record.Invalid:
		return nil, apperr.New(apperr.Validation, "update payload rejected")
	case record.Rejected:
		return nil, apperr.New(apperr.NotFound, "field absent or token invalid")
	}
	h.publish(t.Database(), t.Name(), identifier, "update")
	return nil, nil
}

func (h *DataHandler) deleteField(ctx *dispatch.Context) (interface{}, error) {
	t, err := h.resolveTable(ctx)
	if err != nil {
		return nil, err
	}
	identifier, _ := ctx.Arg("identifier")
	field, _ := ctx.Arg("field")

	r, err := t.Get(identifier)
	if err != nil {
		return nil, err
	}
	if outcome := r.Delete(field); outcome != record.Applied {
		return nil, apperr.New(apperr.NotFound, "field absent or currently locked by a live token")
	}
	return nil, nil
}

func firstOr(ctx *dispatch.Context, name, fallback string) string {
	if v, ok := ctx.Arg(name); ok {
		return v
	}
	return fallback
}
