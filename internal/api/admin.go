package api

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/docvault/engine/pkg/apperr"
	"github.com/docvault/engine/pkg/config"
	"github.com/docvault/engine/pkg/dispatch"
	"github.com/docvault/engine/pkg/models"
	"github.com/docvault/engine/pkg/registry"
	"github.com/docvault/engine/pkg/shard"
)

// AdminHandler implements the runtime-configuration and backup actions
// gated to the admin role by RBAC's blanket wildcard (§5, §9).
type AdminHandler struct {
	registry *registry.Registry
	live     *config.Live
	logger   *zap.Logger
}

// NewAdminHandler creates an admin handler bound to reg and live.
func NewAdminHandler(reg *registry.Registry, live *config.Live, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{registry: reg, live: live, logger: logger}
}

// Register binds the admin actions onto d.
func (h *AdminHandler) Register(d *dispatch.Dispatcher) {
	d.Register([]string{"admin", "config"}, &dispatch.Action{
		Name: "get-config", Verb: dispatch.GET,
		Resource: "admin", Operation: "read",
		Handler: h.getConfig,
	})
	d.Register([]string{"admin", "config", "update"}, &dispatch.Action{
		Name: "update-config", Verb: dispatch.UPDATE,
		RequiresBody: false,
		Resource:     "admin", Operation: "update",
		Handler: h.updateConfig,
	})
	d.Register([]string{"admin", "backup"}, &dispatch.Action{
		Name: "backup-database", Verb: dispatch.PUT,
		RequiredArgs: []string{"database"},
		Resource:     "admin", Operation: "backup",
		Handler: h.backupDatabase,
	})
}

func (h *AdminHandler) getConfig(ctx *dispatch.Context) (interface{}, error) {
	snap := h.live.Snapshot()
	return models.ConfigView{
		MaxTokenWorkers:       snap["max_token_workers"],
		RecordsPerTokenWorker: snap["records_per_token_worker"],
		IPBanThreshold:        snap["ban_after_flags"],
		DefaultBucketSize:     snap["default_bucket_size"],
	}, nil
}

// updateConfig reads adjustments from query arguments rather than a body:
// every admin-tunable value is a single scalar, and the action family
// otherwise carries its payload as query arguments for symmetry with the
// rest of the wire protocol's UPDATE actions.
func (h *AdminHandler) updateConfig(ctx *dispatch.Context) (interface{}, error) {
	if v, ok := ctx.Arg("maxTokenWorkers"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, apperr.New(apperr.Validation, "maxTokenWorkers must be an integer")
		}
		h.live.SetMaxTokenWorkers(n)
	}
	if v, ok := ctx.Arg("recordsPerTokenWorker"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, apperr.New(apperr.Validation, "recordsPerTokenWorker must be an integer")
		}
		h.live.SetRecordsPerTokenWorker(n)
	}
	if v, ok := ctx.Arg("ipBanThreshold"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, apperr.New(apperr.Validation, "ipBanThreshold must be an integer")
		}
		h.live.SetBanAfterFlags(n)
	}
	if v, ok := ctx.Arg("defaultBucketSize"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, apperr.New(apperr.Validation, "defaultBucketSize must be an integer")
		}
		h.live.SetDefaultBucketSize(n)
	}
	return h.getConfig(ctx)
}

// backupDatabase forces every loaded shard of the named database to
// persist its envelope without clearing its in-memory contents.
func (h *AdminHandler) backupDatabase(ctx *dispatch.Context) (interface{}, error) {
	dbName, _ := ctx.Arg("database")

	db, err := h.registry.Database(dbName)
	if err != nil {
		return nil, err
	}

	result := models.BackupResult{Database: db.Name()}
	for _, t := range db.Tables() {
		for _, s := range t.Shards() {
			if s.State() != shard.Loaded {
				continue
			}
			if err := s.UnloadData(shard.Options{Persist: true, Clear: false}); err != nil {
				result.Failed = append(result.Failed, s.ID())
				continue
			}
			result.ShardsFlushed = append(result.ShardsFlushed, s.ID())
		}
	}
	return result, nil
}
