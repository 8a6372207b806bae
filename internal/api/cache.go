package api

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/docvault/engine/pkg/apperr"
	"github.com/docvault/engine/pkg/cache"
	"github.com/docvault/engine/pkg/dispatch"
	"github.com/docvault/engine/pkg/models"
)

// CacheHandler implements the ephemeral-store action family (§4.5). Each
// request names an owning cache by the "cache" argument; caches are
// created lazily and addressed case-insensitively.
type CacheHandler struct {
	manager *cache.Manager
	logger  *zap.Logger
}

// NewCacheHandler creates a cache handler bound to mgr.
func NewCacheHandler(mgr *cache.Manager, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{manager: mgr, logger: logger}
}

// Register binds every cache action onto d.
func (h *CacheHandler) Register(d *dispatch.Dispatcher) {
	d.Register([]string{"cache", "entry"}, &dispatch.Action{
		Name: "cache-set", Verb: dispatch.PUT,
		RequiredArgs: []string{"cache", "identifier"},
		RequiresBody: true,
		Resource:     "cache", Operation: "create",
		Handler: h.set,
	})
	d.Register([]string{"cache", "entry", "get"}, &dispatch.Action{
		Name: "cache-get", Verb: dispatch.GET,
		RequiredArgs: []string{"cache", "identifier"},
		Resource:     "cache", Operation: "read",
		Handler: h.get,
	})
	d.Register([]string{"cache", "entry", "drop"}, &dispatch.Action{
		Name: "cache-delete", Verb: dispatch.DELETE,
		RequiredArgs: []string{"cache", "identifier"},
		Resource:     "cache", Operation: "delete",
		Handler: h.delete,
	})
	d.Register([]string{"cache", "clear"}, &dispatch.Action{
		Name: "cache-clear", Verb: dispatch.UPDATE,
		RequiredArgs: []string{"cache"},
		Resource:     "cache", Operation: "update",
		Handler: h.clear,
	})
}

func (h *CacheHandler) set(ctx *dispatch.Context) (interface{}, error) {
	cacheName, _ := ctx.Arg("cache")
	identifier, _ := ctx.Arg("identifier")

	ttl := cache.DefaultTTL
	if raw, ok := ctx.Arg("ttlSeconds"); ok {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return nil, apperr.New(apperr.Validation, "ttlSeconds must be an integer")
		}
		ttl = time.Duration(seconds) * time.Second
	}

	c := h.manager.Get(cacheName)
	c.Set(identifier, ctx.Body, ttl)
	return nil, nil
}

func (h *CacheHandler) get(ctx *dispatch.Context) (interface{}, error) {
	cacheName, _ := ctx.Arg("cache")
	identifier, _ := ctx.Arg("identifier")

	c := h.manager.Get(cacheName)
	entry, ok := c.Get(identifier)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return models.CacheEntryView{
		Identifier:   identifier,
		IsValid:      entry.IsValid,
		IsValidUntil: entry.IsValidUntil,
		Data:         entry.Data,
	}, nil
}

func (h *CacheHandler) delete(ctx *dispatch.Context) (interface{}, error) {
	cacheName, _ := ctx.Arg("cache")
	identifier, _ := ctx.Arg("identifier")

	h.manager.Get(cacheName).Delete(identifier)
	return nil, nil
}

func (h *CacheHandler) clear(ctx *dispatch.Context) (interface{}, error) {
	cacheName, _ := ctx.Arg("cache")
	h.manager.Get(cacheName).Clear()
	return nil, nil
}
