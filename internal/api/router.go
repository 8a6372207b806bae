package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/docvault/engine/internal/middleware"
	"github.com/docvault/engine/pkg/dispatch"
	"github.com/docvault/engine/pkg/ipfilter"
	"github.com/docvault/engine/pkg/ratelimit"
	"github.com/docvault/engine/pkg/registry"
)

// Registrar is anything that binds its actions onto a dispatcher, one per
// resource family (DataHandler, CacheHandler, AdminHandler, AuthHandler).
type Registrar interface {
	Register(d *dispatch.Dispatcher)
}

// NewRouter builds the outer mux router: /metrics and /health bypass the
// dispatcher entirely since AuthenticateRequest runs unconditionally for
// every dispatcher action (§4.6); everything else goes through the
// CORS -> IPFilter -> RateLimit -> Logging chain in front of the
// dispatcher's single entrypoint.
func NewRouter(
	d *dispatch.Dispatcher,
	reg *registry.Registry,
	filter *ipfilter.Filter,
	limiter *ratelimit.Registry,
	logger *zap.Logger,
	registrars ...Registrar,
) *mux.Router {
	for _, r := range registrars {
		r.Register(d)
	}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.Handle("/health", NewHealthHandler(reg)).Methods(http.MethodGet)

	chain := middleware.Recovery(logger)(
		middleware.Logging(logger)(
			middleware.RateLimit(limiter)(
				middleware.IPFilter(filter)(
					middleware.CORS(d),
				),
			),
		),
	)
	router.PathPrefix("/").Handler(chain)

	return router
}
