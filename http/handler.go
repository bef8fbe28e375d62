package http

import (
	"net/http"
	"net/http/pprof"
	"path"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/depotdb/depot/coordinator"
)

// APIHandler is the top-level handler: it mounts the resource handlers under
// the configured context root, plus healthcheck, metrics and pprof.
type APIHandler struct {
	http.Handler
}

// APIBackend holds everything the handlers need.
type APIBackend struct {
	Logger      *zap.Logger
	Coordinator *coordinator.Coordinator

	// PrometheusRegistry serves /metrics when set. A Gatherer that is also a
	// Registerer receives the HTTP request metrics.
	PrometheusRegistry *prometheus.Registry
}

// NewAPIHandler routes the full API surface. contextRoot prefixes every API
// route; empty means "/". /metrics and /debug/pprof stay at the root.
func NewAPIHandler(b *APIBackend, contextRoot string) *APIHandler {
	if b.Logger == nil {
		b.Logger = zap.NewNop()
	}
	eh := ErrorHandler{}

	r := chi.NewRouter()
	r.Use(panicRecovery(b.Logger, eh))
	r.Use(requestLogger(b.Logger))
	if b.PrometheusRegistry != nil {
		r.Use(requestMetrics(b.PrometheusRegistry))
	}

	r.NotFound(notFound(eh))
	r.MethodNotAllowed(notFound(eh))

	r.Route(routePrefix(contextRoot), func(r chi.Router) {
		r.Mount("/v1/datasets", NewDatasetHandler(b.Coordinator, eh, b.Logger))
		r.Mount("/v1/versions", NewVersionHandler(b.Coordinator, eh, b.Logger))
		r.Get("/healthcheck", handleHealthcheck)
	})

	if b.PrometheusRegistry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(b.PrometheusRegistry, promhttp.HandlerOpts{}))
	}
	r.Get("/debug/pprof/*", pprof.Index)
	r.Get("/debug/pprof/cmdline", pprof.Cmdline)
	r.Get("/debug/pprof/profile", pprof.Profile)
	r.Get("/debug/pprof/symbol", pprof.Symbol)
	r.Get("/debug/pprof/trace", pprof.Trace)

	return &APIHandler{Handler: r}
}

func routePrefix(contextRoot string) string {
	if contextRoot == "" || contextRoot == "/" {
		return "/"
	}
	return path.Clean("/" + contextRoot)
}

func notFound(eh ErrorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":"error","message":"path not found"}`))
	}
}

func handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","message":"ready for queries"}`))
}
