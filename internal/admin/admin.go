// Package admin serves the operational endpoints on a separate listener.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/fabian4/devproxy/internal/metrics"
	"github.com/fabian4/devproxy/internal/model"
	"github.com/fabian4/devproxy/internal/router"
)

// RouteInfo is one entry of the /routes listing.
type RouteInfo struct {
	Name     string   `json:"name"`
	Prefix   string   `json:"prefix"`
	Upstream string   `json:"upstream"`
	Target   string   `json:"target"`
	Methods  []string `json:"methods,omitempty"`
}

// Describe lists routes in match order.
func Describe(rt *router.Table) []RouteInfo {
	routes := rt.Routes()
	out := make([]RouteInfo, 0, len(routes))
	for _, r := range routes {
		out = append(out, describe(r))
	}
	return out
}

func describe(r model.Route) RouteInfo {
	return RouteInfo{
		Name:     r.Name,
		Prefix:   r.PathPrefix,
		Upstream: r.Service,
		Target:   r.Scheme + "://" + r.Authority,
		Methods:  r.Methods,
	}
}

func NewRouter(rt *router.Table, m *metrics.Registry, log logrus.FieldLogger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/routes", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(Describe(rt)); err != nil {
			log.WithError(err).Warn("encode routes")
		}
	})
	return r
}
