package handler

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	fwd "github.com/fabian4/devproxy/internal/forward"
	"github.com/fabian4/devproxy/internal/metrics"
	"github.com/fabian4/devproxy/internal/model"
	"github.com/fabian4/devproxy/internal/ratelimit"
	"github.com/fabian4/devproxy/internal/rewrite"
	"github.com/fabian4/devproxy/internal/router"
	"github.com/fabian4/devproxy/internal/upgrade"
)

// Gateway dispatches every inbound request to the upstream of its route,
// either as a websocket session or as a single forwarded request.
type Gateway struct {
	Routes    *router.Table
	Services  map[string]model.Service
	Forwarder *fwd.Forwarder
	Upgrades  *upgrade.Negotiator
	Limiter   *ratelimit.Limiter
	Metrics   *metrics.Registry
	Log       logrus.FieldLogger
}

func NewGateway(rt *router.Table, svcs map[string]model.Service, f *fwd.Forwarder, n *upgrade.Negotiator, m *metrics.Registry, log logrus.FieldLogger) *Gateway {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Gateway{
		Routes:    rt,
		Services:  svcs,
		Forwarder: f,
		Upgrades:  n,
		Limiter:   ratelimit.NewLimiter(),
		Metrics:   m,
		Log:       log,
	}
}

var _ http.Handler = (*Gateway)(nil)

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	route := g.Routes.Route(r.URL.Path)
	target := rewrite.Rewrite(r.URL, route.Authority, route.Scheme)

	g.Log.WithFields(logrus.Fields{
		"route":    route.Name,
		"upstream": route.Service,
		"from":     r.URL.RequestURI(),
		"to":       target.String(),
	}).Info("dispatch")

	status := g.dispatch(w, r, route, target)
	g.Metrics.IncRequest(route.Service, route.Name, r.Method, strconv.Itoa(status))
	if status != http.StatusSwitchingProtocols {
		g.Metrics.ObserveLatency(route.Service, route.Name, time.Since(start))
	}
}

func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request, route *model.Route, target *url.URL) int {
	if !route.AllowsMethod(r.Method) {
		w.Header().Set("Allow", strings.Join(route.Methods, ", "))
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return http.StatusMethodNotAllowed
	}
	if rl := route.RateLimit; rl != nil {
		cfg := ratelimit.Config{RequestsPerSecond: rl.RequestsPerSecond, Burst: rl.Burst}
		if !g.Limiter.Allow(route.Name, cfg) {
			g.Metrics.IncRateLimited(route.Name)
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return http.StatusTooManyRequests
		}
	}

	if h, ok := g.Upgrades.TryUpgrade(r, target, route.Service); ok {
		return h.Serve(w)
	}

	svc := g.Services[route.Service]
	return g.Forwarder.Forward(w, r, fwd.Target{
		URL:          target,
		Proto:        svc.Proto,
		PreserveHost: route.PreserveHost,
	})
}

// Close ends open websocket sessions and drops idle upstream connections.
func (g *Gateway) Close() {
	g.Upgrades.Close()
	g.Forwarder.Transports.CloseIdle()
}
