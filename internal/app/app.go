// Package app is the application server behind the /api/ and /oauth/ routes.
// Everything else it serves from the built single-page app.
package app

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/fabian4/devproxy/internal/app/oauth"
	"github.com/fabian4/devproxy/internal/middleware"
)

const Greeting = "Hello from the server"

type Options struct {
	Dist  string // built SPA directory
	OAuth *oauth.Client
}

func NewRouter(opts Options, log logrus.FieldLogger) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer, middleware.AccessLog(log))

	r.Route("/api", func(r chi.Router) {
		r.Get("/greet", greet)
		r.HandleFunc("/", noRoute)
		r.HandleFunc("/*", noRoute)
	})
	r.Route("/oauth", func(r chi.Router) {
		r.Get("/callback/github", opts.OAuth.Callback)
		r.HandleFunc("/", noRoute)
		r.HandleFunc("/*", noRoute)
	})
	r.Handle("/*", SPA(opts.Dist))
	return r
}

func greet(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(Greeting))
}

func noRoute(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = fmt.Fprintf(w, "No route for %s", r.URL.RequestURI())
}
