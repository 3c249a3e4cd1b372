package model

import "net/url"

// Service is a single upstream reachable at one base URL.
type Service struct {
	Name  string
	Proto string   // transport name: "http1" | "auto"
	URL   *url.URL // scheme + host only
}

// Route match + action.
type Route struct {
	Name       string
	PathPrefix string   // must start with "/"
	Service    string   // Service.Name
	Authority  string   // host[:port] of the service
	Scheme     string   // "http" | "https"
	Methods    []string // empty => any method
	// PreserveHost forwards the inbound Host header instead of the upstream authority.
	PreserveHost bool
	RateLimit    *RateLimit
}

// RateLimit is an optional token bucket applied to every request on a route.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// AllowsMethod reports whether m may be proxied on this route.
func (r Route) AllowsMethod(m string) bool {
	if len(r.Methods) == 0 {
		return true
	}
	for _, allowed := range r.Methods {
		if allowed == m {
			return true
		}
	}
	return false
}
