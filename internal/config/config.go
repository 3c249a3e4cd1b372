package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/fabian4/devproxy/internal/model"
)

type rawConfig struct {
	EntryPoint []struct {
		Name    string `yaml:"name"`
		Address string `yaml:"address"`
	} `yaml:"entrypoint"`
	Admin struct {
		Address  string `yaml:"address"`
		Disabled bool   `yaml:"disabled"`
	} `yaml:"admin"`
	Services []struct {
		Name  string `yaml:"name"`
		Proto string `yaml:"proto"`
		URL   string `yaml:"url"`
	} `yaml:"services"`
	Routes []struct {
		Name  string `yaml:"name"`
		Match struct {
			PathPrefix string `yaml:"path_prefix"`
		} `yaml:"match"`
		Service string   `yaml:"service"`
		Methods []string `yaml:"methods"`
		Options struct {
			PreserveHost bool `yaml:"preserve_host"`
			RateLimit    *struct {
				RequestsPerSecond float64 `yaml:"requests_per_second"`
				Burst             int     `yaml:"burst"`
			} `yaml:"rate_limit"`
		} `yaml:"options"`
	} `yaml:"routes"`
	Timeouts struct {
		Read      string `yaml:"read"`
		Write     string `yaml:"write"`
		Upstream  string `yaml:"upstream"`
		Handshake string `yaml:"handshake"`
	} `yaml:"timeouts"`
	Transport struct {
		DialTimeout           string `yaml:"dial_timeout"`
		MaxIdleConns          int    `yaml:"max_idle_conns"`
		MaxIdleConnsPerHost   int    `yaml:"max_idle_conns_per_host"`
		IdleConnTimeout       string `yaml:"idle_conn_timeout"`
		ResponseHeaderTimeout string `yaml:"response_header_timeout"`
	} `yaml:"transport"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"log"`
}

// Default is the local development layout: /api/ and /oauth/ go to the app
// server on :8000, everything else to the UI dev server on :1234.
func Default() *Config {
	app := &url.URL{Scheme: "http", Host: "127.0.0.1:8000"}
	ui := &url.URL{Scheme: "http", Host: "127.0.0.1:1234"}
	return &Config{
		Listen: "127.0.0.1:8080",
		Admin:  "127.0.0.1:9090",
		Services: map[string]model.Service{
			"app": {Name: "app", Proto: "http1", URL: app},
			"ui":  {Name: "ui", Proto: "http1", URL: ui},
		},
		Routes: []model.Route{
			{Name: "api", PathPrefix: "/api/", Service: "app", Authority: app.Host, Scheme: app.Scheme, Methods: []string{"GET", "HEAD", "POST"}},
			{Name: "oauth", PathPrefix: "/oauth/", Service: "app", Authority: app.Host, Scheme: app.Scheme, Methods: []string{"GET", "HEAD", "POST"}},
			{Name: "default", PathPrefix: "/", Service: "ui", Authority: ui.Host, Scheme: ui.Scheme, Methods: []string{"GET", "HEAD"}},
		},
		Timeouts: Timeouts{Handshake: DefaultHandshakeTimeout},
		Log:      Log{Level: "info", Format: "text"},
	}
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var rc rawConfig
	if err := yaml.Unmarshal(b, &rc); err != nil {
		return nil, errors.Wrap(err, "yaml")
	}

	// listen
	listen := ":8080"
	if len(rc.EntryPoint) > 0 && strings.TrimSpace(rc.EntryPoint[0].Address) != "" {
		listen = strings.TrimSpace(rc.EntryPoint[0].Address)
	}
	admin := strings.TrimSpace(rc.Admin.Address)
	if rc.Admin.Disabled {
		admin = ""
	}

	// services
	svcs := make(map[string]model.Service)
	for i, s := range rc.Services {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, errors.Errorf("services[%d]: name is required", i)
		}
		proto := strings.ToLower(strings.TrimSpace(s.Proto))
		if proto == "" {
			proto = "http1"
		}
		switch proto {
		case "http1", "auto":
		default:
			return nil, errors.Errorf("services[%d]: unknown proto %q", i, proto)
		}
		u, err := url.Parse(strings.TrimSpace(s.URL))
		if err != nil {
			return nil, errors.Wrapf(err, "services[%d].url", i)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, errors.Errorf("services[%d]: url must be http(s) URL with host", i)
		}
		if (u.Path != "" && u.Path != "/") || u.RawQuery != "" {
			return nil, errors.Errorf("services[%d]: url must not carry a path or query", i)
		}
		if _, dup := svcs[name]; dup {
			return nil, errors.Errorf("services: duplicate name %q", name)
		}
		svcs[name] = model.Service{
			Name:  name,
			Proto: proto,
			URL:   &url.URL{Scheme: u.Scheme, Host: u.Host},
		}
	}
	if len(svcs) == 0 {
		return nil, errors.New("services: at least one is required")
	}

	// routes, kept in file order: first match wins
	var routes []model.Route
	seen := make(map[string]bool)
	for i, r := range rc.Routes {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			name = fmt.Sprintf("route-%d", i)
		}
		if seen[name] {
			return nil, errors.Errorf("routes[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		pfx := strings.TrimSpace(r.Match.PathPrefix)
		if !strings.HasPrefix(pfx, "/") {
			return nil, errors.Errorf("routes[%d]: path_prefix must start with '/'", i)
		}
		service := strings.TrimSpace(r.Service)
		if service == "" {
			return nil, errors.Errorf("routes[%d]: service (service name) is required", i)
		}
		svc, ok := svcs[service]
		if !ok {
			return nil, errors.Errorf("routes[%d]: service=%q not found in services", i, service)
		}
		var methods []string
		for _, m := range r.Methods {
			m = strings.ToUpper(strings.TrimSpace(m))
			if m != "" {
				methods = append(methods, m)
			}
		}
		rt := model.Route{
			Name:         name,
			PathPrefix:   pfx,
			Service:      service,
			Authority:    svc.URL.Host,
			Scheme:       svc.URL.Scheme,
			Methods:      methods,
			PreserveHost: r.Options.PreserveHost,
		}
		if rl := r.Options.RateLimit; rl != nil {
			if rl.RequestsPerSecond <= 0 || rl.Burst <= 0 {
				return nil, errors.Errorf("routes[%d]: rate_limit needs positive requests_per_second and burst", i)
			}
			rt.RateLimit = &model.RateLimit{RequestsPerSecond: rl.RequestsPerSecond, Burst: rl.Burst}
		}
		routes = append(routes, rt)
	}

	// timeouts
	var timeouts Timeouts
	var err error
	if timeouts.Read, err = parseDuration("timeouts.read", rc.Timeouts.Read, 0); err != nil {
		return nil, err
	}
	if timeouts.Write, err = parseDuration("timeouts.write", rc.Timeouts.Write, 0); err != nil {
		return nil, err
	}
	if timeouts.Upstream, err = parseDuration("timeouts.upstream", rc.Timeouts.Upstream, 0); err != nil {
		return nil, err
	}
	if timeouts.Handshake, err = parseDuration("timeouts.handshake", rc.Timeouts.Handshake, DefaultHandshakeTimeout); err != nil {
		return nil, err
	}
	if timeouts.Handshake <= 0 {
		return nil, errors.New("timeouts.handshake: must be positive")
	}

	// transport
	tr := Transport{
		MaxIdleConns:        rc.Transport.MaxIdleConns,
		MaxIdleConnsPerHost: rc.Transport.MaxIdleConnsPerHost,
	}
	if tr.DialTimeout, err = parseDuration("transport.dial_timeout", rc.Transport.DialTimeout, 0); err != nil {
		return nil, err
	}
	if tr.IdleConnTimeout, err = parseDuration("transport.idle_conn_timeout", rc.Transport.IdleConnTimeout, 0); err != nil {
		return nil, err
	}
	if tr.ResponseHeaderTimeout, err = parseDuration("transport.response_header_timeout", rc.Transport.ResponseHeaderTimeout, 0); err != nil {
		return nil, err
	}

	lg := Log{Level: "info", Format: "text", File: strings.TrimSpace(rc.Log.File)}
	if v := strings.ToLower(strings.TrimSpace(rc.Log.Level)); v != "" {
		lg.Level = v
	}
	if v := strings.ToLower(strings.TrimSpace(rc.Log.Format)); v != "" {
		if v != "text" && v != "json" && v != "mozlog" {
			return nil, errors.Errorf("log.format: unknown format %q", v)
		}
		lg.Format = v
	}

	return &Config{
		Listen:    listen,
		Admin:     admin,
		Services:  svcs,
		Routes:    routes,
		Timeouts:  timeouts,
		Transport: tr,
		Log:       lg,
	}, nil
}

func parseDuration(field, v string, def time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrap(err, field)
	}
	return d, nil
}
