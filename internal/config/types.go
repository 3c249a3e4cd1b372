package config

import (
	"time"

	"github.com/fabian4/devproxy/internal/model"
)

type Config struct {
	Listen    string
	Admin     string // empty disables the admin listener
	Services  map[string]model.Service
	Routes    []model.Route // priority order, catch-all last
	Timeouts  Timeouts
	Transport Transport
	Log       Log
}

type Timeouts struct {
	Read      time.Duration
	Write     time.Duration
	Upstream  time.Duration // plain forwards only, 0 disables
	Handshake time.Duration // outbound websocket handshake
}

// Transport tunes the pooled upstream client. Zero values keep the forward defaults.
type Transport struct {
	DialTimeout           time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	ResponseHeaderTimeout time.Duration
}

type Log struct {
	Level  string // logrus level name
	Format string // "text" | "json" | "mozlog"
	File   string // rotated log file, empty for stderr
}

const DefaultHandshakeTimeout = 1000 * time.Millisecond
