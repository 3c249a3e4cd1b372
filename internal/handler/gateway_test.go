package handler

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	nullLog "github.com/sirupsen/logrus/hooks/test"

	fwd "github.com/fabian4/devproxy/internal/forward"
	"github.com/fabian4/devproxy/internal/metrics"
	"github.com/fabian4/devproxy/internal/model"
	"github.com/fabian4/devproxy/internal/router"
	"github.com/fabian4/devproxy/internal/upgrade"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	if err != nil {
		t.Fatalf("parse url %q: %v", s, err)
	}
	return u
}

// devLayout sends /api/ to app and everything else to ui.
func devLayout(t *testing.T, app, ui string) ([]model.Route, map[string]model.Service) {
	t.Helper()
	appURL, uiURL := mustURL(t, app), mustURL(t, ui)
	svcs := map[string]model.Service{
		"app": {Name: "app", Proto: "http1", URL: appURL},
		"ui":  {Name: "ui", Proto: "http1", URL: uiURL},
	}
	rs := []model.Route{
		{Name: "api", PathPrefix: "/api/", Service: "app", Authority: appURL.Host, Scheme: appURL.Scheme},
		{Name: "default", PathPrefix: "/", Service: "ui", Authority: uiURL.Host, Scheme: uiURL.Scheme},
	}
	return rs, svcs
}

func newTestGateway(t *testing.T, rs []model.Route, svcs map[string]model.Service) (*Gateway, *nullLog.Hook) {
	t.Helper()
	rt, err := router.New(rs)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	logger, hook := nullLog.NewNullLogger()
	m := metrics.NewRegistry()
	f := fwd.NewForwarder(fwd.NewDefaultRegistry(), 2*time.Second, logger)
	n := upgrade.NewNegotiator(time.Second, logger, m)
	gw := NewGateway(rt, svcs, f, n, m, logger)
	t.Cleanup(gw.Close)
	return gw, hook
}

func TestGateway_BasicRouteAndHeaders(t *testing.T) {
	var seenHost, seenPath, seenConn, seenUpgrade, seenXFP, seenXFF string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenHost = r.Host
		seenPath = r.URL.RequestURI()
		seenConn = r.Header.Get("Connection")
		seenUpgrade = r.Header.Get("Upgrade")
		seenXFP = r.Header.Get("X-Forwarded-Proto")
		seenXFF = r.Header.Get("X-Forwarded-For")
		w.Header().Set("X-Up", "ok")
		_, _ = w.Write([]byte("hello"))
	}))
	defer up.Close()

	rs, svcs := devLayout(t, up.URL, "http://127.0.0.1:1")
	gw, _ := newTestGateway(t, rs, svcs)

	req := httptest.NewRequest("GET", "http://localhost:8080/api/greet?x=1", nil)
	req.RemoteAddr = "203.0.113.10:54321"
	req.TLS = &tls.ConnectionState{}
	// hop-by-hop on purpose; should be removed
	req.Header.Set("Connection", "keep-alive, FooHop")
	req.Header.Set("FooHop", "1")

	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if rr.Body.String() != "hello" {
		t.Fatalf("body: got %q, want %q", rr.Body.String(), "hello")
	}
	if rr.Header().Get("X-Up") != "ok" {
		t.Fatalf("upstream headers not forwarded downstream")
	}
	if seenPath != "/api/greet?x=1" {
		t.Fatalf("upstream path: got %q", seenPath)
	}
	if seenHost != mustURL(t, up.URL).Host {
		t.Fatalf("upstream Host: got %q, want %q", seenHost, mustURL(t, up.URL).Host)
	}
	if seenConn != "" || seenUpgrade != "" {
		t.Fatalf("hop-by-hop leaked: Connection=%q Upgrade=%q", seenConn, seenUpgrade)
	}
	if seenXFP != "https" || seenXFF != "203.0.113.10" {
		t.Fatalf("X-Forwarded-*: XFP=%q XFF=%q", seenXFP, seenXFF)
	}
}

func TestGateway_FallbackRoute(t *testing.T) {
	var hitsApp, hitsUI int
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hitsApp++ }))
	defer app.Close()
	ui := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsUI++
		_, _ = w.Write([]byte("<html>" + r.URL.Path + "</html>"))
	}))
	defer ui.Close()

	rs, svcs := devLayout(t, app.URL, ui.URL)
	gw, _ := newTestGateway(t, rs, svcs)

	for _, p := range []string{"/", "/sign-in", "/apix", "/api"} {
		rr := httptest.NewRecorder()
		gw.ServeHTTP(rr, httptest.NewRequest("GET", "http://localhost:8080"+p, nil))
		if rr.Code != 200 || rr.Body.String() != "<html>"+p+"</html>" {
			t.Fatalf("%s: got %d %q", p, rr.Code, rr.Body.String())
		}
	}
	if hitsApp != 0 || hitsUI != 4 {
		t.Fatalf("hits: app=%d ui=%d", hitsApp, hitsUI)
	}
}

func TestGateway_UnreachableUpstream(t *testing.T) {
	ln := httptest.NewServer(http.NotFoundHandler())
	dead := ln.URL
	ln.Close()

	rs, svcs := devLayout(t, dead, dead)
	gw, hook := newTestGateway(t, rs, svcs)

	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, httptest.NewRequest("GET", "http://localhost:8080/api/greet", nil))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want 502", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) == "" {
		t.Fatalf("502 body should describe the failure")
	}
	last := hook.LastEntry()
	if last == nil || last.Message != "upstream error" {
		t.Fatalf("expected upstream error log, got %+v", last)
	}
}

func TestGateway_RepeatedRequestsAreIndependent(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Hello from the server"))
	}))
	defer up.Close()

	rs, svcs := devLayout(t, up.URL, up.URL)
	gw, _ := newTestGateway(t, rs, svcs)

	var bodies []string
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		gw.ServeHTTP(rr, httptest.NewRequest("GET", "http://localhost:8080/api/greet", nil))
		bodies = append(bodies, rr.Body.String())
	}
	if bodies[0] != bodies[1] || bodies[0] != "Hello from the server" {
		t.Fatalf("responses differ: %q", bodies)
	}
}

func TestGateway_PreserveHost(t *testing.T) {
	var seenHost string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenHost = r.Host
		w.WriteHeader(204)
	}))
	defer up.Close()

	rs, svcs := devLayout(t, up.URL, up.URL)
	rs[1].PreserveHost = true
	gw, _ := newTestGateway(t, rs, svcs)

	req := httptest.NewRequest("GET", "http://localhost:8080/", nil)
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, req)

	if rr.Code != 204 {
		t.Fatalf("status: got %d, want 204", rr.Code)
	}
	if seenHost != "localhost:8080" {
		t.Fatalf("preserve host: got %q, want %q", seenHost, "localhost:8080")
	}
}

func TestGateway_MethodNotAllowed(t *testing.T) {
	var hits int
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer up.Close()

	rs, svcs := devLayout(t, up.URL, up.URL)
	rs[1].Methods = []string{"GET", "HEAD"}
	gw, _ := newTestGateway(t, rs, svcs)

	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, httptest.NewRequest("DELETE", "http://localhost:8080/index.html", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status: got %d, want 405", rr.Code)
	}
	if rr.Header().Get("Allow") != "GET, HEAD" {
		t.Fatalf("Allow: got %q", rr.Header().Get("Allow"))
	}
	if hits != 0 {
		t.Fatalf("upstream should not be contacted")
	}
}

func TestGateway_RateLimit(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer up.Close()

	rs, svcs := devLayout(t, up.URL, up.URL)
	rs[0].RateLimit = &model.RateLimit{RequestsPerSecond: 0.001, Burst: 1}
	gw, _ := newTestGateway(t, rs, svcs)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		gw.ServeHTTP(rr, httptest.NewRequest("GET", "http://localhost:8080/api/greet", nil))
		codes = append(codes, rr.Code)
	}
	if codes[0] != 200 || codes[1] != 429 || codes[2] != 429 {
		t.Fatalf("codes: got %v, want [200 429 429]", codes)
	}

	// other routes keep their own budget
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, httptest.NewRequest("GET", "http://localhost:8080/", nil))
	if rr.Code != 200 {
		t.Fatalf("fallback route: got %d, want 200", rr.Code)
	}
}

func TestGateway_LogsDispatch(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer up.Close()

	rs, svcs := devLayout(t, up.URL, up.URL)
	gw, hook := newTestGateway(t, rs, svcs)

	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, httptest.NewRequest("GET", "http://localhost:8080/api/greet?x=1", nil))

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Message != "dispatch" {
			continue
		}
		found = true
		if e.Data["route"] != "api" || e.Data["upstream"] != "app" {
			t.Fatalf("dispatch fields: %v", e.Data)
		}
		if e.Data["from"] != "/api/greet?x=1" {
			t.Fatalf("from: got %v", e.Data["from"])
		}
		if e.Data["to"] != up.URL+"/api/greet?x=1" {
			t.Fatalf("to: got %v", e.Data["to"])
		}
	}
	if !found {
		t.Fatalf("no dispatch log entry")
	}
}

func TestGateway_WebsocketUpgrade(t *testing.T) {
	var seenPath string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.RequestURI()
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(typ, msg); err != nil {
				return
			}
		}
	}))
	defer up.Close()

	rs, svcs := devLayout(t, up.URL, "http://127.0.0.1:1")
	gw, _ := newTestGateway(t, rs, svcs)
	proxy := httptest.NewServer(gw)
	defer proxy.Close()

	client, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(proxy.URL, "http")+"/api/stream?room=2", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status: got %d, want 101", resp.StatusCode)
	}
	if seenPath != "/api/stream?room=2" {
		t.Fatalf("upstream path: got %q", seenPath)
	}

	if err := client.WriteMessage(websocket.TextMessage, []byte("echo me")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, msg, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.TextMessage || string(msg) != "echo me" {
		t.Fatalf("echo: got %d %q", typ, msg)
	}
}

func TestGateway_PlainRequestToWebsocketRoute(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_, _ = w.Write(b)
	}))
	defer up.Close()

	rs, svcs := devLayout(t, up.URL, up.URL)
	gw, _ := newTestGateway(t, rs, svcs)

	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, httptest.NewRequest("POST", "http://localhost:8080/api/stream", strings.NewReader("payload")))
	if rr.Code != 200 || rr.Body.String() != "payload" {
		t.Fatalf("got %d %q", rr.Code, rr.Body.String())
	}
}
