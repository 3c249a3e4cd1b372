package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	nullLog "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/fabian4/devproxy/internal/config"
	"github.com/fabian4/devproxy/internal/model"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func waitForPort(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", addr)
}

func TestServe_EndToEnd(t *testing.T) {
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Hello from the server"))
	}))
	defer app.Close()
	ui := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer ui.Close()

	c := cfg.Default()
	c.Listen = freeAddr(t)
	c.Admin = freeAddr(t)
	for name, raw := range map[string]string{"app": app.URL, "ui": ui.URL} {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		c.Services[name] = model.Service{Name: name, Proto: "http1", URL: u}
		for i := range c.Routes {
			if c.Routes[i].Service == name {
				c.Routes[i].Authority = u.Host
			}
		}
	}

	logger, hook := nullLog.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, c, logger) }()

	waitForPort(t, c.Listen)
	waitForPort(t, c.Admin)
	client := &http.Client{Timeout: 5 * time.Second}

	res, err := client.Get("http://" + c.Listen + "/api/greet")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Hello from the server", string(body))

	res, err = client.Get("http://" + c.Listen + "/sign-in")
	require.NoError(t, err)
	body, _ = io.ReadAll(res.Body)
	_ = res.Body.Close()
	assert.Equal(t, "<html></html>", string(body))

	res, err = client.Get("http://" + c.Admin + "/healthz")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	var sawAccess bool
	for _, e := range hook.AllEntries() {
		if e.Message == "finished request" && e.Data["uri"] == "/api/greet" {
			sawAccess = true
		}
	}
	assert.True(t, sawAccess, "access log entry for /api/greet")
}
