package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fabian4/devproxy/internal/admin"
	cfg "github.com/fabian4/devproxy/internal/config"
	fwd "github.com/fabian4/devproxy/internal/forward"
	"github.com/fabian4/devproxy/internal/handler"
	"github.com/fabian4/devproxy/internal/metrics"
	"github.com/fabian4/devproxy/internal/middleware"
	"github.com/fabian4/devproxy/internal/router"
	"github.com/fabian4/devproxy/internal/upgrade"
	"github.com/fabian4/devproxy/internal/version"
)

const shutdownGrace = 5 * time.Second

func transportOptions(t cfg.Transport) fwd.Options {
	opts := fwd.DefaultOptions()
	if t.DialTimeout > 0 {
		opts.DialTimeout = t.DialTimeout
	}
	if t.MaxIdleConns > 0 {
		opts.MaxIdleConns = t.MaxIdleConns
	}
	if t.MaxIdleConnsPerHost > 0 {
		opts.MaxIdleConnsPerHost = t.MaxIdleConnsPerHost
	}
	if t.IdleConnTimeout > 0 {
		opts.IdleConnTimeout = t.IdleConnTimeout
	}
	if t.ResponseHeaderTimeout > 0 {
		opts.ResponseHeaderTimeout = t.ResponseHeaderTimeout
	}
	return opts
}

func serve(ctx context.Context, c *cfg.Config, log *logrus.Logger) error {
	rt, err := router.New(c.Routes)
	if err != nil {
		return err
	}

	m := metrics.NewRegistry()
	gw := handler.NewGateway(
		rt,
		c.Services,
		fwd.NewForwarder(fwd.NewRegistry(transportOptions(c.Transport)), c.Timeouts.Upstream, log),
		upgrade.NewNegotiator(c.Timeouts.Handshake, log, m),
		m,
		log,
	)

	srv := &http.Server{
		Addr:              c.Listen,
		Handler:           middleware.AccessLog(log)(gw),
		ReadTimeout:       c.Timeouts.Read,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      c.Timeouts.Write,
		IdleTimeout:       60 * time.Second,
	}
	// hijacked websocket connections are not tracked by Shutdown
	srv.RegisterOnShutdown(gw.Close)

	var adminSrv *http.Server
	if c.Admin != "" {
		adminSrv = &http.Server{
			Addr:              c.Admin,
			Handler:           admin.NewRouter(rt, m, log),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	log.WithFields(logrus.Fields{
		"version":  version.Value,
		"listen":   c.Listen,
		"admin":    c.Admin,
		"routes":   len(c.Routes),
		"services": len(c.Services),
	}).Info("devproxy starting")

	errc := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Wrap(err, "listen")
		}
	}()
	if adminSrv != nil {
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- errors.Wrap(err, "admin listen")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
	if adminSrv != nil {
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("admin shutdown")
		}
	}
	return runErr
}
