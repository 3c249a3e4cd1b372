package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fabian4/devproxy/internal/app"
	"github.com/fabian4/devproxy/internal/app/oauth"
	"github.com/fabian4/devproxy/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		listen    = "127.0.0.1:8000"
		dist      = "ui/dist"
		tokenURL  = oauth.DefaultTokenURL
		logLevel  = "info"
		logFormat = "text"
	)
	c := cobra.Command{
		Use:           "appserver",
		Short:         "Serve the API, the GitHub sign-in callback and the built UI",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := logging.New("appserver", logLevel, logFormat)
			if err != nil {
				return err
			}
			secret, err := oauth.SecretFromEnv()
			if err != nil {
				return err
			}
			oc := oauth.NewClient(secret, log)
			oc.TokenURL = tokenURL

			srv := &http.Server{
				Addr:              listen,
				Handler:           app.NewRouter(app.Options{Dist: dist, OAuth: oc}, log),
				ReadHeaderTimeout: 10 * time.Second,
			}
			log.WithField("listen", listen).WithField("dist", dist).Info("appserver starting")

			errc := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- errors.Wrap(err, "listen")
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			select {
			case <-ctx.Done():
			case err := <-errc:
				return err
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	c.Flags().StringVar(&listen, "listen", listen, "address to listen on")
	c.Flags().StringVar(&dist, "dist", dist, "directory holding the built single-page app")
	c.Flags().StringVar(&tokenURL, "token-url", tokenURL, "GitHub OAuth token endpoint")
	c.Flags().StringVarP(&logLevel, "log-level", "l", logLevel, "log level (debug|info|warn|error)")
	c.Flags().StringVar(&logFormat, "log-format", logFormat, "log format (text|json|mozlog)")
	return &c
}
