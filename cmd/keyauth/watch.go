package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/urfave/cli/v2"

	"keyauthcli/pkg/keyauth"
)

const defaultWatchInterval = 30 * time.Second

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Log in, then check the session periodically and serve /metrics",
		Flags: append(credentialFlags(),
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Time between session checks",
				Value: defaultWatchInterval,
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Listen address for /metrics (overrides telemetry.metrics_addr)",
			},
		),
		Action: func(c *cli.Context) error {
			return withSession(c, true, func(ctx context.Context, s *session) error {
				if c.Duration("interval") <= 0 {
					return cli.Exit("interval must be positive", exitFailure)
				}
				addr := c.String("metrics-addr")
				if addr == "" {
					addr = s.cfg.Telemetry.MetricsAddr
				}

				stop, err := serveMetrics(s, addr)
				if err != nil {
					return cli.Exit(err.Error(), exitFailure)
				}
				defer stop()

				if err := s.login(ctx, c); err != nil {
					return err
				}
				return watch(ctx, s, c.Duration("interval"))
			})
		},
	}
}

// serveMetrics starts the metrics endpoint and returns a function that stops it
func serveMetrics(s *session, addr string) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", s.otel.MetricsHandler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.client.LoggedIn() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("Serving metrics", slog.String("addr", listener.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// watch checks the session every interval until ctx is done. A rejected
// or forged response ends the watch; transport problems are logged and retried.
func watch(ctx context.Context, s *session, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Watch stopped")
			return nil
		case <-ticker.C:
		}

		out := s.client.CheckSession(ctx)
		switch {
		case out.OK():
			s.logger.Debug("Session still valid")
		case out.Kind == keyauth.KindLogicalFailure:
			return cli.Exit(fmt.Sprintf("session rejected: %s", out.Message), exitFailure)
		case out.Kind == keyauth.KindTampered:
			return cli.Exit(out.Err().Error(), exitFailure)
		case ctx.Err() != nil:
			s.logger.Info("Watch stopped")
			return nil
		default:
			s.logger.Warn("Session check failed",
				slog.String("kind", out.Kind.String()),
				slog.String("error", out.Err().Error()),
			)
		}
	}
}
