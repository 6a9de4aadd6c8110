package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"keyauthcli/internal/config"
	"keyauthcli/internal/infrastructure"
	"keyauthcli/internal/security"
	"keyauthcli/pkg/contracts"
	"keyauthcli/pkg/keyauth"
)

// session bundles everything one command invocation needs
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	otel     *infrastructure.OTelProviders
	client   *keyauth.Client
	closeLog func() error
}

// withSession loads the configuration, builds the client and runs fn.
// Telemetry is set up when enabled in the configuration or when forced.
func withSession(c *cli.Context, forceTelemetry bool, fn func(ctx context.Context, s *session) error) error {
	s, err := openSession(c, forceTelemetry)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer s.close()

	return fn(infrastructure.EnsureTraceID(c.Context), s)
}

func openSession(c *cli.Context, forceTelemetry bool) (*session, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if endpoint := c.String("endpoint"); endpoint != "" {
		cfg.Client.Endpoint = endpoint
	}
	if level := c.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog, err := infrastructure.NewLogger(cfg.Logging, c.App.ErrWriter)
	if err != nil {
		return nil, err
	}
	logger = infrastructure.WithComponent(logger, "cli")

	providers := infrastructure.NoopOTel()
	if cfg.Telemetry.Enabled || forceTelemetry {
		var traceWriter io.Writer
		if cfg.Telemetry.TraceStdout {
			traceWriter = c.App.Writer
		}
		providers, err = infrastructure.InitializeOTel(infrastructure.OTelConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: contracts.Version,
			TraceWriter:    traceWriter,
		}, logger)
		if err != nil {
			_ = closeLog()
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	abandon := func() {
		_ = providers.Shutdown(context.Background())
		_ = closeLog()
	}

	httpClient, err := newHTTPClient(cfg.HTTP, providers)
	if err != nil {
		abandon()
		return nil, err
	}

	opts := []keyauth.Option{
		keyauth.WithEndpoint(cfg.Client.Endpoint),
		keyauth.WithHTTPClient(httpClient),
		keyauth.WithLogger(logger),
		keyauth.WithMeterProvider(providers.MeterProvider),
		keyauth.WithTracerProvider(providers.TracerProvider),
	}
	if cfg.HTTP.UserAgent != "" {
		opts = append(opts, keyauth.WithUserAgent(cfg.HTTP.UserAgent))
	}

	client, err := keyauth.New(cfg.Identity(), opts...)
	if err != nil {
		abandon()
		return nil, err
	}

	return &session{
		cfg:      cfg,
		logger:   logger,
		otel:     providers,
		client:   client,
		closeLog: closeLog,
	}, nil
}

// newHTTPClient builds the instrumented outbound client. The server
// certificate is pinned when pins are configured.
func newHTTPClient(cfg config.HTTPConfig, providers *infrastructure.OTelProviders) (*http.Client, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	if len(cfg.Pins) > 0 {
		pinned, err := security.NewPinnedHTTPClient(security.PinningConfig{
			Pins:    cfg.Pins,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create pinned HTTP client: %w", err)
		}
		client = pinned
	}

	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = otelhttp.NewTransport(base,
		otelhttp.WithTracerProvider(providers.TracerProvider),
		otelhttp.WithMeterProvider(providers.MeterProvider),
	)
	return client, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
	}
	_ = s.closeLog()
}

// initialize runs the handshake unless the client already holds a session
func (s *session) initialize(ctx context.Context, c *cli.Context) error {
	return report(c, s.client.Initialize(ctx))
}

// login runs the handshake and authenticates the user named by the credential flags
func (s *session) login(ctx context.Context, c *cli.Context) error {
	if err := s.initialize(ctx, c); err != nil {
		return err
	}
	out := s.client.Login(ctx, c.String("username"), c.String("password"))
	if err := report(c, out); err != nil {
		return err
	}
	printAuthenticated(c, out)
	return nil
}

// report turns a non-successful outcome into an exit error
func report(c *cli.Context, out keyauth.Outcome) error {
	if out.Kind == keyauth.KindUpdateRequired {
		if out.DownloadURL != "" {
			fmt.Fprintf(c.App.Writer, "update required, download the latest version from %s\n", out.DownloadURL)
		} else {
			fmt.Fprintln(c.App.Writer, "update required")
		}
		return cli.Exit(out.Err().Error(), exitUpdateRequired)
	}
	if !out.OK() {
		return cli.Exit(out.Err().Error(), exitFailure)
	}
	return nil
}

func printAuthenticated(c *cli.Context, out keyauth.Outcome) {
	fmt.Fprintln(c.App.Writer, out.Message)
	if out.Revalidation != nil && !out.Revalidation.OK() {
		fmt.Fprintf(c.App.ErrWriter, "warning: session check after login failed: %v\n", out.Revalidation.Err())
	}
}
