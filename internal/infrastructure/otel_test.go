package infrastructure

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInitializeOTel(t *testing.T) {
	t.Run("metrics on registry", func(t *testing.T) {
		providers, err := InitializeOTel(OTelConfig{ServiceName: "keyauth-cli", ServiceVersion: "test"}, discardLogger())
		require.NoError(t, err)
		defer providers.Shutdown(context.Background())

		counter, err := providers.MeterProvider.Meter("test").Int64Counter("cli_checks")
		require.NoError(t, err)
		counter.Add(context.Background(), 3)

		rec := httptest.NewRecorder()
		providers.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "cli_checks")
		assert.Contains(t, body, "go_goroutines")
	})

	t.Run("stdout traces", func(t *testing.T) {
		var buf bytes.Buffer
		providers, err := InitializeOTel(OTelConfig{ServiceName: "keyauth-cli", ServiceVersion: "test", TraceWriter: &buf}, discardLogger())
		require.NoError(t, err)

		ctx, span := providers.TracerProvider.Tracer("test").Start(context.Background(), "keyauth.check")
		assert.NotEmpty(t, TraceIDFromContext(ctx))
		assert.Equal(t, TraceIDFromContext(ctx), GetTraceID(ctx))
		span.End()

		require.NoError(t, providers.Shutdown(context.Background()))
		assert.Contains(t, buf.String(), "keyauth.check")
	})
}

func TestNoopOTel(t *testing.T) {
	providers := NoopOTel()
	require.NoError(t, providers.Shutdown(context.Background()))

	ctx, span := providers.TracerProvider.Tracer("test").Start(context.Background(), "noop")
	defer span.End()
	assert.Empty(t, TraceIDFromContext(ctx))
}
