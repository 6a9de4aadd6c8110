package keyauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	api "keyauthcli/pkg/contracts/api/v1"
	"keyauthcli/pkg/keyauth/keyauthtest"
)

var otelApp = keyauthtest.App{OwnerID: "owner", Name: "otel-app", Secret: "otel-secret", Version: "2.0"}

func sumCounter(t *testing.T, rm metricdata.ResourceMetrics, name string, match attribute.KeyValue) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if v, found := dp.Attributes.Value(match.Key); found && v == match.Value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestTelemetry(t *testing.T) {
	ctx := context.Background()
	srv := keyauthtest.NewServer(otelApp)
	defer srv.Close()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	c, err := New(Identity{OwnerID: otelApp.OwnerID, AppName: otelApp.Name, Secret: otelApp.Secret, Version: otelApp.Version},
		WithEndpoint(srv.Endpoint()),
		WithHTTPClient(srv.Client()),
		WithMeterProvider(mp),
		WithTracerProvider(tp),
	)
	require.NoError(t, err)

	require.Equal(t, KindCompleted, c.Initialize(ctx).Kind)
	srv.SetOverride(api.TypeCheck, keyauthtest.Override{Signature: str("forged")})
	require.Equal(t, KindTampered, c.CheckSession(ctx).Kind)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.Equal(t, int64(1), sumCounter(t, rm, "keyauth_requests_total", attribute.String("type", "init")))
	assert.Equal(t, int64(1), sumCounter(t, rm, "keyauth_outcomes_total", attribute.String("kind", "completed")))
	assert.Equal(t, int64(1), sumCounter(t, rm, "keyauth_outcomes_total", attribute.String("kind", "tampered")))
	assert.Equal(t, int64(1), sumCounter(t, rm, "keyauth_tampered_responses_total", attribute.String("type", "check")))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "keyauth.init", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "keyauth.check", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func str(s string) *string { return &s }
