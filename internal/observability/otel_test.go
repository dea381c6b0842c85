package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		ServiceName:    "test-service",
		ServiceVersion: "0.0.1",
		Environment:    "test",
	}
}

func TestInitMeterProvider(t *testing.T) {
	mp, err := InitMeterProvider(testConfig())
	require.NoError(t, err)
	require.NotNil(t, mp.provider)
	require.NotNil(t, mp.Exporter())

	assert.NoError(t, mp.Shutdown(context.Background(), testLogger()))
}

func TestInitMetrics(t *testing.T) {
	mp, err := InitMeterProvider(testConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background(), testLogger())
	})

	metrics, err := InitMetrics(testLogger())
	require.NoError(t, err)

	assert.NotNil(t, metrics.requestDuration)
	assert.NotNil(t, metrics.requestCounter)
	assert.NotNil(t, metrics.errorCounter)
	assert.NotNil(t, metrics.activeRequests)
}

func TestParseOTLPProtocol(t *testing.T) {
	cases := []struct {
		input   string
		want    otlpProtocol
		wantErr bool
	}{
		{input: "", want: otlpProtocolGRPC},
		{input: "grpc", want: otlpProtocolGRPC},
		{input: "http", want: otlpProtocolHTTP},
		{input: "http/protobuf", want: otlpProtocolHTTP},
		{input: " GRPC ", want: otlpProtocolGRPC},
		{input: "thrift", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseOTLPProtocol(tc.input)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.input)
			continue
		}
		require.NoError(t, err, "input %q", tc.input)
		assert.Equal(t, tc.want, got, "input %q", tc.input)
	}
}

func TestBuildTLSConfig(t *testing.T) {
	t.Run("missing CA file", func(t *testing.T) {
		_, err := buildTLSConfig(OTLPExporterConfig{TLSCertFile: "/nonexistent/ca.pem"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read OTLP TLS CA file")
	})

	t.Run("CA file is not PEM", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ca.pem")
		require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0o600))

		_, err := buildTLSConfig(OTLPExporterConfig{TLSCertFile: path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse OTLP TLS CA file")
	})

	t.Run("client cert without key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "client.crt")
		require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0o600))

		_, err := buildTLSConfig(OTLPExporterConfig{TLSClientCertFile: path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "client cert and key must both be set")
	})
}

func samplingDecision(sampler sdktrace.Sampler, ctx context.Context, traceID trace.TraceID) sdktrace.SamplingDecision {
	return sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: ctx,
		TraceID:       traceID,
		Name:          "op",
	}).Decision
}

func TestTraceSamplerForRatio_Boundaries(t *testing.T) {
	never := samplingDecision(traceSamplerForRatio(0), context.Background(), trace.TraceID{1})
	assert.Equal(t, sdktrace.Drop, never)

	always := samplingDecision(traceSamplerForRatio(1), context.Background(), trace.TraceID{2})
	assert.Equal(t, sdktrace.RecordAndSample, always)
}

func TestTraceSamplerForRatio_MidRangeFollowsParent(t *testing.T) {
	sampler := traceSamplerForRatio(0.5)

	sampledParent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{3},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
	assert.Equal(t, sdktrace.RecordAndSample, samplingDecision(sampler, sampledParent, trace.TraceID{4}))

	droppedParent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{5},
		SpanID:  trace.SpanID{2},
		Remote:  true,
	}))
	assert.Equal(t, sdktrace.Drop, samplingDecision(sampler, droppedParent, trace.TraceID{6}))
}
