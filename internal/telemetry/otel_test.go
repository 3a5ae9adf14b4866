package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInitTracer(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{
			name: "insecure collector",
			opts: Options{ServiceName: "portal-identity", Version: "test", Endpoint: "localhost:4318", Insecure: true, SampleRatio: 1},
		},
		{
			name: "tls collector with ratio",
			opts: Options{ServiceName: "portal-identity", Endpoint: "collector.example.com:4318", SampleRatio: 0.1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			// The exporter connects lazily, so no collector is needed.
			tp, err := InitTracer(ctx, tt.opts)
			require.NoError(t, err)
			require.NotNil(t, tp)
			assert.NoError(t, Shutdown(ctx, tp))
		})
	}
}

func TestShutdown_NilProvider(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Shutdown(context.Background(), nil))
}

func TestSampler(t *testing.T) {
	t.Parallel()

	traceID := trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	sampledParent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))

	tests := []struct {
		name     string
		ratio    float64
		ctx      context.Context
		wantRoot sdktrace.SamplingDecision
	}{
		{name: "always", ratio: 1, ctx: context.Background(), wantRoot: sdktrace.RecordAndSample},
		{name: "never", ratio: 0, ctx: context.Background(), wantRoot: sdktrace.Drop},
		{name: "never still follows sampled parent", ratio: 0, ctx: sampledParent, wantRoot: sdktrace.RecordAndSample},
		// The max trace ID is above every ratio bound.
		{name: "ratio drops high trace id", ratio: 0.5, ctx: context.Background(), wantRoot: sdktrace.Drop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := Sampler(tt.ratio).ShouldSample(sdktrace.SamplingParameters{
				ParentContext: tt.ctx,
				TraceID:       traceID,
				Name:          "oidc.callback",
				Kind:          trace.SpanKindServer,
			})
			assert.Equal(t, tt.wantRoot, res.Decision)
		})
	}
}
