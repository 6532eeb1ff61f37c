package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func clearEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"OTEL_ENABLED",
		"OTEL_SERVICE_NAME",
		"OTEL_SERVICE_VERSION",
		"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT",
		"OTEL_EXPORTER_OTLP_TRACES_TIMEOUT",
		"OTEL_EXPORTER_OTLP_LOGS_ENDPOINT",
		"KUBERNETES_SERVICE_HOST",
	} {
		// Setenv registers the restore; the empty value reads as unset.
		t.Setenv(key, "")
	}
}

func TestLoadConfigFromEnv(t *testing.T) { //nolint:paralleltest
	tests := []struct {
		name     string
		env      map[string]string
		expected Config
	}{
		{
			name: "defaults",
			expected: Config{
				ServiceVersion: defaultServiceVersion,
				Environment:    "test",
				Timeout:        defaultTimeout,
			},
		},
		{
			name: "kubernetes collector",
			env:  map[string]string{"KUBERNETES_SERVICE_HOST": "10.0.0.1"},
			expected: Config{
				ServiceVersion: defaultServiceVersion,
				Environment:    "test",
				Timeout:        defaultTimeout,
				Endpoint:       "http://opentelemetry-collector.opentelemetry.svc.cluster.local:4318",
			},
		},
		{
			name: "explicit",
			env: map[string]string{
				"KUBERNETES_SERVICE_HOST":            "10.0.0.1",
				"OTEL_ENABLED":                       "true",
				"OTEL_SERVICE_NAME":                  "stagectl",
				"OTEL_SERVICE_VERSION":               "2.1.0",
				"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT": "http://collector:4318/v1/traces",
				"OTEL_EXPORTER_OTLP_TRACES_TIMEOUT":  "2s",
				"OTEL_EXPORTER_OTLP_LOGS_ENDPOINT":   "http://collector:4318/v1/logs",
			},
			expected: Config{
				ServiceName:    "stagectl",
				ServiceVersion: "2.1.0",
				Environment:    "test",
				Enabled:        true,
				Timeout:        2 * time.Second,
				Endpoint:       "http://collector:4318/v1/traces",
				LogsEndpoint:   "http://collector:4318/v1/logs",
			},
		},
		{
			name: "timeout in milliseconds",
			env:  map[string]string{"OTEL_EXPORTER_OTLP_TRACES_TIMEOUT": "1500"},
			expected: Config{
				ServiceVersion: defaultServiceVersion,
				Environment:    "test",
				Timeout:        1500 * time.Millisecond,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)

			for key, value := range tt.env {
				t.Setenv(key, value)
			}

			cfg, err := LoadConfigFromEnv("test")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, *cfg)
		})
	}
}

func TestLoadConfigFromEnvErrors(t *testing.T) { //nolint:paralleltest
	for key, value := range map[string]string{
		"OTEL_ENABLED":                      "maybe",
		"OTEL_EXPORTER_OTLP_TRACES_TIMEOUT": "soon",
	} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := LoadConfigFromEnv("test")
			require.ErrorIs(t, err, ErrInvalidEnv)
		})
	}
}

func TestInitializeDisabled(t *testing.T) { //nolint:paralleltest
	ctx := context.Background()

	require.NoError(t, Initialize(ctx, nil))
	require.NoError(t, Initialize(ctx, &Config{Enabled: false, Endpoint: "http://collector:4318"}))
	require.NoError(t, Initialize(ctx, &Config{Enabled: true}))

	assert.Nil(t, LogHandler())
	require.NoError(t, Shutdown(ctx))
}

func TestInitializeAndShutdown(t *testing.T) { //nolint:paralleltest
	previous := otel.GetTracerProvider()

	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Exporters connect lazily, so nothing is dialed while no data is exported.
	err := Initialize(ctx, &Config{
		ServiceName:    "stagectl",
		ServiceVersion: "test",
		Environment:    "test",
		Enabled:        true,
		Timeout:        time.Second,
		Endpoint:       "http://127.0.0.1:4318/v1/traces",
		LogsEndpoint:   "http://127.0.0.1:4318/v1/logs",
	})
	require.NoError(t, err)

	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())
	assert.NotNil(t, LogHandler())

	require.NoError(t, Shutdown(ctx))
	assert.Nil(t, LogHandler())
	require.NoError(t, Shutdown(ctx), "second shutdown is a no-op")
}
