package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/amp-labs/stage-engine/logger"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

const (
	defaultServiceVersion = "1.0.0"
	defaultTimeout        = 5 * time.Second
	instrumentationName   = "github.com/amp-labs/stage-engine"
)

var (
	// ErrInvalidEnv is returned when an OTEL_* variable cannot be parsed.
	ErrInvalidEnv = errors.New("invalid telemetry environment variable")

	mu             sync.Mutex //nolint:gochecknoglobals
	tracerProvider *sdktrace.TracerProvider
	loggerProvider *sdklog.LoggerProvider
)

// Config holds the OpenTelemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
	Timeout        time.Duration

	// Endpoint receives spans. Required when Enabled.
	Endpoint string

	// LogsEndpoint receives log records. When empty no log pipeline is
	// created and LogHandler returns nil.
	LogsEndpoint string
}

// LoadConfigFromEnv loads OpenTelemetry configuration from environment variables.
func LoadConfigFromEnv(runningEnv string) (*Config, error) {
	enabled, err := envBool("OTEL_ENABLED", false)
	if err != nil {
		return nil, err
	}

	// A collector runs as a cluster service when deployed to Kubernetes.
	defaultEndpoint := ""
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		defaultEndpoint = "http://opentelemetry-collector.opentelemetry.svc.cluster.local:4318"
	}

	timeout, err := envDuration("OTEL_EXPORTER_OTLP_TRACES_TIMEOUT", defaultTimeout)
	if err != nil {
		return nil, err
	}

	endpoint := envString("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", defaultEndpoint)

	return &Config{
		ServiceName:    envString("OTEL_SERVICE_NAME", logger.GetSubsystem(context.Background())),
		ServiceVersion: envString("OTEL_SERVICE_VERSION", defaultServiceVersion),
		Environment:    runningEnv,
		Enabled:        enabled,
		Timeout:        timeout,
		Endpoint:       endpoint,
		LogsEndpoint:   envString("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", ""),
	}, nil
}

func envString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}

	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, fmt.Errorf("%w: %s=%q", ErrInvalidEnv, key, value)
	}

	return parsed, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		// The OTLP convention is a bare number of milliseconds.
		millis, convErr := strconv.Atoi(value)
		if convErr != nil || millis <= 0 {
			return fallback, fmt.Errorf("%w: %s=%q", ErrInvalidEnv, key, value)
		}

		return time.Duration(millis) * time.Millisecond, nil
	}

	return parsed, nil
}

// Initialize sets up OpenTelemetry tracing, and log export when a logs
// endpoint is configured, with the given configuration.
func Initialize(ctx context.Context, config *Config) error {
	if config == nil || !config.Enabled {
		logger.Get(ctx).Info("OpenTelemetry is disabled")

		return nil
	}

	if config.Endpoint == "" {
		logger.Get(ctx).Warn("OpenTelemetry endpoint not configured, tracing will be disabled")

		return nil
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(config.Endpoint),
		otlptracehttp.WithTimeout(timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	var lp *sdklog.LoggerProvider

	if config.LogsEndpoint != "" {
		logExporter, err := otlploghttp.New(ctx,
			otlploghttp.WithEndpointURL(config.LogsEndpoint),
			otlploghttp.WithTimeout(timeout),
		)
		if err != nil {
			return fmt.Errorf("failed to create OTLP log exporter: %w", err)
		}

		lp = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
			sdklog.WithResource(res),
		)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	mu.Lock()
	tracerProvider = tp
	loggerProvider = lp
	mu.Unlock()

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Get(ctx).Info("OpenTelemetry initialized",
		"service", config.ServiceName,
		"version", config.ServiceVersion,
		"environment", config.Environment,
		"endpoint", config.Endpoint,
		"logs_endpoint", config.LogsEndpoint,
	)

	return nil
}

// LogHandler returns a slog.Handler that exports records through the OTLP
// log pipeline, or nil when Initialize did not create one.
func LogHandler() slog.Handler {
	mu.Lock()
	defer mu.Unlock()

	if loggerProvider == nil {
		return nil
	}

	return otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(loggerProvider))
}

// Shutdown flushes and shuts down the providers created by Initialize.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp, lp := tracerProvider, loggerProvider
	tracerProvider, loggerProvider = nil, nil
	mu.Unlock()

	var errs []error

	if tp != nil {
		logger.Get(ctx).Info("Shutting down OpenTelemetry tracer provider")

		errs = append(errs, tp.Shutdown(ctx))
	}

	if lp != nil {
		errs = append(errs, lp.Shutdown(ctx))
	}

	return errors.Join(errs...)
}
