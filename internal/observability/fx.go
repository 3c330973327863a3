package observability

import (
	"github.com/smallbiznis/memberhub/internal/observability/logger"
	"github.com/smallbiznis/memberhub/internal/observability/metrics"
	"github.com/smallbiznis/memberhub/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLoggerConfig,
		logger.New,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
		provideHTTPMetrics,
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
	fx.Invoke(registerSchedulerMetrics),
)

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}

// provideHTTPMetrics returns nil when Prometheus collection is off; the HTTP
// engine skips the middleware in that case.
func provideHTTPMetrics(cfg Config, mcfg metrics.Config) *metrics.HTTPMetrics {
	if !cfg.PrometheusEnabled {
		return nil
	}
	return metrics.NewHTTPMetrics(mcfg)
}

// registerSchedulerMetrics binds the scheduler collectors to the service
// labels before the first job runs.
func registerSchedulerMetrics(cfg Config, mcfg metrics.Config) {
	if cfg.PrometheusEnabled {
		metrics.SchedulerWithConfig(mcfg)
	}
}
