package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/memberhub/internal/config"
)

// envPrefix lets operators scope settings to this service when several
// services share one environment file. Unprefixed keys remain the fallback.
const envPrefix = "MEMBERHUB_"

// Config holds logging, tracing and metrics settings.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	// PrometheusEnabled controls the /metrics scrape collectors for HTTP
	// and scheduler jobs. OTLP export is governed by OtelEnabled.
	PrometheusEnabled bool
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "memberhub"
	}

	protocol := lookup("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	protocol = lookup("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", protocol)

	return Config{
		ServiceName:          serviceName,
		Environment:          lookup("DEPLOYMENT_ENV", cfg.Environment),
		Version:              lookup("SERVICE_VERSION", cfg.AppVersion),
		LogLevel:             strings.ToLower(lookup("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(lookup("LOG_FORMAT", "json")),
		OtelEnabled:          lookupBool("OTEL_ENABLED", false),
		OtelExporterEndpoint: lookup("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(protocol),
		OtelSamplingRatio:    lookupRatio("OTEL_SAMPLING_RATIO", 0.1),
		PrometheusEnabled:    lookupBool("METRICS_ENABLED", true),
	}
}

func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// lookup prefers MEMBERHUB_<key> over <key>.
func lookup(key, def string) string {
	for _, name := range []string{envPrefix + key, key} {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(def)
}

func lookupBool(key string, def bool) bool {
	switch strings.ToLower(lookup(key, "")) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

// lookupRatio clamps to [0,1]; unparsable values fall back to def.
func lookupRatio(key string, def float64) float64 {
	raw := lookup(key, "")
	if raw == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return min(max(parsed, 0), 1)
}
