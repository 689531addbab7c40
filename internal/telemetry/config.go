package telemetry

import "time"

// Config holds the configuration for telemetry. Field tags are read by
// internal/config.
type Config struct {
	ServiceName    string `env:"OTEL_SERVICE_NAME" envDefault:"taobao-top"`
	Environment    string `env:"ENVIRONMENT" envDefault:"development"`
	ServiceVersion string `env:"SERVICE_VERSION" envDefault:"unknown"`

	// OTLP gRPC collector address used by tracing and metrics
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`

	// Common settings
	SamplingRate    float64       `env:"OTEL_SAMPLING_RATE" envDefault:"1.0"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"10s"`

	// Feature flags
	EnableTracing bool `env:"ENABLE_TRACING" envDefault:"false"`
	EnableMetrics bool `env:"ENABLE_METRICS" envDefault:"false"`
}

// DefaultConfig returns a config with exporters disabled
func DefaultConfig() *Config {
	return &Config{
		ServiceName:     "taobao-top",
		Environment:     "development",
		ServiceVersion:  "unknown",
		OTLPEndpoint:    "localhost:4317",
		SamplingRate:    1.0,
		LogLevel:        "info",
		LogFormat:       "json",
		MetricsInterval: 10 * time.Second,
	}
}
