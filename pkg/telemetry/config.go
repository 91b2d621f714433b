package telemetry

import (
	"fmt"
	"time"
)

// Config holds the telemetry settings of a crateplan process.
type Config struct {
	// ServiceName identifies the process in traces.
	ServiceName string `yaml:"service-name" validate:"required"`

	// ServiceVersion is reported as a resource attribute.
	ServiceVersion string `yaml:"service-version" validate:"required"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Events  EventsConfig  `yaml:"events"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error, disabled.
	Level string `yaml:"level" validate:"oneof=trace debug info warn error disabled"`

	// Format is console or json.
	Format string `yaml:"format" validate:"oneof=console json"`

	// Output is stdout, stderr or a file path.
	Output string `yaml:"output" validate:"required"`

	// NoColor disables colors in console output.
	NoColor bool `yaml:"no-color"`

	// TimeFormat is rfc3339, unix or unixms.
	TimeFormat string `yaml:"time-format" validate:"omitempty,oneof=rfc3339 unix unixms"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is stdout, otlp or none.
	Exporter string `yaml:"exporter" validate:"oneof=stdout otlp none"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `yaml:"endpoint" validate:"required_if=Exporter otlp"`

	// SamplingRate is the fraction of traces kept, from 0 to 1.
	SamplingRate float64 `yaml:"sampling-rate" validate:"gte=0,lte=1"`

	ExportTimeout time.Duration `yaml:"export-timeout"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace" validate:"required"`

	// ListenAddress serves /metrics when set.
	ListenAddress string `yaml:"listen-address"`

	// TextFile, when set, receives the metrics in text format after each
	// command.
	TextFile string `yaml:"text-file"`

	Buckets []float64 `yaml:"buckets"`
}

// EventsConfig configures the diagnostic event publisher.
type EventsConfig struct {
	Enabled bool `yaml:"enabled"`

	// BufferSize bounds the queue of each subscriber.
	BufferSize int `yaml:"buffer-size" validate:"min=1"`
}

// DefaultConfig returns the settings used when nothing is configured:
// warnings only, no tracing, metrics kept in memory.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "crateplan",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:      "warn",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 10 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "crateplan",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
		},
	}
}

// DevelopmentConfig logs at debug level and prints spans to stdout.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	return cfg
}

// Validate checks the settings that NewTelemetry depends on. Struct tags
// are checked by the config package; this covers direct callers.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if _, ok := logLevels[c.Logging.Level]; !ok {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout", "none":
		case "otlp":
			if c.Tracing.Endpoint == "" {
				return fmt.Errorf("otlp exporter requires an endpoint")
			}
		default:
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}
	return nil
}
