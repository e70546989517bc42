package telemetry

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config selects how runs, flashes and experiments are observed.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string `validate:"required"`
	// Environment is attached to every span, e.g. "lab" or "production".
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error"`
	Format string `validate:"oneof=console json"`
	// Output is stdout, stderr, discard or a file path.
	Output string `validate:"required"`
	Caller bool
	// DebugSampleEvery keeps one in N debug messages. Flash dispatch logs
	// at debug for every call; 0 or 1 keeps all.
	DebugSampleEvery uint32
}

// TracingConfig configures OpenTelemetry spans for runs, passes and
// experiments.
type TracingConfig struct {
	Enabled bool
	// Exporter is otlp, stdout or none. stdout writes to stderr so that
	// command output stays parseable.
	Exporter string `validate:"omitempty,oneof=otlp stdout none"`
	// Endpoint is the OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint      string `validate:"required_if=Exporter otlp"`
	SampleRatio   float64 `validate:"gte=0,lte=1"`
	ExportTimeout time.Duration
	Insecure      bool
	Headers       map[string]string
}

// MetricsConfig configures the Prometheus registry and its HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string `validate:"required_if=Enabled true"`
	Path          string
	Namespace     string
	// Buckets are latency buckets in seconds; flashes take well under a
	// millisecond, whole runs up to minutes.
	Buckets []float64
}

// EventsConfig configures the in-process event publisher.
type EventsConfig struct {
	Enabled       bool
	BufferSize    int `validate:"required_if=Enabled true,gte=0"`
	FlushInterval time.Duration
	MaxBatchSize  int `validate:"gte=0"`
	// EnableAsync delivers from a background goroutine instead of inline.
	EnableAsync bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultConfig observes everything: debug-free console logs on stdout,
// spans to stdout and metrics on :9090.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "procsim",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
			Caller: true,
		},
		Tracing: TracingConfig{
			Enabled:       true,
			Exporter:      "stdout",
			SampleRatio:   1,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "procsim",
			Buckets:       []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  100,
			EnableAsync:   true,
		},
	}
}

// ProductionConfig logs JSON, samples debug output and a tenth of traces,
// and exports spans over OTLP. The collector endpoint must still be set.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.DebugSampleEvery = 100
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SampleRatio = 0.1
	cfg.Tracing.Insecure = false
	return cfg
}

// CLIConfig is what the procsim command runs with: console logs on stderr,
// synchronous events, no tracing and metrics only when an address is given.
func CLIConfig(level, metricsAddr string) *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = level
	cfg.Logging.Output = "stderr"
	cfg.Logging.Caller = false
	cfg.Tracing.Enabled = false
	cfg.Metrics.Enabled = metricsAddr != ""
	cfg.Metrics.ListenAddress = metricsAddr
	cfg.Events.EnableAsync = false
	return cfg
}

// WithTracing turns on span export. An empty exporter leaves tracing off;
// an endpoint without an exporter implies otlp.
func (c *Config) WithTracing(exporter, endpoint string) *Config {
	if exporter == "" && endpoint != "" {
		exporter = "otlp"
	}
	if exporter == "" || exporter == "none" {
		return c
	}
	c.Tracing.Enabled = true
	c.Tracing.Exporter = exporter
	c.Tracing.Endpoint = endpoint
	return c
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}
