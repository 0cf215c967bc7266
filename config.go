package webmonitor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrNoMetrics is returned when performance tracking starts without any metric configured
	ErrNoMetrics = errors.New("no performance metrics configured")
	// ErrNoUploader is returned when Init is called without an uploader
	ErrNoUploader = errors.New("custom uploader is required")
	// ErrNoMetricSource is returned when metrics are enabled but no metric source is wired
	ErrNoMetricSource = errors.New("metric source is required")
	// ErrNoErrorSource is returned when error logging is enabled but no error source is wired
	ErrNoErrorSource = errors.New("error source is required")
)

// MetricName is the configuration key of a tracked web performance metric
type MetricName string

const (
	FCP  MetricName = "fcp"  // first contentful paint
	CLS  MetricName = "cls"  // cumulative layout shift
	LCP  MetricName = "lcp"  // largest contentful paint
	TTFB MetricName = "ttfb" // time to first byte
	INP  MetricName = "inp"  // interaction to next paint
)

// MetricNames lists every metric the SDK knows how to track
func MetricNames() []MetricName {
	return []MetricName{FCP, CLS, LCP, TTFB, INP}
}

// Options carries metric specific tuning (reportAllChanges, durationThreshold, ...).
// The SDK never interprets it; it is handed to the metric source as is.
type Options map[string]any

// MetricConfig is the per-metric configuration. It is either a bare toggle
// (Options is nil) or an enabled flag with tuning options.
type MetricConfig struct {
	Enabled bool
	Options Options
}

// Toggle enables or disables a metric with the source's default options
func Toggle(enabled bool) MetricConfig {
	return MetricConfig{Enabled: enabled}
}

// Tune enables or disables a metric and forwards opts to the metric source
func Tune(enabled bool, opts Options) MetricConfig {
	if opts == nil {
		opts = Options{}
	}
	return MetricConfig{Enabled: enabled, Options: opts}
}

// UnmarshalJSON accepts either a boolean or an object with an "enabled" field.
// Every other key of the object becomes an option.
func (c *MetricConfig) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = MetricConfig{}
		return nil
	}

	var flag bool
	if err := json.Unmarshal(data, &flag); err == nil {
		*c = Toggle(flag)
		return nil
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("metric config must be a boolean or an object: %w", err)
	}

	enabled := false
	if v, ok := raw["enabled"]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return fmt.Errorf("metric config field enabled must be a boolean, got %T", v)
		}
		enabled = b
		delete(raw, "enabled")
	}
	*c = Tune(enabled, Options(raw))
	return nil
}

// MarshalJSON writes the toggle form as a boolean and the tuned form as an object
func (c MetricConfig) MarshalJSON() ([]byte, error) {
	if c.Options == nil {
		return json.Marshal(c.Enabled)
	}
	obj := make(map[string]any, len(c.Options)+1)
	for k, v := range c.Options {
		obj[k] = v
	}
	obj["enabled"] = c.Enabled
	return json.Marshal(obj)
}

// resolve splits the configuration into the enabled flag and the options to forward
func (c MetricConfig) resolve() (bool, Options) {
	if c.Options == nil {
		return c.Enabled, nil
	}
	opts := make(Options, len(c.Options))
	for k, v := range c.Options {
		if k == "enabled" {
			continue
		}
		opts[k] = v
	}
	return c.Enabled, opts
}

// PerformanceMetrics maps metric names to their configuration
type PerformanceMetrics map[MetricName]MetricConfig

// Config defines the SDK initialization configuration
type Config struct {
	// CustomUploader receives every serialized payload (required)
	CustomUploader UploadFunc

	// EnableErrorLogging defaults to true when nil
	EnableErrorLogging *bool

	// PerformanceMetrics must name at least one metric
	PerformanceMetrics PerformanceMetrics

	// Signal sources of the hosting environment
	ErrorSource  ErrorSource
	MetricSource MetricSource

	// Optional logger
	Logger *zap.Logger
}

// DefaultConfig returns a configuration tracking every metric with default
// options, fed by the given hub. The uploader still has to be set.
func DefaultConfig(hub *Hub) Config {
	metrics := make(PerformanceMetrics, len(MetricNames()))
	for _, name := range MetricNames() {
		metrics[name] = Toggle(true)
	}
	config := Config{PerformanceMetrics: metrics}
	if hub != nil {
		config.ErrorSource = hub
		config.MetricSource = hub
	}
	return config
}

// Bool returns a pointer to b, handy for Config.EnableErrorLogging
func Bool(b bool) *bool {
	return &b
}

func (c Config) errorLoggingEnabled() bool {
	if c.EnableErrorLogging == nil {
		return true
	}
	return *c.EnableErrorLogging
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
