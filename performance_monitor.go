package webmonitor

import (
	"encoding/json"
	"sort"

	"go.uber.org/zap"
)

// PerformanceMonitor subscribes to the configured metrics and forwards every
// metric record to the uploader
type PerformanceMonitor struct {
	metrics PerformanceMetrics
	source  MetricSource
	report  ReportFunc
	logger  *zap.Logger
}

// NewPerformanceMonitor creates a performance monitor for the given metric configuration
func NewPerformanceMonitor(metrics PerformanceMetrics, source MetricSource, uploader UploadFunc, logger *zap.Logger) *PerformanceMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &PerformanceMonitor{
		metrics: metrics,
		source:  source,
		logger:  logger,
	}
	m.report = func(metric Metric) {
		data, err := SerializeMetric(metric)
		if err != nil {
			logger.Error("Failed to serialize metric",
				zap.String("metric", metric.Name), zap.Error(err))
			return
		}
		_ = uploader(data)
	}
	return m
}

// Init starts tracking every enabled metric. It fails before any subscription
// when no metric is configured. A metric source is only required once some
// known metric is enabled.
func (m *PerformanceMonitor) Init() error {
	if len(m.metrics) == 0 {
		return ErrNoMetrics
	}
	if m.source == nil && m.anyEnabled() {
		return ErrNoMetricSource
	}

	// Map order is random; subscribe in a stable order.
	names := make([]string, 0, len(m.metrics))
	for name := range m.metrics {
		names = append(names, string(name))
	}
	sort.Strings(names)

	for _, name := range names {
		m.startTracking(MetricName(name), m.metrics[MetricName(name)])
	}
	return nil
}

func (m *PerformanceMonitor) anyEnabled() bool {
	for _, known := range MetricNames() {
		if config, ok := m.metrics[known]; ok && config.Enabled {
			return true
		}
	}
	return false
}

// startTracking resolves one metric configuration and subscribes when it is enabled.
// It reports whether a subscription was made.
func (m *PerformanceMonitor) startTracking(name MetricName, config MetricConfig) bool {
	enabled, opts := config.resolve()
	if !enabled {
		m.logger.Debug("Metric disabled", zap.String("metric", string(name)))
		return false
	}

	switch name {
	case FCP:
		m.source.OnFCP(m.report, opts)
	case CLS:
		m.source.OnCLS(m.report, opts)
	case LCP:
		m.source.OnLCP(m.report, opts)
	case TTFB:
		m.source.OnTTFB(m.report, opts)
	case INP:
		m.source.OnINP(m.report, opts)
	default:
		m.logger.Warn("Ignoring unknown metric", zap.String("metric", string(name)))
		return false
	}

	m.logger.Debug("Tracking metric",
		zap.String("metric", string(name)), zap.Int("options", len(opts)))
	return true
}

// SerializeMetric encodes metric as {"<name>": {...}}
func SerializeMetric(metric Metric) (string, error) {
	data, err := json.Marshal(map[string]Metric{metric.Name: metric})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
