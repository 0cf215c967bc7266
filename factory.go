package webmonitor

import (
	"fmt"

	"go.uber.org/zap"
)

// Init wires the error and performance monitors from a single configuration.
// Error logging is on unless EnableErrorLogging is explicitly false. The
// performance monitor is always started, so PerformanceMetrics must be set
// even when only errors are of interest.
func Init(config Config) error {
	logger := config.logger()

	if config.CustomUploader == nil {
		return ErrNoUploader
	}

	errorLogging := config.errorLoggingEnabled()
	if errorLogging {
		if config.ErrorSource == nil {
			return ErrNoErrorSource
		}
		NewErrorMonitor(config.ErrorSource, config.CustomUploader, logger).Init()
	}

	pm := NewPerformanceMonitor(config.PerformanceMetrics, config.MetricSource, config.CustomUploader, logger)
	if err := pm.Init(); err != nil {
		if errorLogging {
			logger.Warn("Performance monitor failed after error listener was registered",
				zap.Error(err))
		}
		return fmt.Errorf("performance monitor: %w", err)
	}

	logger.Info("monitor sdk initialized",
		zap.Bool("error_logging", errorLogging),
		zap.Int("metrics", len(config.PerformanceMetrics)))
	return nil
}
