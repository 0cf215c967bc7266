// Command vitals-replay feeds a JSON-lines recording of error events and
// metric records through the monitor SDK and uploads the resulting payloads.
//
// Each input line is either {"error": {...}} or {"metric": {...}}.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/nikiz24/webmonitor"
)

type settings struct {
	Input              string        `env:"WEBMONITOR_INPUT"`
	UploadURL          string        `env:"WEBMONITOR_UPLOAD_URL"`
	RemoteWriteURL     string        `env:"WEBMONITOR_REMOTE_WRITE_URL"`
	Namespace          string        `env:"WEBMONITOR_NAMESPACE" envDefault:"web"`
	Subsystem          string        `env:"WEBMONITOR_SUBSYSTEM" envDefault:"prod"`
	ServiceName        string        `env:"WEBMONITOR_SERVICE" envDefault:"frontend"`
	EnableErrorLogging bool          `env:"WEBMONITOR_ENABLE_ERROR_LOGGING" envDefault:"true"`
	Metrics            string        `env:"WEBMONITOR_METRICS" envDefault:"{\"fcp\":true,\"cls\":true,\"lcp\":true,\"ttfb\":true,\"inp\":true}"`
	UploadTimeout      time.Duration `env:"WEBMONITOR_UPLOAD_TIMEOUT" envDefault:"10s"`
	Debug              bool          `env:"WEBMONITOR_DEBUG"`
}

// errorLine mirrors the fields of a recorded error event
type errorLine struct {
	Message   string                  `json:"message"`
	Filename  string                  `json:"filename"`
	Lineno    int                     `json:"lineno"`
	Colno     int                     `json:"colno"`
	Type      string                  `json:"type"`
	TimeStamp float64                 `json:"timeStamp"`
	Error     *webmonitor.ErrorDetail `json:"error,omitempty"`
}

type recordLine struct {
	Error  *errorLine         `json:"error,omitempty"`
	Metric *webmonitor.Metric `json:"metric,omitempty"`
}

func main() {
	os.Exit(realMain())
}

// realMain returns the exit code so deferred cleanup runs before os.Exit
func realMain() int {
	var cfg settings
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse env: %v\n", err)
		return 2
	}

	logger := newLogger(cfg.Debug)
	defer logger.Sync()

	in := io.Reader(os.Stdin)
	if cfg.Input != "" {
		f, err := os.Open(cfg.Input)
		if err != nil {
			logger.Error("Failed to open input", zap.String("input", cfg.Input), zap.Error(err))
			return 1
		}
		defer f.Close()
		in = f
	}

	if err := run(cfg, in, os.Stdout, logger); err != nil {
		logger.Error("Replay failed", zap.Error(err))
		return 1
	}
	return 0
}

func newLogger(debug bool) *zap.Logger {
	zc := zap.NewProductionConfig()
	if debug {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zc.OutputPaths = []string{"stderr"}
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// run replays in through a hub wired to the SDK and waits for every upload
func run(cfg settings, in io.Reader, out io.Writer, logger *zap.Logger) error {
	uploader, stop, err := buildUploader(cfg, out, logger)
	if err != nil {
		return err
	}
	defer stop()

	var metrics webmonitor.PerformanceMetrics
	if err := json.Unmarshal([]byte(cfg.Metrics), &metrics); err != nil {
		return fmt.Errorf("parse metrics config: %w", err)
	}

	tracker := &uploadTracker{logger: logger}
	hub := webmonitor.NewHub(logger)
	if err := webmonitor.Init(webmonitor.Config{
		CustomUploader:     tracker.wrap(uploader),
		EnableErrorLogging: webmonitor.Bool(cfg.EnableErrorLogging),
		PerformanceMetrics: metrics,
		ErrorSource:        hub,
		MetricSource:       hub,
		Logger:             logger,
	}); err != nil {
		return err
	}

	lines, err := replay(hub, in)
	tracker.wait()
	fields := []zap.Field{
		zap.Int("lines", lines),
		zap.Int64("uploads", tracker.count()),
		zap.Int64("failed_uploads", tracker.failedCount()),
	}
	for _, name := range webmonitor.MetricNames() {
		fields = append(fields, zap.Int64("delivered_"+string(name), hub.Delivered(name)))
	}
	logger.Info("Replay finished", fields...)
	return err
}

func replay(hub *webmonitor.Hub, in io.Reader) (int, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		n++
		var rec recordLine
		if err := json.Unmarshal(line, &rec); err != nil {
			return n, fmt.Errorf("line %d: %w", n, err)
		}
		switch {
		case rec.Error != nil:
			hub.DispatchError(webmonitor.ErrorEvent{
				Message:   rec.Error.Message,
				Filename:  rec.Error.Filename,
				Lineno:    rec.Error.Lineno,
				Colno:     rec.Error.Colno,
				Type:      rec.Error.Type,
				TimeStamp: rec.Error.TimeStamp,
				Error:     rec.Error.Error,
			})
		case rec.Metric != nil:
			hub.Report(*rec.Metric)
		default:
			return n, fmt.Errorf("line %d: neither error nor metric", n)
		}
	}
	return n, scanner.Err()
}

func buildUploader(cfg settings, out io.Writer, logger *zap.Logger) (webmonitor.UploadFunc, func(), error) {
	switch {
	case cfg.RemoteWriteURL != "":
		w, err := webmonitor.NewRemoteWriter(webmonitor.RemoteWriteConfig{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			ServiceName: cfg.ServiceName,
			URL:         cfg.RemoteWriteURL,
			Timeout:     cfg.UploadTimeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		w.Start()
		return w.Uploader(), w.Stop, nil
	case cfg.UploadURL != "":
		u, err := webmonitor.HTTPUploader(webmonitor.HTTPUploaderConfig{
			Endpoint: cfg.UploadURL,
			Timeout:  cfg.UploadTimeout,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return u, func() {}, nil
	default:
		return webmonitor.WriterUploader(out), func() {}, nil
	}
}

// uploadTracker waits for the completions the SDK itself never looks at
type uploadTracker struct {
	logger *zap.Logger
	wg     sync.WaitGroup
	mutex  sync.Mutex
	total  int64
	failed int64
}

func (t *uploadTracker) wrap(upload webmonitor.UploadFunc) webmonitor.UploadFunc {
	return func(data string) <-chan error {
		done := upload(data)
		t.mutex.Lock()
		t.total++
		t.mutex.Unlock()
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			if err := <-done; err != nil {
				t.mutex.Lock()
				t.failed++
				t.mutex.Unlock()
				t.logger.Warn("Upload failed", zap.Error(err))
			}
		}()
		return done
	}
}

func (t *uploadTracker) wait() {
	t.wg.Wait()
}

func (t *uploadTracker) count() int64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.total
}

func (t *uploadTracker) failedCount() int64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.failed
}
