package webmonitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Async turns a blocking delivery function into an UploadFunc. Each payload
// is delivered on its own goroutine with the given timeout (no timeout when
// zero) and the outcome is sent on a buffered channel, so nobody has to read it.
func Async(timeout time.Duration, deliver func(ctx context.Context, data string) error) UploadFunc {
	return func(data string) <-chan error {
		done := make(chan error, 1)
		go func() {
			ctx := context.Background()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			done <- deliver(ctx, data)
			close(done)
		}()
		return done
	}
}

// HTTPUploaderConfig configures HTTPUploader
type HTTPUploaderConfig struct {
	Endpoint string
	Headers  map[string]string
	Timeout  time.Duration
	Client   *http.Client
	Logger   *zap.Logger
}

// HTTPUploader posts every payload as a JSON body to an endpoint
func HTTPUploader(config HTTPUploaderConfig) (UploadFunc, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("http uploader endpoint cannot be empty")
	}
	client := config.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := pickDuration(config.Timeout, 10*time.Second)

	return Async(timeout, func(ctx context.Context, data string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.Endpoint, strings.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range config.Headers {
			req.Header.Set(k, v)
		}
		resp, err := client.Do(req)
		if err != nil {
			logger.Warn("Upload failed", zap.String("endpoint", config.Endpoint), zap.Error(err))
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			logger.Warn("Upload rejected",
				zap.String("endpoint", config.Endpoint), zap.Int("status", resp.StatusCode))
			return fmt.Errorf("upload status: %d", resp.StatusCode)
		}
		return nil
	}), nil
}

// WriterUploader writes every payload as one line to w. Writes are
// serialized so lines never interleave.
func WriterUploader(w io.Writer) UploadFunc {
	var mutex sync.Mutex
	return func(data string) <-chan error {
		done := make(chan error, 1)
		var buf bytes.Buffer
		buf.Grow(len(data) + 1)
		buf.WriteString(data)
		buf.WriteByte('\n')

		mutex.Lock()
		_, err := w.Write(buf.Bytes())
		mutex.Unlock()

		done <- err
		close(done)
		return done
	}
}

func pickDuration(v time.Duration, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
