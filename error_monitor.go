package webmonitor

import (
	"encoding/json"

	"go.uber.org/zap"
)

const errorEventType = "error"

// SerializedError is the wire shape of an uncaught error
type SerializedError struct {
	Message   string       `json:"message"`
	Filename  string       `json:"filename"`
	Lineno    int          `json:"lineno"`
	Colno     int          `json:"colno"`
	Type      string       `json:"type"`
	Timestamp float64      `json:"timestamp"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

type errorPayload struct {
	Error SerializedError `json:"error"`
}

// ErrorMonitor forwards uncaught error events to the uploader
type ErrorMonitor struct {
	source   ErrorSource
	uploader UploadFunc
	logger   *zap.Logger
}

// NewErrorMonitor creates an error monitor listening on source
func NewErrorMonitor(source ErrorSource, uploader UploadFunc, logger *zap.Logger) *ErrorMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorMonitor{
		source:   source,
		uploader: uploader,
		logger:   logger,
	}
}

// Init registers the error listener. It stays registered for the lifetime of the source.
func (m *ErrorMonitor) Init() {
	m.source.AddEventListener(errorEventType, m.handle)
	m.logger.Debug("Registered error listener")
}

func (m *ErrorMonitor) handle(event ErrorEvent) {
	data, err := SerializeErrorEvent(event)
	if err != nil {
		m.logger.Error("Failed to serialize error event", zap.Error(err))
		return
	}
	// Completion is deliberately not awaited.
	_ = m.uploader(data)
}

// NormalizeErrorEvent copies the event fields into their wire shape
func NormalizeErrorEvent(event ErrorEvent) SerializedError {
	normalized := SerializedError{
		Message:   event.Message,
		Filename:  event.Filename,
		Lineno:    event.Lineno,
		Colno:     event.Colno,
		Type:      event.Type,
		Timestamp: event.TimeStamp,
	}
	if event.Error != nil {
		normalized.Error = &ErrorDetail{
			Name:    event.Error.Name,
			Message: event.Error.Message,
			Stack:   event.Error.Stack,
		}
	}
	return normalized
}

// SerializeErrorEvent encodes event as {"error": {...}}
func SerializeErrorEvent(event ErrorEvent) (string, error) {
	data, err := json.Marshal(errorPayload{Error: NormalizeErrorEvent(event)})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
