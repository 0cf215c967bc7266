package webmonitor

import (
	"encoding/json"
	"slices"
)

// UploadFunc delivers one serialized payload. The returned channel reports
// completion of the delivery; the monitors never read it.
type UploadFunc func(data string) <-chan error

// Metric is a single metric record as emitted by a metric source.
// A source may emit several records for the same metric as the value settles.
// Source specific fields beyond the declared ones travel in Extra and are
// encoded at the top level of the record.
type Metric struct {
	Name           string           `json:"name"`
	Value          float64          `json:"value"`
	Rating         string           `json:"rating,omitempty"`
	Delta          float64          `json:"delta"`
	ID             string           `json:"id,omitempty"`
	NavigationType string           `json:"navigationType,omitempty"`
	Entries        []map[string]any `json:"entries,omitempty"`
	Attribution    map[string]any   `json:"attribution,omitempty"`

	Extra map[string]any `json:"-"`
}

// metricFields has the fields of Metric without its JSON methods
type metricFields Metric

var metricKeys = []string{"name", "value", "rating", "delta", "id", "navigationType", "entries", "attribution"}

// MarshalJSON merges Extra into the record. Declared fields win over Extra keys.
func (m Metric) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(metricFields(m))
	if err != nil || len(m.Extra) == 0 {
		return base, err
	}
	obj := make(map[string]json.RawMessage, len(m.Extra)+len(metricKeys))
	if err := json.Unmarshal(base, &obj); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if slices.Contains(metricKeys, k) {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		obj[k] = raw
	}
	return json.Marshal(obj)
}

// UnmarshalJSON keeps every undeclared key in Extra
func (m *Metric) UnmarshalJSON(data []byte) error {
	var fields metricFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range metricKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		fields.Extra = all
	}
	*m = Metric(fields)
	return nil
}

// ReportFunc receives metric records from a metric source
type ReportFunc func(metric Metric)

// MetricSource observes web performance metrics. Each method starts observing
// one metric kind and calls report zero or more times. opts is nil when the
// caller asked for default options.
type MetricSource interface {
	OnFCP(report ReportFunc, opts Options)
	OnCLS(report ReportFunc, opts Options)
	OnLCP(report ReportFunc, opts Options)
	OnTTFB(report ReportFunc, opts Options)
	OnINP(report ReportFunc, opts Options)
}

// ErrorSource is the global uncaught error notification channel
type ErrorSource interface {
	AddEventListener(eventType string, handler func(event ErrorEvent))
}

// ErrorEvent is a raw uncaught error event
type ErrorEvent struct {
	Message   string
	Filename  string
	Lineno    int
	Colno     int
	Type      string
	TimeStamp float64

	// Error is nil when the event carries no underlying exception
	Error *ErrorDetail
}

// ErrorDetail describes the exception behind an error event
type ErrorDetail struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack"`
}
