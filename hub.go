package webmonitor

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Hub is an in-process signal source. Hosts feed it errors and metric records
// and it delivers them to whoever subscribed, which makes it both an
// ErrorSource and a MetricSource. A Hub is safe for concurrent use.
type Hub struct {
	logger *zap.Logger
	origin time.Time
	mutex  sync.RWMutex

	errorHandlers []func(ErrorEvent)
	subscriptions map[MetricName][]subscription
	delivered     map[MetricName]*atomic.Int64
}

type subscription struct {
	report ReportFunc
	opts   Options
}

// NewHub creates a hub whose event timestamps count from now
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	delivered := make(map[MetricName]*atomic.Int64, len(MetricNames()))
	for _, name := range MetricNames() {
		delivered[name] = &atomic.Int64{}
	}
	return &Hub{
		logger:        logger,
		origin:        time.Now(),
		subscriptions: make(map[MetricName][]subscription),
		delivered:     delivered,
	}
}

// AddEventListener implements ErrorSource. Only "error" listeners are kept.
func (h *Hub) AddEventListener(eventType string, handler func(event ErrorEvent)) {
	if eventType != errorEventType {
		h.logger.Debug("Ignoring listener", zap.String("type", eventType))
		return
	}
	h.mutex.Lock()
	h.errorHandlers = append(h.errorHandlers, handler)
	h.mutex.Unlock()
}

// OnFCP implements MetricSource
func (h *Hub) OnFCP(report ReportFunc, opts Options) { h.subscribe(FCP, report, opts) }

// OnCLS implements MetricSource
func (h *Hub) OnCLS(report ReportFunc, opts Options) { h.subscribe(CLS, report, opts) }

// OnLCP implements MetricSource
func (h *Hub) OnLCP(report ReportFunc, opts Options) { h.subscribe(LCP, report, opts) }

// OnTTFB implements MetricSource
func (h *Hub) OnTTFB(report ReportFunc, opts Options) { h.subscribe(TTFB, report, opts) }

// OnINP implements MetricSource
func (h *Hub) OnINP(report ReportFunc, opts Options) { h.subscribe(INP, report, opts) }

func (h *Hub) subscribe(name MetricName, report ReportFunc, opts Options) {
	h.mutex.Lock()
	h.subscriptions[name] = append(h.subscriptions[name], subscription{report: report, opts: opts})
	h.mutex.Unlock()
}

// Subscribed reports whether anyone observes the metric
func (h *Hub) Subscribed(name MetricName) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscriptions[name]) > 0
}

// Options returns the options of every subscription to the metric, in subscription order
func (h *Hub) Options(name MetricName) []Options {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	subs := h.subscriptions[name]
	opts := make([]Options, 0, len(subs))
	for _, s := range subs {
		opts = append(opts, s.opts)
	}
	return opts
}

// Report delivers a metric record to the subscribers of its kind. The kind is
// the lower-cased record name, so "LCP" reaches OnLCP subscribers. Records of
// unknown kinds are dropped.
func (h *Hub) Report(metric Metric) {
	name := MetricName(strings.ToLower(metric.Name))
	counter, known := h.delivered[name]
	if !known {
		h.logger.Warn("Dropping metric of unknown kind", zap.String("metric", metric.Name))
		return
	}

	h.mutex.RLock()
	subs := append([]subscription(nil), h.subscriptions[name]...)
	h.mutex.RUnlock()

	for _, s := range subs {
		s.report(metric)
	}
	counter.Add(1)
}

// Delivered returns how many records of the metric kind were reported
func (h *Hub) Delivered(name MetricName) int64 {
	if counter, ok := h.delivered[name]; ok {
		return counter.Load()
	}
	return 0
}

// DispatchError delivers an error event to every error listener. A zero
// Type becomes "error" and a zero TimeStamp is set to the time since the hub
// was created.
func (h *Hub) DispatchError(event ErrorEvent) {
	if event.Type == "" {
		event.Type = errorEventType
	}
	if event.TimeStamp == 0 {
		event.TimeStamp = h.Now()
	}

	h.mutex.RLock()
	handlers := append([]func(ErrorEvent){}, h.errorHandlers...)
	h.mutex.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Now returns the milliseconds elapsed since the hub was created
func (h *Hub) Now() float64 {
	return float64(time.Since(h.origin)) / float64(time.Millisecond)
}

// Recover must be deferred directly. It reports a panic as an uncaught error
// event and then re-panics with the same value.
func (h *Hub) Recover() {
	r := recover()
	if r == nil {
		return
	}
	h.DispatchError(h.EventFromPanic(r, debug.Stack()))
	panic(r)
}

// EventFromPanic builds an error event from a recovered panic value
func (h *Hub) EventFromPanic(r any, stack []byte) ErrorEvent {
	var message, name string
	switch v := r.(type) {
	case error:
		message = v.Error()
		name = errorName(v)
	default:
		message = fmt.Sprint(v)
		name = fmt.Sprintf("%T", v)
	}

	file, line := panicSite()
	return ErrorEvent{
		Message:   message,
		Filename:  file,
		Lineno:    line,
		Type:      errorEventType,
		TimeStamp: h.Now(),
		Error: &ErrorDetail{
			Name:    name,
			Message: message,
			Stack:   string(stack),
		},
	}
}

func errorName(err error) string {
	var rt runtime.Error
	if errors.As(err, &rt) {
		return "runtime.Error"
	}
	return fmt.Sprintf("%T", err)
}

// panicSite finds the first frame outside the runtime and this file
func panicSite() (string, int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") &&
			!strings.HasSuffix(frame.Function, ".(*Hub).Recover") &&
			!strings.HasSuffix(frame.Function, ".(*Hub).EventFromPanic") &&
			!strings.HasSuffix(frame.Function, ".panicSite") {
			return frame.File, frame.Line
		}
		if !more {
			return "", 0
		}
	}
}
