package webmonitor

import "sync"

// recordingUploader keeps every payload it is handed
type recordingUploader struct {
	mutex    sync.Mutex
	payloads []string
}

func (r *recordingUploader) upload(data string) <-chan error {
	r.mutex.Lock()
	r.payloads = append(r.payloads, data)
	r.mutex.Unlock()
	done := make(chan error, 1)
	close(done)
	return done
}

func (r *recordingUploader) all() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.payloads...)
}

type subscribeCall struct {
	name   MetricName
	report ReportFunc
	opts   Options
}

// fakeMetricSource records subscriptions without observing anything
type fakeMetricSource struct {
	calls []subscribeCall
}

func (f *fakeMetricSource) OnFCP(report ReportFunc, opts Options) { f.record(FCP, report, opts) }
func (f *fakeMetricSource) OnCLS(report ReportFunc, opts Options) { f.record(CLS, report, opts) }
func (f *fakeMetricSource) OnLCP(report ReportFunc, opts Options) { f.record(LCP, report, opts) }
func (f *fakeMetricSource) OnTTFB(report ReportFunc, opts Options) {
	f.record(TTFB, report, opts)
}
func (f *fakeMetricSource) OnINP(report ReportFunc, opts Options) { f.record(INP, report, opts) }

func (f *fakeMetricSource) record(name MetricName, report ReportFunc, opts Options) {
	f.calls = append(f.calls, subscribeCall{name: name, report: report, opts: opts})
}

func (f *fakeMetricSource) names() []MetricName {
	names := make([]MetricName, 0, len(f.calls))
	for _, c := range f.calls {
		names = append(names, c.name)
	}
	return names
}

type fakeErrorSource struct {
	eventTypes []string
	handlers   []func(ErrorEvent)
}

func (f *fakeErrorSource) AddEventListener(eventType string, handler func(event ErrorEvent)) {
	f.eventTypes = append(f.eventTypes, eventType)
	f.handlers = append(f.handlers, handler)
}

func (f *fakeErrorSource) fire(event ErrorEvent) {
	for _, h := range f.handlers {
		h(event)
	}
}
