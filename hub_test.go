package webmonitor

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToSubscribersInOrder(t *testing.T) {
	hub := NewHub(nil)
	var got []float64
	hub.OnLCP(func(m Metric) { got = append(got, m.Value) }, nil)

	hub.Report(Metric{Name: "LCP", Value: 1})
	hub.Report(Metric{Name: "LCP", Value: 2})
	hub.Report(Metric{Name: "CLS", Value: 0.1})

	assert.Equal(t, []float64{1, 2}, got)
	assert.Equal(t, int64(2), hub.Delivered(LCP))
	assert.Equal(t, int64(1), hub.Delivered(CLS))
	assert.True(t, hub.Subscribed(LCP))
	assert.False(t, hub.Subscribed(CLS))
}

func TestHubDropsUnknownKinds(t *testing.T) {
	hub := NewHub(nil)
	hub.Report(Metric{Name: "FID", Value: 3})
	assert.Equal(t, int64(0), hub.Delivered("fid"))
}

func TestHubKeepsSubscriptionOptions(t *testing.T) {
	hub := NewHub(nil)
	hub.OnINP(func(Metric) {}, Options{"durationThreshold": 40})
	hub.OnINP(func(Metric) {}, nil)

	assert.Equal(t, []Options{{"durationThreshold": 40}, nil}, hub.Options(INP))
	assert.Empty(t, hub.Options(TTFB))
}

func TestHubOnlyKeepsErrorListeners(t *testing.T) {
	hub := NewHub(nil)
	var events []ErrorEvent
	hub.AddEventListener("unhandledrejection", func(e ErrorEvent) { t.Fatal("unexpected event") })
	hub.AddEventListener("error", func(e ErrorEvent) { events = append(events, e) })

	hub.DispatchError(ErrorEvent{Message: "x", TimeStamp: 5})

	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Type)
	assert.Equal(t, float64(5), events[0].TimeStamp)
}

func TestHubStampsEvents(t *testing.T) {
	hub := NewHub(nil)
	var event ErrorEvent
	hub.AddEventListener("error", func(e ErrorEvent) { event = e })

	hub.DispatchError(ErrorEvent{Message: "x"})
	assert.Greater(t, event.TimeStamp, float64(0))
}

func TestHubRecoverReportsAndRepanics(t *testing.T) {
	hub := NewHub(nil)
	var events []ErrorEvent
	hub.AddEventListener("error", func(e ErrorEvent) { events = append(events, e) })

	boom := errors.New("boom")
	assert.PanicsWithError(t, "boom", func() {
		defer hub.Recover()
		panic(boom)
	})

	require.Len(t, events, 1)
	event := events[0]
	assert.Equal(t, "boom", event.Message)
	assert.Equal(t, "error", event.Type)
	assert.True(t, strings.HasSuffix(event.Filename, "hub_test.go"), event.Filename)
	assert.Greater(t, event.Lineno, 0)
	require.NotNil(t, event.Error)
	assert.Equal(t, "*errors.errorString", event.Error.Name)
	assert.Contains(t, event.Error.Stack, "goroutine")
}

func TestHubRecoverIgnoresNormalReturn(t *testing.T) {
	hub := NewHub(nil)
	called := false
	hub.AddEventListener("error", func(ErrorEvent) { called = true })

	func() {
		defer hub.Recover()
	}()
	assert.False(t, called)
}

func TestEventFromPanicValue(t *testing.T) {
	hub := NewHub(nil)
	event := hub.EventFromPanic("index out of range", []byte("stack"))

	assert.Equal(t, "index out of range", event.Message)
	require.NotNil(t, event.Error)
	assert.Equal(t, "string", event.Error.Name)
	assert.Equal(t, "stack", event.Error.Stack)
}

func TestHubWithMonitorsEndToEnd(t *testing.T) {
	hub := NewHub(nil)
	up := &recordingUploader{}
	config := DefaultConfig(hub)
	config.CustomUploader = up.upload
	config.PerformanceMetrics[CLS] = Toggle(false)
	require.NoError(t, Init(config))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Report(Metric{Name: "LCP", Value: 1500})
			hub.Report(Metric{Name: "CLS", Value: 0.3})
		}()
	}
	wg.Wait()
	hub.DispatchError(ErrorEvent{Message: "x"})

	payloads := up.all()
	require.Len(t, payloads, 11)
	var errorsSeen int
	for _, p := range payloads {
		assert.NotContains(t, p, `"CLS"`)
		if strings.HasPrefix(p, `{"error":`) {
			errorsSeen++
		}
	}
	assert.Equal(t, 1, errorsSeen)
}
