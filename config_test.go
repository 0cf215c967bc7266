package webmonitor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricConfigUnmarshal(t *testing.T) {
	var metrics PerformanceMetrics
	raw := `{
		"lcp": true,
		"cls": false,
		"ttfb": {"enabled": true, "reportAllChanges": true},
		"inp": {"enabled": false, "durationThreshold": 40},
		"fcp": null
	}`
	require.NoError(t, json.Unmarshal([]byte(raw), &metrics))

	assert.Equal(t, Toggle(true), metrics[LCP])
	assert.Equal(t, Toggle(false), metrics[CLS])
	assert.Equal(t, MetricConfig{Enabled: true, Options: Options{"reportAllChanges": true}}, metrics[TTFB])
	assert.Equal(t, MetricConfig{Enabled: false, Options: Options{"durationThreshold": float64(40)}}, metrics[INP])
	assert.Equal(t, MetricConfig{}, metrics[FCP])
}

func TestMetricConfigUnmarshalMissingEnabled(t *testing.T) {
	var c MetricConfig
	require.NoError(t, json.Unmarshal([]byte(`{"reportAllChanges": true}`), &c))
	assert.False(t, c.Enabled)
	assert.Equal(t, Options{"reportAllChanges": true}, c.Options)
}

func TestMetricConfigUnmarshalRejectsBadShapes(t *testing.T) {
	var c MetricConfig
	assert.Error(t, json.Unmarshal([]byte(`"yes"`), &c))
	assert.Error(t, json.Unmarshal([]byte(`{"enabled": "true"}`), &c))
}

func TestMetricConfigMarshalKeepsShape(t *testing.T) {
	data, err := json.Marshal(Toggle(true))
	require.NoError(t, err)
	assert.Equal(t, "true", string(data))

	data, err = json.Marshal(Tune(true, Options{"reportAllChanges": true}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"enabled": true, "reportAllChanges": true}`, string(data))
}

func TestResolveBooleanForwardsNoOptions(t *testing.T) {
	for _, b := range []bool{true, false} {
		enabled, opts := Toggle(b).resolve()
		assert.Equal(t, b, enabled)
		assert.Nil(t, opts)
	}
}

func TestResolveStructuredDropsEnabled(t *testing.T) {
	c := MetricConfig{Enabled: true, Options: Options{"enabled": false, "reportAllChanges": true}}
	enabled, opts := c.resolve()
	assert.True(t, enabled)
	assert.Equal(t, Options{"reportAllChanges": true}, opts)
	assert.NotContains(t, opts, "enabled")
	assert.Contains(t, c.Options, "enabled", "resolve must not mutate the configuration")
}

func TestTuneWithNilOptionsIsStructured(t *testing.T) {
	enabled, opts := Tune(true, nil).resolve()
	assert.True(t, enabled)
	assert.NotNil(t, opts)
	assert.Empty(t, opts)
}

func TestDefaultConfig(t *testing.T) {
	hub := NewHub(nil)
	config := DefaultConfig(hub)
	assert.Len(t, config.PerformanceMetrics, len(MetricNames()))
	for _, name := range MetricNames() {
		assert.Equal(t, Toggle(true), config.PerformanceMetrics[name])
	}
	assert.Same(t, hub, config.ErrorSource)
	assert.Same(t, hub, config.MetricSource)
	assert.True(t, config.errorLoggingEnabled())

	bare := DefaultConfig(nil)
	assert.Nil(t, bare.ErrorSource)
	assert.Nil(t, bare.MetricSource)
}
