package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter(DeliveryFailures, nil)
	r.AddToCounter(DeliveryFailures, 2, nil)
	assert.Equal(t, 3.0, r.CounterValue(DeliveryFailures, nil))

	// Labels create distinct series.
	r.IncrementCounter(DeliveryFailures, map[string]string{"network": "slack"})
	assert.Equal(t, 1.0, r.CounterValue(DeliveryFailures, map[string]string{"network": "slack"}))
	assert.Equal(t, 3.0, r.CounterValue(DeliveryFailures, nil))
}

func TestGauges(t *testing.T) {
	r := NewRegistry()

	r.SetGauge(QueueDepth, 7, nil)
	r.SetGauge(QueueDepth, 3, nil)
	assert.Equal(t, 3.0, r.GaugeValue(QueueDepth, nil))
	assert.Equal(t, 0.0, r.GaugeValue("unknown", nil))
}

func TestExport(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter(MessagesBridgedSlackToMatrix, nil)
	r.IncrementCounter(MessagesBridgedMatrixToSlack, nil)
	r.SetGauge(QueueDepth, 5, nil)

	snap := r.Export()
	assert.Len(t, snap.Counters, 2)
	assert.Len(t, snap.Gauges, 1)
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)

	// Sorted by name for stable output.
	assert.Equal(t, MessagesBridgedMatrixToSlack, snap.Counters[0].Name)
}

func TestMetricKeyStableAcrossLabelOrder(t *testing.T) {
	a := metricKey("m", map[string]string{"a": "1", "b": "2"})
	b := metricKey("m", map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, a, b)
}
