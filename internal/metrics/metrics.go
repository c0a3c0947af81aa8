// Package metrics provides an in-memory metrics registry exposed on the
// status HTTP surface. Counters and gauges only; the bridge reports
// messages bridged per direction, delivery failures, queue depth and
// socket reconnects through it.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Metric names used across the bridge.
const (
	MessagesBridgedSlackToMatrix = "messages_bridged_slack_to_matrix"
	MessagesBridgedMatrixToSlack = "messages_bridged_matrix_to_slack"
	DeliveryFailures             = "delivery_failures"
	DeliveryRetries              = "delivery_retries"
	DeliveriesDeduplicated       = "deliveries_deduplicated"
	IntakeDropped                = "intake_dropped"
	QueueDepth                   = "queue_depth"
	SocketReconnects             = "socket_reconnects"
	TransactionsDeduplicated     = "transactions_deduplicated"
	FilesTransferred             = "files_transferred"
)

// Metric is a single named value with optional labels.
type Metric struct {
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Labels     map[string]string `json:"labels,omitempty"`
	LastUpdate time.Time         `json:"last_update"`
}

// Registry manages all metrics in memory. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*Metric
	gauges    map[string]*Metric
	startTime time.Time
}

// NewRegistry creates a new metrics registry
func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Metric),
		gauges:    make(map[string]*Metric),
		startTime: time.Now(),
	}
}

// IncrementCounter increments a counter metric by one.
func (r *Registry) IncrementCounter(name string, labels map[string]string) {
	r.AddToCounter(name, 1, labels)
}

// AddToCounter adds a value to a counter metric
func (r *Registry) AddToCounter(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	m, ok := r.counters[key]
	if !ok {
		m = &Metric{Name: name, Labels: labels}
		r.counters[key] = m
	}
	m.Value += value
	m.LastUpdate = time.Now()
}

// SetGauge sets a gauge metric to a value.
func (r *Registry) SetGauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	m, ok := r.gauges[key]
	if !ok {
		m = &Metric{Name: name, Labels: labels}
		r.gauges[key] = m
	}
	m.Value = value
	m.LastUpdate = time.Now()
}

// CounterValue returns the current value of a counter, or zero.
func (r *Registry) CounterValue(name string, labels map[string]string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.counters[metricKey(name, labels)]; ok {
		return m.Value
	}
	return 0
}

// GaugeValue returns the current value of a gauge, or zero.
func (r *Registry) GaugeValue(name string, labels map[string]string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.gauges[metricKey(name, labels)]; ok {
		return m.Value
	}
	return 0
}

// Snapshot is the JSON shape served on the metrics endpoint.
type Snapshot struct {
	UptimeSeconds float64   `json:"uptime_seconds"`
	Counters      []*Metric `json:"counters"`
	Gauges        []*Metric `json:"gauges"`
}

// Export returns a point-in-time copy of all metrics.
func (r *Registry) Export() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{UptimeSeconds: time.Since(r.startTime).Seconds()}
	for _, m := range r.counters {
		copied := *m
		snap.Counters = append(snap.Counters, &copied)
	}
	for _, m := range r.gauges {
		copied := *m
		snap.Gauges = append(snap.Gauges, &copied)
	}
	sort.Slice(snap.Counters, func(i, j int) bool { return snap.Counters[i].Name < snap.Counters[j].Name })
	sort.Slice(snap.Gauges, func(i, j int) bool { return snap.Gauges[i].Name < snap.Gauges[j].Name })
	return snap
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := name
	for _, k := range keys {
		key += "|" + k + "=" + labels[k]
	}
	return key
}
