package metrics

import (
	lib "github.com/prometheus/client_golang/prometheus"
)

// QueueCollector exposes the residency/rate counters tracked by a single
// queue engine instance. It implements prometheus.Collector so it can be
// registered on an Operator's registry.
type QueueCollector struct {
	name string

	length          lib.Gauge
	persistentCount lib.Gauge
	ramMsgCount     lib.Gauge
	ramIndexCount   lib.Gauge
	ramDurationSecs lib.Gauge

	publishes lib.Counter
	fetches   lib.Counter
	acks      lib.Counter
	requeues  lib.Counter

	phaseBatch lib.Histogram
}

// NewQueueCollector returns a collector labeled with the given queue name.
// Call Registry().MustRegister (or Register, to handle the error) on the
// returned value to make it visible on an Operator's /metrics endpoint.
func NewQueueCollector(name string) *QueueCollector {
	labels := lib.Labels{"queue": name}
	return &QueueCollector{
		name: name,
		length: lib.NewGauge(lib.GaugeOpts{
			Name: "queue_length", Help: "Total number of messages currently held by the queue.", ConstLabels: labels,
		}),
		persistentCount: lib.NewGauge(lib.GaugeOpts{
			Name: "queue_persistent_count", Help: "Number of persistent messages currently held by the queue.", ConstLabels: labels,
		}),
		ramMsgCount: lib.NewGauge(lib.GaugeOpts{
			Name: "queue_ram_msg_count", Help: "Number of messages whose body currently resides in RAM (alpha tier).", ConstLabels: labels,
		}),
		ramIndexCount: lib.NewGauge(lib.GaugeOpts{
			Name: "queue_ram_index_count", Help: "Number of messages whose index position currently resides in RAM.", ConstLabels: labels,
		}),
		ramDurationSecs: lib.NewGauge(lib.GaugeOpts{
			Name: "queue_ram_duration_seconds", Help: "Last computed RAM duration estimate, in seconds.", ConstLabels: labels,
		}),
		publishes: lib.NewCounter(lib.CounterOpts{
			Name: "queue_publishes_total", Help: "Total number of publish operations accepted.", ConstLabels: labels,
		}),
		fetches: lib.NewCounter(lib.CounterOpts{
			Name: "queue_fetches_total", Help: "Total number of successful fetch operations.", ConstLabels: labels,
		}),
		acks: lib.NewCounter(lib.CounterOpts{
			Name: "queue_acks_total", Help: "Total number of acknowledged deliveries.", ConstLabels: labels,
		}),
		requeues: lib.NewCounter(lib.CounterOpts{
			Name: "queue_requeues_total", Help: "Total number of requeued deliveries.", ConstLabels: labels,
		}),
		phaseBatch: lib.NewHistogram(lib.HistogramOpts{
			Name: "queue_phase_change_batch_duration_seconds", Help: "Duration of a single phase-change batch.",
			ConstLabels: labels, Buckets: lib.DefBuckets,
		}),
	}
}

// Describe implements prometheus.Collector.
func (c *QueueCollector) Describe(ch chan<- *lib.Desc) {
	for _, m := range c.collectors() {
		m.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *QueueCollector) Collect(ch chan<- lib.Metric) {
	for _, m := range c.collectors() {
		m.Collect(ch)
	}
}

func (c *QueueCollector) collectors() []lib.Collector {
	return []lib.Collector{
		c.length, c.persistentCount, c.ramMsgCount, c.ramIndexCount, c.ramDurationSecs,
		c.publishes, c.fetches, c.acks, c.requeues, c.phaseBatch,
	}
}

// ObservePublish records a publish event and the new queue length/persistent count.
func (c *QueueCollector) ObservePublish(length, persistentCount int) {
	c.publishes.Inc()
	c.length.Set(float64(length))
	c.persistentCount.Set(float64(persistentCount))
}

// ObserveFetch records a fetch event and the new queue length.
func (c *QueueCollector) ObserveFetch(length int) {
	c.fetches.Inc()
	c.length.Set(float64(length))
}

// ObserveAck records an ack event.
func (c *QueueCollector) ObserveAck(n int) {
	for i := 0; i < n; i++ {
		c.acks.Inc()
	}
}

// ObserveRequeue records a requeue event and the new queue length.
func (c *QueueCollector) ObserveRequeue(n, length int) {
	for i := 0; i < n; i++ {
		c.requeues.Inc()
	}
	c.length.Set(float64(length))
}

// SetResidency updates the RAM residency gauges.
func (c *QueueCollector) SetResidency(ramMsgCount, ramIndexCount int) {
	c.ramMsgCount.Set(float64(ramMsgCount))
	c.ramIndexCount.Set(float64(ramIndexCount))
}

// SetRAMDuration updates the last computed RAM duration estimate. Infinite
// durations are reported as -1 to keep the gauge finite.
func (c *QueueCollector) SetRAMDuration(seconds float64) {
	c.ramDurationSecs.Set(seconds)
}

// ObservePhaseBatch records the wall-clock cost of a phase-change batch.
func (c *QueueCollector) ObservePhaseBatch(seconds float64) {
	c.phaseBatch.Observe(seconds)
}
