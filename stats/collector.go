package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eidolon/broadcast"
	"eidolon/ingest"
)

const namespace = "eidolon"

// Sources are the read functions the collector samples on each scrape. Nil
// entries are skipped.
type Sources struct {
	Scheduler   func() broadcast.Stats
	Registry    func() (broadcasts, deliveries, failures uint64)
	Subscribers func() int
	Ingest      func() ingest.Counters
	Captures    func() (captures, viewFailures uint64)
	Unmapped    func() uint64
	Ring        func() (length, capacity int, evicted uint64)
	Tracker     *Tracker
}

// Collector adapts agent counters to prometheus.Collector.
type Collector struct {
	src Sources

	ticks, skipped, tickFailures, broadcasts  *prometheus.Desc
	deliveries, deliveryFailures, subscribers *prometheus.Desc
	events, captures, viewFailures, unmapped  *prometheus.Desc
	ringLen, ringCap, ringEvicted             *prometheus.Desc
	connections, activeConnections, dropped   *prometheus.Desc
}

// NewCollector builds a collector over src.
func NewCollector(src Sources) *Collector {
	d := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		src:               src,
		ticks:             d("broadcast_ticks_total", "Broadcast scheduler ticks."),
		skipped:           d("broadcast_ticks_skipped_total", "Ticks skipped because no subscriber was registered."),
		tickFailures:      d("broadcast_tick_failures_total", "Ticks that failed during capture or encoding."),
		broadcasts:        d("broadcasts_total", "Snapshots fanned out to subscribers."),
		deliveries:        d("deliveries_total", "Successful per-subscriber deliveries."),
		deliveryFailures:  d("delivery_failures_total", "Failed per-subscriber deliveries."),
		subscribers:       d("subscribers", "Currently registered subscribers."),
		events:            d("lifecycle_events_total", "Lifecycle notifications by outcome.", "outcome"),
		captures:          d("captures_total", "Snapshots captured."),
		viewFailures:      d("capture_view_failures_total", "Snapshot views that degraded."),
		unmapped:          d("capture_unmapped_states_total", "Goroutines with an undefined state counted as WAITING."),
		ringLen:           d("event_buffer_events", "Events currently held in the ring."),
		ringCap:           d("event_buffer_capacity", "Event ring capacity."),
		ringEvicted:       d("event_buffer_evicted_total", "Events evicted by newer ones."),
		connections:       d("transport_connections_total", "Subscriber connections opened.", "transport"),
		activeConnections: d("transport_connections_active", "Subscriber connections currently open.", "transport"),
		dropped:           d("transport_payloads_dropped_total", "Payloads a transport could not queue.", "transport"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range []*prometheus.Desc{
		c.ticks, c.skipped, c.tickFailures, c.broadcasts,
		c.deliveries, c.deliveryFailures, c.subscribers,
		c.events, c.captures, c.viewFailures, c.unmapped,
		c.ringLen, c.ringCap, c.ringEvicted,
		c.connections, c.activeConnections, c.dropped,
	} {
		ch <- desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(desc *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, labels...)
	}

	if c.src.Scheduler != nil {
		st := c.src.Scheduler()
		counter(c.ticks, st.Ticks)
		counter(c.skipped, st.Skipped)
		counter(c.tickFailures, st.Failures)
		counter(c.broadcasts, st.Broadcasts)
	}
	if c.src.Registry != nil {
		_, deliveries, failures := c.src.Registry()
		counter(c.deliveries, deliveries)
		counter(c.deliveryFailures, failures)
	}
	if c.src.Subscribers != nil {
		gauge(c.subscribers, float64(c.src.Subscribers()))
	}
	if c.src.Ingest != nil {
		ic := c.src.Ingest()
		counter(c.events, ic.Accepted, "accepted")
		counter(c.events, ic.Filtered, "filtered")
		counter(c.events, ic.Malformed, "malformed")
		counter(c.events, ic.Unrecognized, "unrecognized")
		counter(c.events, ic.Dropped, "dropped")
	}
	if c.src.Captures != nil {
		captures, failures := c.src.Captures()
		counter(c.captures, captures)
		counter(c.viewFailures, failures)
	}
	if c.src.Unmapped != nil {
		counter(c.unmapped, c.src.Unmapped())
	}
	if c.src.Ring != nil {
		length, capacity, evicted := c.src.Ring()
		gauge(c.ringLen, float64(length))
		gauge(c.ringCap, float64(capacity))
		counter(c.ringEvicted, evicted)
	}
	if t := c.src.Tracker; t != nil {
		for transport, n := range t.Opened() {
			counter(c.connections, n, transport)
		}
		for transport, n := range t.Active() {
			gauge(c.activeConnections, float64(n), transport)
		}
		for transport, n := range t.Dropped() {
			counter(c.dropped, n, transport)
		}
	}
}

// Handler returns an HTTP handler serving c on a private registry.
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
