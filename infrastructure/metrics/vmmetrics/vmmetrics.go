// Package vmmetrics implements the proxy metrics contract on top of
// VictoriaMetrics counters and summaries, for services that scrape
// Prometheus-format metrics.
package vmmetrics

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/jrazmi/storeproxy/core/proxy"
)

// Collector implements proxy.Metrics backed by a private metric set, so
// multiple adapters can be scraped independently.
type Collector struct {
	set *metrics.Set

	// aggregates for snapshots; the labeled series don't sum cheaply
	dispatched   atomic.Int64
	completed    atomic.Int64
	softFailures atomic.Int64
	faults       atomic.Int64
	totalNs      atomic.Int64
}

// New creates an empty collector.
func New() *Collector {
	return &Collector{
		set: metrics.NewSet(),
	}
}

func (c *Collector) RecordDispatch(action proxy.Action) {
	c.dispatched.Add(1)
	c.counter("storeproxy_dispatched_total", action).Inc()
}

func (c *Collector) RecordCompleted(action proxy.Action, duration time.Duration) {
	c.completed.Add(1)
	c.totalNs.Add(duration.Nanoseconds())
	c.counter("storeproxy_completed_total", action).Inc()
	c.summary(action).Update(duration.Seconds())
}

func (c *Collector) RecordSoftFailure(action proxy.Action, duration time.Duration) {
	c.softFailures.Add(1)
	c.totalNs.Add(duration.Nanoseconds())
	c.counter("storeproxy_soft_failures_total", action).Inc()
	c.summary(action).Update(duration.Seconds())
}

func (c *Collector) RecordFault(action proxy.Action, duration time.Duration) {
	c.faults.Add(1)
	c.totalNs.Add(duration.Nanoseconds())
	c.counter("storeproxy_faults_total", action).Inc()
	c.summary(action).Update(duration.Seconds())
}

func (c *Collector) GetSnapshot() proxy.MetricsSnapshot {
	dispatched := c.dispatched.Load()
	completed := c.completed.Load()
	softFailures := c.softFailures.Load()
	faults := c.faults.Load()
	totalNs := c.totalNs.Load()

	terminal := completed + softFailures + faults

	snapshot := proxy.MetricsSnapshot{
		Dispatched:    dispatched,
		Completed:     completed,
		SoftFailures:  softFailures,
		Faults:        faults,
		InFlight:      dispatched - terminal,
		TotalDuration: time.Duration(totalNs),
		CollectedAt:   time.Now(),
	}
	if terminal > 0 {
		snapshot.AverageDuration = time.Duration(totalNs / terminal)
	}
	return snapshot
}

// WritePrometheus writes the collector's series in Prometheus text
// format.
func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}

func (c *Collector) counter(name string, action proxy.Action) *metrics.Counter {
	return c.set.GetOrCreateCounter(fmt.Sprintf(`%s{action=%q}`, name, action))
}

func (c *Collector) summary(action proxy.Action) *metrics.Summary {
	return c.set.GetOrCreateSummary(fmt.Sprintf(`storeproxy_roundtrip_seconds{action=%q}`, action))
}
