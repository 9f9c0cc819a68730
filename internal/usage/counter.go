package usage

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter is the process-wide count of successful transformations. The
// pipeline is its sole writer and increments it exactly once per terminal
// success; demo runs count too, so quota accounting stays consistent across
// mode switches.
type Counter struct {
	total atomic.Int64
	gauge prometheus.Gauge
}

func NewCounter() *Counter {
	return &Counter{}
}

// NewCounterWithGauge mirrors every increment into a prometheus gauge so the
// count is scrapeable alongside the worker metrics.
func NewCounterWithGauge(gauge prometheus.Gauge) *Counter {
	return &Counter{gauge: gauge}
}

func (c *Counter) Increment() int64 {
	n := c.total.Add(1)
	if c.gauge != nil {
		c.gauge.Set(float64(n))
	}
	return n
}

func (c *Counter) Total() int64 {
	return c.total.Load()
}
