package metrics

import "time"

// Noop discards all metrics.
type Noop struct{}

// NewNoop creates a new noop exporter.
func NewNoop() *Noop {
	return &Noop{}
}

func (Noop) Counter(name string, value int64, tags map[string]string)          {}
func (Noop) Gauge(name string, value float64, tags map[string]string)          {}
func (Noop) Histogram(name string, value float64, tags map[string]string)      {}
func (Noop) Timer(name string, duration time.Duration, tags map[string]string) {}
func (Noop) Flush() error                                                      { return nil }
func (Noop) Close() error                                                      { return nil }

var _ Exporter = Noop{}
