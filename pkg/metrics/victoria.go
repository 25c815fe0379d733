package metrics

import (
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// VictoriaExporter keeps metrics in a VictoriaMetrics set and renders them in
// the Prometheus text format. Dotted names become underscored; timers are
// histograms in seconds.
type VictoriaExporter struct {
	set *metrics.Set

	mu     sync.Mutex
	gauges map[string]*gaugeValue
}

type gaugeValue struct {
	mu sync.Mutex
	v  float64
}

func (g *gaugeValue) get() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.v
}

// NewVictoriaExporter creates an exporter with its own metric set.
func NewVictoriaExporter() *VictoriaExporter {
	return &VictoriaExporter{
		set:    metrics.NewSet(),
		gauges: make(map[string]*gaugeValue),
	}
}

// Counter adds value to a counter. Negative values are ignored.
func (v *VictoriaExporter) Counter(name string, value int64, tags map[string]string) {
	if value <= 0 {
		return
	}
	v.set.GetOrCreateCounter(metricName(name, "", tags)).Add(int(value))
}

// Gauge sets a gauge.
func (v *VictoriaExporter) Gauge(name string, value float64, tags map[string]string) {
	full := metricName(name, "", tags)

	v.mu.Lock()
	g, ok := v.gauges[full]
	if !ok {
		g = &gaugeValue{}
		v.gauges[full] = g
		v.set.GetOrCreateGauge(full, g.get)
	}
	v.mu.Unlock()

	g.mu.Lock()
	g.v = value
	g.mu.Unlock()
}

// Histogram records a sample.
func (v *VictoriaExporter) Histogram(name string, value float64, tags map[string]string) {
	v.set.GetOrCreateHistogram(metricName(name, "", tags)).Update(value)
}

// Timer records a duration in seconds.
func (v *VictoriaExporter) Timer(name string, duration time.Duration, tags map[string]string) {
	v.set.GetOrCreateHistogram(metricName(name, "_seconds", tags)).Update(duration.Seconds())
}

// WritePrometheus writes all metrics in the Prometheus text format.
func (v *VictoriaExporter) WritePrometheus(w io.Writer) {
	v.set.WritePrometheus(w)
}

// Flush is a no-op; metrics are pulled through WritePrometheus.
func (v *VictoriaExporter) Flush() error {
	return nil
}

// Close is a no-op.
func (v *VictoriaExporter) Close() error {
	return nil
}

// metricName builds `name{k="v",...}` with sorted tag keys.
func metricName(name, suffix string, tags map[string]string) string {
	var sb strings.Builder
	sb.WriteString(strings.NewReplacer(".", "_", "-", "_").Replace(name))
	sb.WriteString(suffix)
	if len(tags) == 0 {
		return sb.String()
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(strconv.Quote(tags[k]))
	}
	sb.WriteByte('}')
	return sb.String()
}

var _ Exporter = (*VictoriaExporter)(nil)
