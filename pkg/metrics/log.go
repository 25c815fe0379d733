package metrics

import (
	"sort"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogExporter writes each metric as a structured log entry.
// Useful for debugging and development.
type LogExporter struct {
	logger *zap.Logger
	level  zapcore.Level
}

// NewLogExporter logs metrics to logger at level.
func NewLogExporter(logger *zap.Logger, level zapcore.Level) *LogExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogExporter{logger: logger.Named("metrics"), level: level}
}

// Counter logs a counter increment.
func (l *LogExporter) Counter(name string, value int64, tags map[string]string) {
	l.log("counter", name, zap.Int64("value", value), tags)
}

// Gauge logs a gauge value.
func (l *LogExporter) Gauge(name string, value float64, tags map[string]string) {
	l.log("gauge", name, zap.Float64("value", value), tags)
}

// Histogram logs a histogram sample.
func (l *LogExporter) Histogram(name string, value float64, tags map[string]string) {
	l.log("histogram", name, zap.Float64("value", value), tags)
}

// Timer logs a duration.
func (l *LogExporter) Timer(name string, duration time.Duration, tags map[string]string) {
	l.log("timer", name, zap.Duration("value", duration), tags)
}

// Flush syncs the logger.
func (l *LogExporter) Flush() error {
	_ = l.logger.Sync()
	return nil
}

// Close flushes the exporter.
func (l *LogExporter) Close() error {
	return l.Flush()
}

func (l *LogExporter) log(kind, name string, value zap.Field, tags map[string]string) {
	ce := l.logger.Check(l.level, name)
	if ce == nil {
		return
	}
	fields := []zap.Field{zap.String("type", kind), value}
	if len(tags) > 0 {
		keys := make([]string, 0, len(tags))
		for k := range tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fields = append(fields, zap.String(k, tags[k]))
		}
	}
	ce.Write(fields...)
}

var _ Exporter = (*LogExporter)(nil)
