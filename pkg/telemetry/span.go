package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	lferrors "github.com/logflow/tracemine/pkg/errors"
)

// Span names for the phases of a run.
const (
	SpanRun     = "tracemine.run"
	SpanMine    = "tracemine.mine"
	SpanRefine  = "tracemine.refine"
	SpanCoarsen = "tracemine.coarsen"
)

// Attribute keys.
const (
	AttrRunID      = attribute.Key("tracemine.run_id")
	AttrOracle     = attribute.Key("tracemine.oracle")
	AttrTraces     = attribute.Key("tracemine.traces")
	AttrEvents     = attribute.Key("tracemine.events")
	AttrInvariants = attribute.Key("tracemine.invariants")
	AttrPartitions = attribute.Key("tracemine.partitions")
	AttrSplits     = attribute.Key("tracemine.splits")
	AttrMerges     = attribute.Key("tracemine.merges")
	AttrRollbacks  = attribute.Key("tracemine.rollbacks")
	AttrErrorCode  = attribute.Key("tracemine.error_code")
)

// Start begins a span with the given attributes.
func Start(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// End closes span, recording err and its error code if err is non-nil.
func End(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if code := lferrors.GetCode(err); code != "" {
			span.SetAttributes(AttrErrorCode.String(string(code)))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddEvent adds an event to the current span from context.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// Attribute converts a key-value pair to an attribute.
func Attribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
