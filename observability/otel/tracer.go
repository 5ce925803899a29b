// Package otel traces task execution with OpenTelemetry.
package otel

import (
	"context"
	"fmt"
	"sync"

	"github.com/Swind/go-task-engine/core"
	gootel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Swind/go-task-engine"

// Tracer is a core.TaskLifecycleHook that opens one span per task body. The span is
// a child of whatever span the submitting code had in its context, so the work a
// task submits nests under it.
type Tracer struct {
	tracer trace.Tracer
	spans  sync.Map // core.TaskID -> trace.Span
}

var _ core.TaskLifecycleHook = (*Tracer)(nil)

// NewTracer creates a tracer from the global OpenTelemetry provider.
func NewTracer() *Tracer {
	return NewTracerWithProvider(gootel.GetTracerProvider())
}

// NewTracerWithProvider creates a tracer from tp.
func NewTracerWithProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(instrumentationName)}
}

// OnTaskSubmitted notes the submission on the submitter's span, if any.
func (t *Tracer) OnTaskSubmitted(ctx context.Context, task core.Task) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("task.submitted", trace.WithAttributes(
		attribute.String("task.id", task.ID().String()),
		attribute.String("task.name", task.DisplayName()),
	))
}

// OnTaskBegin starts the task's span and returns the context carrying it.
func (t *Tracer) OnTaskBegin(ctx context.Context, task core.Task) context.Context {
	attrs := []attribute.KeyValue{
		attribute.String("task.id", task.ID().String()),
		attribute.String("task.kind", kindOf(task)),
	}
	if m := core.CurrentManager(ctx); m != nil {
		attrs = append(attrs, attribute.String("task.manager", m.Name()))
	}
	if tags := task.Tags(); len(tags) > 0 {
		names := make([]string, 0, len(tags))
		for _, tag := range tags {
			names = append(names, fmt.Sprint(tag))
		}
		attrs = append(attrs, attribute.StringSlice("task.tags", names))
	}
	if parent := task.Parent(); parent != nil {
		attrs = append(attrs, attribute.String("task.parent_id", parent.ID().String()))
	}

	ctx, span := t.tracer.Start(ctx, task.DisplayName(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
	t.spans.Store(task.ID(), span)
	return ctx
}

// OnTaskEnd ends the task's span with its outcome. Tasks that never began have none.
func (t *Tracer) OnTaskEnd(task core.Task) {
	v, ok := t.spans.LoadAndDelete(task.ID())
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attribute.String("task.state", task.State().String()))

	switch err := task.Err(); {
	case task.IsCancelled():
		span.SetStatus(codes.Error, "cancelled")
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func kindOf(task core.Task) string {
	switch task.(type) {
	case *core.DynamicSequentialTask:
		return "dynamic_sequential"
	case *core.ParallelTask:
		return "parallel"
	case *core.ScheduledTask:
		return "scheduled"
	default:
		return "basic"
	}
}
