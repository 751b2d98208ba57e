package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Collector owns the span tree for exactly one workflow execution. Writes
// are confined to the owning engine instance; Export/Spans are safe for
// concurrent readers.
type Collector struct {
	mu      sync.RWMutex
	traceID string
	spans   map[string]*Span
	order   []string

	// otelTracer, when set, dual-exports every collected span into a real
	// OTEL trace via otelSpans keyed by our SpanID.
	otelTracer trace.Tracer
	otelCtx    context.Context
	otelSpans  map[string]trace.Span
}

// NewCollector creates a collector for a fresh trace.
func NewCollector() *Collector {
	return &Collector{
		traceID: newSpanID(),
		spans:   make(map[string]*Span),
	}
}

// BindOTEL attaches an external OTEL TracerProvider so every span this
// collector creates is also exported through tracer, preserving parent/child
// linkage. ctx is the base context new OTEL spans are started from.
func (c *Collector) BindOTEL(ctx context.Context, tracer trace.Tracer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.otelTracer = tracer
	c.otelCtx = ctx
	c.otelSpans = make(map[string]trace.Span)
}

// TraceID returns the trace identifier shared by every span in this collector.
func (c *Collector) TraceID() string { return c.traceID }

// StartSpan begins a new span, optionally nested under parentSpanID ("" for
// the root). Returns the new span's id.
func (c *Collector) StartSpan(name string, attributes map[string]any, parentSpanID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := newSpanID()
	if attributes == nil {
		attributes = map[string]any{}
	}
	s := &Span{
		SpanID:     id,
		TraceID:    c.traceID,
		ParentSpan: parentSpanID,
		Name:       name,
		Start:      time.Now(),
		Status:     Status{Code: StatusUnset},
		Attributes: attributes,
	}
	c.spans[id] = s
	c.order = append(c.order, id)

	if c.otelTracer != nil {
		ctx := c.otelCtx
		if parent, ok := c.otelSpans[parentSpanID]; ok {
			ctx = trace.ContextWithSpan(c.otelCtx, parent)
		}
		_, otspan := c.otelTracer.Start(ctx, name, trace.WithAttributes(toAttrs(attributes)...))
		c.otelSpans[id] = otspan
	}
	return id
}

// EndSpan finalizes a span with the given status. message is recorded when
// code is StatusError.
func (c *Collector) EndSpan(spanID string, code StatusCode, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.spans[spanID]
	if !ok {
		return
	}
	s.End = time.Now()
	s.Status = Status{Code: code, Message: message}

	if ot, ok := c.otelSpans[spanID]; ok {
		ot.SetStatus(statusToOtel(code), message)
		ot.End()
	}
}

// SetAttribute adds or overwrites a scalar attribute on an open or closed span.
func (c *Collector) SetAttribute(spanID, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.spans[spanID]
	if !ok {
		return
	}
	s.Attributes[key] = value
	if ot, ok := c.otelSpans[spanID]; ok {
		ot.SetAttributes(toAttrs(map[string]any{key: value})...)
	}
}

// AddEvent records a timestamped event on the span.
func (c *Collector) AddEvent(spanID, name string, attributes map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.spans[spanID]
	if !ok {
		return
	}
	ev := Event{Name: name, Timestamp: time.Now(), Attributes: attributes}
	s.Events = append(s.Events, ev)
	if ot, ok := c.otelSpans[spanID]; ok {
		ot.AddEvent(name, trace.WithAttributes(toAttrs(attributes)...))
	}
}

// RecordError records an error on the span as an exception event and sets
// its status to ERROR.
func (c *Collector) RecordError(spanID string, err error) {
	if err == nil {
		return
	}
	c.AddEvent(spanID, "exception", map[string]any{"exception.message": err.Error()})
	c.EndSpan(spanID, StatusError, err.Error())
}

// Spans returns a snapshot copy of every span in start order, safe for
// concurrent readers such as the execution store or an exporter.
func (c *Collector) Spans() []Span {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Span, 0, len(c.order))
	for _, id := range c.order {
		s := *c.spans[id]
		attrs := make(map[string]any, len(s.Attributes))
		for k, v := range s.Attributes {
			attrs[k] = v
		}
		s.Attributes = attrs
		out = append(out, s)
	}
	return out
}

// RootDuration returns the duration of the first span recorded (the root,
// by construction the execution's "enter running" step), or 0 if it hasn't
// ended.
func (c *Collector) RootDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.order) == 0 {
		return 0
	}
	return c.spans[c.order[0]].Duration()
}

func statusToOtel(code StatusCode) codes.Code {
	switch code {
	case StatusOK:
		return codes.Ok
	case StatusError:
		return codes.Error
	default:
		return codes.Unset
	}
}

func toAttrs(attributes map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case int64:
			out = append(out, attribute.Int64(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		default:
			out = append(out, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return out
}
