// Package tracing implements the per-execution Span Collector & Trace Bus: an
// OpenTelemetry-compatible span tree attached to a single workflow execution,
// independent of the ambient telemetry.Tracer used for component-internal
// instrumentation.
package tracing

import (
	"time"

	"github.com/google/uuid"
)

// StatusCode mirrors the OTEL span status codes.
type StatusCode string

const (
	// StatusUnset is the default status before a span ends.
	StatusUnset StatusCode = "UNSET"
	// StatusOK marks a span that completed without error.
	StatusOK StatusCode = "OK"
	// StatusError marks a span that recorded a failure.
	StatusError StatusCode = "ERROR"
)

// Event is a timestamped annotation attached to a span.
type Event struct {
	Name       string
	Timestamp  time.Time
	Attributes map[string]any
}

// Status is the terminal outcome recorded on End.
type Status struct {
	Code    StatusCode
	Message string
}

// Span is one node in the execution's span tree. Attribute values are
// restricted to strings, numbers, and booleans.
type Span struct {
	SpanID     string
	TraceID    string
	ParentSpan string
	Name       string
	Start      time.Time
	End        time.Time
	Status     Status
	Attributes map[string]any
	Events     []Event
}

// Duration returns End-Start. Zero if the span has not ended yet.
func (s *Span) Duration() time.Duration {
	if s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

func newSpanID() string { return uuid.NewString() }
