// Package executor implements one-shot procedure invocation: input
// validation strictly precedes the handler call, output validation strictly
// follows, and procedure.{started,completed,failed}
// events are emitted in total order around a child span named after the
// procedure. Shaped after runtime/toolregistry/executor.Executor in the
// teacher repo.
package executor

import (
	"context"
	"time"

	"github.com/weavegraph/weavegraph/contract"
	"github.com/weavegraph/weavegraph/errs"
	"github.com/weavegraph/weavegraph/eventbus"
	"github.com/weavegraph/weavegraph/telemetry"
	"github.com/weavegraph/weavegraph/tracing"
)

type (
	// Executor validates, invokes, and traces a single procedure call.
	Executor struct {
		logger telemetry.Logger
	}

	// Option configures an Executor.
	Option func(*Executor)

	// InvokeOptions scopes a single invocation to an execution's event bus
	// and span collector. All fields are optional; a nil Bus or Collector
	// means the invocation is unobserved (e.g. a direct RPC call with no
	// owning workflow execution).
	InvokeOptions struct {
		ExecutionID  string
		WorkflowID   string
		Bus          *eventbus.Bus
		Collector    *tracing.Collector
		ParentSpanID string
	}
)

// WithLogger configures the executor's logger. Defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New builds an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{logger: telemetry.NewNoopLogger()}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e
}

// Invoke runs proc against input under ictx.
func (e *Executor) Invoke(ctx context.Context, proc *contract.Procedure, input any, ictx contract.InvocationContext, opts InvokeOptions) (any, error) {
	if proc == nil {
		return nil, errs.New(errs.KindProcedureNotFound, "executor: procedure is nil")
	}

	var spanID string
	if opts.Collector != nil {
		spanID = opts.Collector.StartSpan(string(proc.Name()), map[string]any{
			"procedure.name": string(proc.Name()),
		}, opts.ParentSpanID)
	}
	start := time.Now()

	e.publish(opts, eventbus.KindProcedureStarted, map[string]any{"procedure": proc.Name(), "input": input})

	if err := proc.InputSchema().Validate(errs.KindInputValidation, input); err != nil {
		e.fail(opts, spanID, proc, err)
		return nil, err
	}

	output, herr := proc.Handler()(ctx, input, ictx)
	if herr != nil {
		wrapped := errs.Wrap(errs.KindHandlerError, herr)
		e.fail(opts, spanID, proc, wrapped)
		return nil, wrapped
	}

	if err := proc.OutputSchema().Validate(errs.KindOutputValidation, output); err != nil {
		e.fail(opts, spanID, proc, err)
		return nil, err
	}

	if opts.Collector != nil {
		opts.Collector.EndSpan(spanID, tracing.StatusOK, "")
	}
	e.logger.Debug(ctx, "procedure invocation completed", "procedure", string(proc.Name()), "duration_ms", time.Since(start).Milliseconds())
	e.publish(opts, eventbus.KindProcedureComplete, map[string]any{"procedure": proc.Name(), "output": output})
	return output, nil
}

func (e *Executor) fail(opts InvokeOptions, spanID string, proc *contract.Procedure, err error) {
	if opts.Collector != nil && spanID != "" {
		opts.Collector.RecordError(spanID, err)
	}
	e.publish(opts, eventbus.KindProcedureFailed, map[string]any{"procedure": proc.Name(), "error": err.Error()})
}

func (e *Executor) publish(opts InvokeOptions, kind eventbus.Kind, payload map[string]any) {
	if opts.Bus == nil {
		return
	}
	opts.Bus.Publish(eventbus.Event{
		Kind:        kind,
		ExecutionID: opts.ExecutionID,
		WorkflowID:  opts.WorkflowID,
		Payload:     payload,
	})
}

// NotFoundError builds the ProcedureNotFound failure used by callers (e.g.
// the workflow engine, or a transport adapter) that resolve a name against a
// registry before invoking.
func NotFoundError(name contract.Name) error {
	return errs.New(errs.KindProcedureNotFound, "executor: procedure %q is not registered", name)
}
