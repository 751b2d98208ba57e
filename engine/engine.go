package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/weavegraph/weavegraph/contract"
	"github.com/weavegraph/weavegraph/errs"
	"github.com/weavegraph/weavegraph/eventbus"
	"github.com/weavegraph/weavegraph/executor"
	"github.com/weavegraph/weavegraph/store"
	"github.com/weavegraph/weavegraph/subscription"
	"github.com/weavegraph/weavegraph/telemetry"
	"github.com/weavegraph/weavegraph/tracing"
	"github.com/weavegraph/weavegraph/workflow"
)

// DefinitionLookup resolves a workflow id to its Definition, used to invoke
// subworkflow nodes.
type DefinitionLookup func(workflowID string) (workflow.Definition, bool)

// Engine walks workflow.Definition graphs to completion, pause, or failure.
// It owns no state of its own beyond its collaborators —
// every execution's state lives in a fresh ExecutionContext (and, on pause,
// in the attached subscription.Registry) — so a single Engine safely
// serves concurrent executions.
type Engine struct {
	registry      *contract.Registry
	executor      *executor.Executor
	bus           *eventbus.Bus
	store         *store.Store
	subs          *subscription.Registry
	definitions   DefinitionLookup
	logger        telemetry.Logger
	expr          *exprCondition
}

// Option configures an Engine.
type Option func(*Engine)

// WithBus attaches an Event Bus; lifecycle events are unpublished if absent.
func WithBus(b *eventbus.Bus) Option { return func(e *Engine) { e.bus = b } }

// WithStore attaches an Execution Store; execution history is not recorded
// if absent.
func WithStore(s *store.Store) Option { return func(e *Engine) { e.store = s } }

// WithSubscriptions attaches the Subscription Registry used to park paused
// executions. Required for any workflow containing an await node.
func WithSubscriptions(s *subscription.Registry) Option {
	return func(e *Engine) { e.subs = s }
}

// WithDefinitionLookup supplies the resolver subworkflow nodes use to find
// their child Definition.
func WithDefinitionLookup(l DefinitionLookup) Option { return func(e *Engine) { e.definitions = l } }

// WithLogger configures the engine's logger. Defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option { return func(e *Engine) { e.logger = l } }

// New builds an Engine against a procedure registry and executor.
func New(registry *contract.Registry, exec *executor.Executor, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		executor: exec,
		logger:   telemetry.NewNoopLogger(),
		expr:     newExprCondition(),
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e
}

// Result is what Execute/Resume return: the terminal or paused state of one
// execution.
type Result struct {
	ExecutionID string
	WorkflowID  string
	Status      store.Status
	Output      any
	Variables   map[string]any
	// Outputs is the node-id -> output map accumulated over the execution,
	// populated on completion and pause alike.
	Outputs map[string]any
	Err     error
}

// ExecuteOptions customizes a single Execute call.
type ExecuteOptions struct {
	// ExecutionID, if empty, is generated.
	ExecutionID string
	Input       map[string]any
	// Timeout bounds the whole execution; zero means no timeout. Exceeding
	// it behaves as cancellation.
	Timeout time.Duration
	// Collector, if nil, a fresh per-execution tracing.Collector is created.
	Collector *tracing.Collector
}

// Execute validates def and runs it from its start node to completion,
// pause, failure, or cancellation.
func (e *Engine) Execute(ctx context.Context, def workflow.Definition, opts ExecuteOptions) Result {
	if err := workflow.Validate(def, e.registry); err != nil {
		return Result{WorkflowID: def.ID, Status: store.StatusFailed, Err: err}
	}

	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}
	collector := opts.Collector
	if collector == nil {
		collector = tracing.NewCollector()
	}

	ec := NewExecutionContext(def.ID, executionID, def.Variables, opts.Input, time.Now())
	rootSpan := collector.StartSpan("workflow.execute", map[string]any{
		"workflow.id":           def.ID,
		"workflow.name":         def.Name,
		"workflow.execution_id": executionID,
	}, "")

	if e.store != nil {
		_ = e.store.Start(executionID, def.ID, ec.StartTime)
	}
	e.publish(executionID, def.ID, eventbus.KindWorkflowStarted, nil)

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	dopts := DispatchOptions{ExecutionID: executionID, WorkflowID: def.ID, ParentSpanID: rootSpan}
	wr := e.walk(runCtx, def, def.StartNode, ec, dopts, collector)

	result := e.finalize(def.ID, executionID, ec, wr, collector, rootSpan)
	return result
}

// ResumeOptions customizes a single Resume call.
type ResumeOptions struct {
	EventPayload map[string]any
	Collector    *tracing.Collector
}

// Resume re-enters a previously paused execution after a matching external
// event, validating the event's payload against the awaiting node's schema
// (if any) before continuing past it. Resume attempts for the same
// executionID are serialized via the Subscription Registry.
func (e *Engine) Resume(ctx context.Context, def workflow.Definition, executionID string, opts ResumeOptions) Result {
	if e.subs == nil {
		return Result{ExecutionID: executionID, WorkflowID: def.ID, Status: store.StatusFailed, Err: errs.New(errs.KindResumeRejected, "engine: no subscription registry attached")}
	}
	mu := e.subs.Lock(executionID)
	mu.Lock()
	defer mu.Unlock()

	paused, ok := e.subs.Get(executionID)
	if !ok {
		return Result{ExecutionID: executionID, WorkflowID: def.ID, Status: store.StatusFailed, Err: subscription.ErrNotPaused}
	}

	node, ok := def.NodeByID(paused.WaitingFor)
	if !ok || node.Kind != workflow.KindAwait {
		return Result{ExecutionID: executionID, WorkflowID: def.ID, Status: store.StatusFailed, Err: errs.New(errs.KindNodeNotFound, "engine: resume target %q is not an await node", paused.WaitingFor)}
	}
	if !paused.ResumeCriteria.Matches(opts.EventPayload, paused.SerializedResumeState.Variables) {
		return Result{ExecutionID: executionID, WorkflowID: def.ID, Status: store.StatusPaused, Err: errs.New(errs.KindResumeRejected, "engine: event rejected by await filter for execution %q; still paused", executionID)}
	}
	if node.Await.Schema != nil {
		if err := node.Await.Schema.Validate(errs.KindInputValidation, opts.EventPayload); err != nil {
			return Result{ExecutionID: executionID, WorkflowID: def.ID, Status: store.StatusPaused, Err: err}
		}
	}

	collector := opts.Collector
	if collector == nil {
		collector = tracing.NewCollector()
	}
	ec := FromResumeState(paused.SerializedResumeState)
	ec.Merge("", opts.EventPayload)
	ec.RecordOutput(node.ID, opts.EventPayload)

	e.subs.Remove(executionID)
	e.publish(executionID, def.ID, eventbus.KindWorkflowResumed, nil)

	rootSpan := collector.StartSpan("workflow.resume", map[string]any{
		"workflow.id":           def.ID,
		"workflow.execution_id": executionID,
	}, "")
	dopts := DispatchOptions{ExecutionID: executionID, WorkflowID: def.ID, ParentSpanID: rootSpan}
	wr := e.walk(ctx, def, node.Await.Successor, ec, dopts, collector)
	return e.finalize(def.ID, executionID, ec, wr, collector, rootSpan)
}

type walkOutcomeKind int

const (
	walkCompleted walkOutcomeKind = iota
	walkFailed
	walkPaused
	walkCancelled
)

type walkOutcome struct {
	kind   walkOutcomeKind
	output any
	err    error
	pause  *pausePoint
}

type pausePoint struct {
	nodeID   string
	criteria workflow.ResumeCriteria
	timeout  time.Duration
	deadline *time.Time
}

func (e *Engine) walk(ctx context.Context, def workflow.Definition, start string, ec *ExecutionContext, opts DispatchOptions, collector *tracing.Collector) walkOutcome {
	current := start
	for {
		select {
		case <-ctx.Done():
			return walkOutcome{kind: walkCancelled, err: ctx.Err()}
		default:
		}

		node, ok := def.NodeByID(current)
		if !ok {
			return walkOutcome{kind: walkFailed, err: errs.New(errs.KindNodeNotFound, "engine: node %q does not exist", current)}
		}

		switch node.Kind {
		case workflow.KindParallel:
			outputs, err := e.dispatchParallel(ctx, def, node, ec, opts, collector)
			if err != nil {
				if node.OnError != "" {
					current = node.OnError
					continue
				}
				return walkOutcome{kind: walkFailed, err: err}
			}
			ec.RecordOutput(node.ID, outputs)
			ec.MarkExecuted(node.ID)
			e.recordNodeStatus(opts.ExecutionID, node.ID, store.StatusCompleted, outputs, "")
			current = node.Parallel.Successor

		case workflow.KindAwait:
			var deadline *time.Time
			if node.Await.Timeout > 0 {
				d := time.Now().Add(node.Await.Timeout)
				deadline = &d
			}
			ec.MarkExecuted(node.ID)
			return walkOutcome{kind: walkPaused, pause: &pausePoint{
				nodeID: node.ID,
				criteria: workflow.ResumeCriteria{
					Provider:         node.Await.Provider,
					EventType:        node.Await.EventType,
					Filter:           node.Await.Filter,
					FilterExpression: node.Await.FilterExpression,
				},
				timeout:  node.Await.Timeout,
				deadline: deadline,
			}}

		case workflow.KindSubworkflow:
			output, err := e.dispatchSubworkflow(ctx, node, ec, opts)
			if err != nil {
				if node.OnError != "" {
					current = node.OnError
					continue
				}
				return walkOutcome{kind: walkFailed, err: err}
			}
			ec.RecordOutput(node.ID, output)
			ec.MarkExecuted(node.ID)
			e.recordNodeStatus(opts.ExecutionID, node.ID, store.StatusCompleted, output, "")
			current = node.Subworkflow.Successor

		default:
			deps := Deps{Registry: e.registry, Executor: e.executor, Bus: e.bus, Collector: collector, Expr: e.expr}
			step := DispatchNode(ctx, def, node, ec, deps, opts)
			ec.MarkExecuted(node.ID)
			if step.Outcome == StepFailed {
				e.recordNodeStatus(opts.ExecutionID, node.ID, store.StatusFailed, nil, step.Err.Error())
				if ctx.Err() != nil {
					return walkOutcome{kind: walkCancelled, err: ctx.Err()}
				}
				return walkOutcome{kind: walkFailed, err: step.Err}
			}
			e.recordNodeStatus(opts.ExecutionID, node.ID, store.StatusCompleted, nil, "")
			if step.NextNode == "" {
				return walkOutcome{kind: walkCompleted}
			}
			current = step.NextNode
		}
	}
}

// dispatchParallel forks node's branches, each walking its own successor
// chain to a dead end, and merges their final variables under
// "<parallelNodeID>.<branchNodeID>" keys.
func (e *Engine) dispatchParallel(ctx context.Context, def workflow.Definition, node workflow.Node, ec *ExecutionContext, opts DispatchOptions, collector *tracing.Collector) (map[string]map[string]any, error) {
	run := func(branchCtx context.Context, branchStart string) (map[string]any, error) {
		branchEC := ec.Fork()
		wr := e.walk(branchCtx, def, branchStart, branchEC, opts, collector)
		switch wr.kind {
		case walkCompleted:
			return branchEC.Variables(), nil
		case walkCancelled:
			return nil, wr.err
		case walkPaused:
			return nil, errs.New(errs.KindHandlerError, "engine: parallel branch %q paused; nested pause inside a parallel node is not supported", branchStart)
		default:
			return nil, wr.err
		}
	}
	merged, err := runParallel(ctx, node.Parallel.Branches, node.Parallel.Mode, run)
	if err != nil {
		return nil, err
	}
	for branchID, vars := range merged {
		ec.Merge(fmt.Sprintf("%s.%s", node.ID, branchID), vars)
	}
	return merged, nil
}

// dispatchSubworkflow runs a child Definition synchronously to completion.
// A pause inside the child is not supported in this release: it fails the
// subworkflow node (routable via OnError) rather than attempting to thread
// nested resume state through the parent's own pause point.
func (e *Engine) dispatchSubworkflow(ctx context.Context, node workflow.Node, ec *ExecutionContext, opts DispatchOptions) (any, error) {
	cfg := node.Subworkflow
	if e.definitions == nil {
		return nil, errs.New(errs.KindHandlerError, "engine: subworkflow node %q requires a definition lookup", node.ID)
	}
	child, ok := e.definitions(cfg.WorkflowID)
	if !ok {
		return nil, errs.New(errs.KindHandlerError, "engine: subworkflow %q not found", cfg.WorkflowID)
	}

	parentVars := ec.Variables()
	input := make(map[string]any, len(cfg.InputMapping))
	for destKey, varName := range cfg.InputMapping {
		input[destKey] = parentVars[varName]
	}

	result := e.Execute(ctx, child, ExecuteOptions{Input: input})
	if result.Status == store.StatusPaused {
		return nil, errs.New(errs.KindHandlerError, "engine: subworkflow %q paused; nested pause/resume is not supported", cfg.WorkflowID)
	}
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Output, nil
}

func (e *Engine) finalize(workflowID, executionID string, ec *ExecutionContext, wr walkOutcome, collector *tracing.Collector, rootSpan string) Result {
	now := time.Now()
	switch wr.kind {
	case walkCompleted:
		collector.EndSpan(rootSpan, tracing.StatusOK, "")
		collector.SetAttribute(rootSpan, "workflow.nodes_executed_total", len(ec.NodesExecuted()))
		if e.store != nil {
			_ = e.store.Complete(executionID, store.StatusCompleted, ec.Variables(), "", now)
		}
		e.publish(executionID, workflowID, eventbus.KindWorkflowCompleted, nil)
		e.publish(executionID, workflowID, eventbus.KindWorkflowResult, map[string]any{"variables": ec.Variables()})
		return Result{ExecutionID: executionID, WorkflowID: workflowID, Status: store.StatusCompleted, Variables: ec.Variables(), Outputs: ec.Outputs()}

	case walkPaused:
		collector.AddEvent(rootSpan, "workflow.paused", map[string]any{"node": wr.pause.nodeID})
		collector.EndSpan(rootSpan, tracing.StatusOK, "paused")
		if e.subs != nil {
			e.subs.Register(workflow.PausedExecution{
				ExecutionID:           executionID,
				WorkflowID:            workflowID,
				PausedAt:              now,
				ResumeCriteria:        wr.pause.criteria,
				SerializedResumeState: ec.Snapshot(wr.pause.nodeID),
				TimeoutDeadline:       wr.pause.deadline,
				WaitingFor:            wr.pause.nodeID,
			})
		}
		if e.store != nil {
			_ = e.store.Complete(executionID, store.StatusPaused, nil, "", time.Time{})
		}
		e.publish(executionID, workflowID, eventbus.KindWorkflowPaused, map[string]any{"node": wr.pause.nodeID})
		return Result{ExecutionID: executionID, WorkflowID: workflowID, Status: store.StatusPaused, Variables: ec.Variables(), Outputs: ec.Outputs()}

	case walkCancelled:
		collector.RecordError(rootSpan, wr.err)
		if e.store != nil {
			_ = e.store.Complete(executionID, store.StatusCancelled, nil, wr.err.Error(), now)
		}
		e.publish(executionID, workflowID, eventbus.KindWorkflowFailed, map[string]any{"reason": "cancelled"})
		return Result{ExecutionID: executionID, WorkflowID: workflowID, Status: store.StatusCancelled, Err: wr.err}

	default: // walkFailed
		collector.RecordError(rootSpan, wr.err)
		if e.store != nil {
			_ = e.store.Complete(executionID, store.StatusFailed, nil, wr.err.Error(), now)
		}
		e.publish(executionID, workflowID, eventbus.KindWorkflowFailed, map[string]any{"error": wr.err.Error()})
		return Result{ExecutionID: executionID, WorkflowID: workflowID, Status: store.StatusFailed, Err: wr.err}
	}
}

func (e *Engine) recordNodeStatus(executionID, nodeID string, status store.Status, output any, errMsg string) {
	if e.store == nil {
		return
	}
	_ = e.store.UpdateNode(executionID, store.NodeUpdate{NodeID: nodeID, Status: status, UpdatedAt: time.Now(), Output: output, Error: errMsg})
}

func (e *Engine) publish(executionID, workflowID string, kind eventbus.Kind, payload map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Kind: kind, ExecutionID: executionID, WorkflowID: workflowID, Payload: payload})
}
