package engine

import (
	"context"

	"github.com/weavegraph/weavegraph/contract"
	"github.com/weavegraph/weavegraph/errs"
	"github.com/weavegraph/weavegraph/eventbus"
	"github.com/weavegraph/weavegraph/executor"
	"github.com/weavegraph/weavegraph/tracing"
	"github.com/weavegraph/weavegraph/workflow"
)

// Deps bundles the collaborators a single node dispatch needs. Registry and
// Executor are required; Bus, Collector, and Expr are optional — a nil Bus
// or Collector simply means this dispatch is unobserved.
type Deps struct {
	Registry  *contract.Registry
	Executor  *executor.Executor
	Bus       *eventbus.Bus
	Collector *tracing.Collector
	Expr      *exprCondition
}

// StepOutcome tags what a single-node dispatch decided: callers switch on
// Outcome rather than relying on panics or sentinel errors for control flow.
type StepOutcome int

const (
	// StepAdvance means the node ran and NextNode names where to continue.
	// An empty NextNode means this branch of the graph has no further
	// successor and has reached a natural dead end.
	StepAdvance StepOutcome = iota
	// StepFailed means the node produced an unrecoverable error; Err is
	// set and the node had no OnError route (or OnError itself failed to
	// resolve, which validate.go should have already prevented).
	StepFailed
)

// StepResult is the outcome of dispatching exactly one node.
type StepResult struct {
	Outcome  StepOutcome
	NextNode string
	Err      error
}

// DispatchOptions scopes a single node dispatch to its owning execution for
// event/span correlation.
type DispatchOptions struct {
	ExecutionID  string
	WorkflowID   string
	ParentSpanID string
}

// DispatchNode executes the side effect of one procedure, condition,
// sequential, or trigger-passthrough node and returns where to go next. The
// caller (engine.go's walk loop) handles parallel fan-out, await pausing,
// and subworkflow recursion itself, since those affect control flow beyond
// a single node.
func DispatchNode(ctx context.Context, def workflow.Definition, node workflow.Node, ec *ExecutionContext, deps Deps, opts DispatchOptions) StepResult {
	deps.publish(opts, eventbus.KindNodeStarted, node.ID)

	nodeSpan := ""
	if deps.Collector != nil {
		nodeSpan = deps.Collector.StartSpan("workflow.node."+string(node.Kind), map[string]any{
			"node.id":   node.ID,
			"node.kind": string(node.Kind),
		}, opts.ParentSpanID)
	}
	nodeOpts := opts
	nodeOpts.ParentSpanID = nodeSpan

	var result StepResult
	switch node.Kind {
	case workflow.KindProcedure:
		result = dispatchProcedure(ctx, node, ec, deps, nodeOpts)
	case workflow.KindCondition:
		result = dispatchCondition(node, ec, deps, nodeSpan)
	case workflow.KindSequential:
		result = StepResult{Outcome: StepAdvance, NextNode: node.Sequential.Successor}
	case workflow.KindTrigger:
		result = StepResult{Outcome: StepAdvance, NextNode: node.Trigger.Successor}
	default:
		result = StepResult{Outcome: StepFailed, Err: errs.New(errs.KindHandlerError, "engine: node %q has no single-step dispatch (kind %q)", node.ID, node.Kind).WithNode(node.ID)}
	}

	if result.Outcome == StepFailed && result.Err != nil && node.OnError != "" {
		result = StepResult{Outcome: StepAdvance, NextNode: node.OnError}
	}

	if deps.Collector != nil && nodeSpan != "" {
		if result.Outcome == StepFailed && result.Err != nil {
			deps.Collector.RecordError(nodeSpan, result.Err)
		} else {
			deps.Collector.EndSpan(nodeSpan, tracing.StatusOK, "")
		}
	}

	deps.publish(opts, eventbus.KindNodeCompleted, node.ID)
	return result
}

func dispatchProcedure(ctx context.Context, node workflow.Node, ec *ExecutionContext, deps Deps, opts DispatchOptions) StepResult {
	cfg := node.Procedure
	proc, ok := deps.Registry.Get(cfg.ProcedureName)
	if !ok {
		return StepResult{Outcome: StepFailed, Err: executor.NotFoundError(cfg.ProcedureName)}
	}

	input := ec.Variables()
	for k, v := range cfg.Config {
		input[k] = v
	}
	vars := ec.Variables()
	for destKey, varName := range cfg.ExplicitMapping {
		input[destKey] = vars[varName]
	}

	output, err := deps.Executor.Invoke(ctx, proc, input, contract.InvocationContext{}, executor.InvokeOptions{
		ExecutionID:  opts.ExecutionID,
		WorkflowID:   opts.WorkflowID,
		Bus:          deps.Bus,
		Collector:    deps.Collector,
		ParentSpanID: opts.ParentSpanID,
	})
	if err != nil {
		return StepResult{Outcome: StepFailed, Err: errs.Wrap(errs.KindHandlerError, err).WithNode(node.ID)}
	}

	ec.RecordOutput(node.ID, output)
	if outMap, ok := output.(map[string]any); ok {
		if cfg.OutputVariable != "" {
			ec.SetVariable(cfg.OutputVariable, outMap)
		} else {
			ec.Merge("", outMap)
		}
	}
	return StepResult{Outcome: StepAdvance, NextNode: cfg.Successor}
}

func dispatchCondition(node workflow.Node, ec *ExecutionContext, deps Deps, spanID string) StepResult {
	cfg := node.Condition
	vars := ec.Variables()

	var (
		ok  bool
		err error
	)
	if cfg.Predicate != nil {
		ok, err = cfg.Predicate(vars)
	} else if cfg.Expression != "" && deps.Expr != nil {
		ok, err = deps.Expr.Evaluate(cfg.Expression, vars)
	} else {
		err = errs.New(errs.KindHandlerError, "condition node %q has neither a predicate nor an expression", node.ID).WithNode(node.ID)
	}
	if deps.Collector != nil && spanID != "" {
		if cfg.Expression != "" {
			deps.Collector.SetAttribute(spanID, "condition.expression", cfg.Expression)
		}
		if err == nil {
			deps.Collector.SetAttribute(spanID, "condition.result", ok)
		}
	}
	if err != nil {
		return StepResult{Outcome: StepFailed, Err: err}
	}
	branch := cfg.FalseBranch
	if ok {
		branch = cfg.TrueBranch
	}
	if deps.Collector != nil && spanID != "" {
		deps.Collector.SetAttribute(spanID, "condition.branch_taken", branch)
	}
	return StepResult{Outcome: StepAdvance, NextNode: branch}
}

func (d Deps) publish(opts DispatchOptions, kind eventbus.Kind, nodeID string) {
	if d.Bus == nil {
		return
	}
	d.Bus.Publish(eventbus.Event{
		Kind:        kind,
		ExecutionID: opts.ExecutionID,
		WorkflowID:  opts.WorkflowID,
		Payload:     map[string]any{"node": nodeID},
	})
}
