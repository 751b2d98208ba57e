// Package temporal is the optional durable Engine adapter: the same
// workflow.Definition the in-process engine walks is instead driven by a
// Temporal workflow function, with each procedure node executed as a
// Temporal Activity and await nodes parked on a Temporal signal channel
// instead of the in-memory Subscription Registry. Adapted from the
// ExecuteActivity/GetSignalChannel/NewTimer/Selector shape of
// runtime/agent/engine/temporal/workflow_context.go.
//
// Scope is deliberately narrower than the in-process engine.Engine: a
// Temporal workflow function must be deterministic and its input must
// round-trip through Temporal's data converter, so two of the in-process
// engine's features have no durable equivalent here and are rejected
// instead of silently degraded:
//   - condition.Predicate closures do not serialize; only
//     condition.Expression is evaluated in the durable path.
//   - subworkflow nodes are not supported; RunDefinition returns a failed
//     result if it reaches one, without consulting the node's OnError.
package temporal

import (
	"context"
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	tpworkflow "go.temporal.io/sdk/workflow"

	"github.com/weavegraph/weavegraph/contract"
	"github.com/weavegraph/weavegraph/errs"
	"github.com/weavegraph/weavegraph/executor"
	wfgraph "github.com/weavegraph/weavegraph/workflow"
)

// WorkflowName is the name RunDefinition should be registered under with a
// Temporal worker.
const WorkflowName = "weavegraph.run_definition"

// ActivityName is the name Activities.InvokeProcedure should be registered
// under with a Temporal worker.
const ActivityName = "weavegraph.invoke_procedure"

// ActivityInput is the serializable request for InvokeProcedure.
type ActivityInput struct {
	ProcedureName string
	Input         map[string]any
}

// ActivityOutput is the serializable result of InvokeProcedure.
type ActivityOutput struct {
	Output map[string]any
}

// Activities binds the durable workflow's single activity to a procedure
// registry and executor, the same collaborators engine.Deps supplies
// in-process.
type Activities struct {
	Registry *contract.Registry
	Executor *executor.Executor
}

// InvokeProcedure is the Temporal Activity that resolves and invokes exactly
// one procedure.
func (a *Activities) InvokeProcedure(ctx context.Context, in ActivityInput) (ActivityOutput, error) {
	proc, ok := a.Registry.Get(contract.Name(in.ProcedureName))
	if !ok {
		return ActivityOutput{}, executor.NotFoundError(contract.Name(in.ProcedureName))
	}
	output, err := a.Executor.Invoke(ctx, proc, in.Input, contract.InvocationContext{}, executor.InvokeOptions{})
	if err != nil {
		return ActivityOutput{}, err
	}
	outMap, _ := output.(map[string]any)
	return ActivityOutput{Output: outMap}, nil
}

// WorkflowRequest is the serializable input to RunDefinition.
type WorkflowRequest struct {
	Definition  wfgraph.Definition
	ExecutionID string
	Input       map[string]any
}

// WorkflowResult is the serializable output of RunDefinition.
type WorkflowResult struct {
	Status    string
	Variables map[string]any
	Err       string
}

// eventSignal is the payload a resume signal delivers.
type eventSignal struct {
	Payload map[string]any
}

// SignalName derives the Temporal signal name an await node on (provider,
// eventType) waits on, so a caller can send client.SignalWorkflow(ctx, wfID,
// "", SignalName(provider, eventType), payload) to resume a paused run.
func SignalName(provider, eventType string) string {
	return "weavegraph.event." + provider + "." + eventType
}

// RunDefinition is the Temporal workflow function driving req.Definition to
// completion. It must be registered with a worker under WorkflowName.
func RunDefinition(ctx tpworkflow.Context, req WorkflowRequest) (WorkflowResult, error) {
	vars := make(map[string]any, len(req.Definition.Variables)+len(req.Input))
	for k, v := range req.Definition.Variables {
		vars[k] = v
	}
	for k, v := range req.Input {
		vars[k] = v
	}

	ao := tpworkflow.ActivityOptions{StartToCloseTimeout: time.Minute}
	actx := tpworkflow.WithActivityOptions(ctx, ao)

	current := req.Definition.StartNode
	for {
		node, ok := req.Definition.NodeByID(current)
		if !ok {
			return failResult(vars, fmt.Errorf("temporal: node %q not found", current)), nil
		}

		switch node.Kind {
		case wfgraph.KindProcedure:
			cfg := node.Procedure
			input := make(map[string]any, len(vars)+len(cfg.Config))
			for k, v := range vars {
				input[k] = v
			}
			for k, v := range cfg.Config {
				input[k] = v
			}
			for dest, src := range cfg.ExplicitMapping {
				input[dest] = vars[src]
			}
			var out ActivityOutput
			err := tpworkflow.ExecuteActivity(actx, ActivityName, ActivityInput{ProcedureName: string(cfg.ProcedureName), Input: input}).Get(actx, &out)
			if err != nil {
				if node.OnError != "" {
					current = node.OnError
					continue
				}
				return failResult(vars, err), nil
			}
			for k, v := range out.Output {
				if cfg.OutputVariable != "" {
					nested, _ := vars[cfg.OutputVariable].(map[string]any)
					if nested == nil {
						nested = map[string]any{}
					}
					nested[k] = v
					vars[cfg.OutputVariable] = nested
				} else {
					vars[k] = v
				}
			}
			current = cfg.Successor

		case wfgraph.KindCondition:
			cfg := node.Condition
			if cfg.Expression == "" {
				return failResult(vars, fmt.Errorf("temporal: condition node %q has no expression (closures are not durable)", node.ID)), nil
			}
			program, err := expr.Compile(cfg.Expression, expr.Env(vars), expr.AsBool(), expr.Optimize(true))
			if err != nil {
				return failResult(vars, err), nil
			}
			out, err := expr.Run(program, vars)
			if err != nil {
				return failResult(vars, err), nil
			}
			if b, _ := out.(bool); b {
				current = cfg.TrueBranch
			} else {
				current = cfg.FalseBranch
			}

		case wfgraph.KindSequential:
			current = node.Sequential.Successor

		case wfgraph.KindTrigger:
			current = node.Trigger.Successor

		case wfgraph.KindParallel:
			outputs, err := runParallel(actx, req.Definition, node, vars)
			if err != nil {
				if node.OnError != "" {
					current = node.OnError
					continue
				}
				return failResult(vars, err), nil
			}
			for branchID, branchVars := range outputs {
				for k, v := range branchVars {
					vars[fmt.Sprintf("%s.%s.%s", node.ID, branchID, k)] = v
				}
			}
			current = node.Parallel.Successor

		case wfgraph.KindAwait:
			cfg := node.Await
			ch := tpworkflow.GetSignalChannel(ctx, SignalName(cfg.Provider, cfg.EventType))
			sel := tpworkflow.NewSelector(ctx)
			var signal eventSignal
			var gotSignal, timedOut bool
			sel.AddReceive(ch, func(c tpworkflow.ReceiveChannel, _ bool) {
				c.Receive(ctx, &signal)
				gotSignal = true
			})
			if cfg.Timeout > 0 {
				timer := tpworkflow.NewTimer(ctx, cfg.Timeout)
				sel.AddFuture(timer, func(tpworkflow.Future) { timedOut = true })
			}
			sel.Select(ctx)
			if timedOut {
				return failResult(vars, errs.New(errs.KindTimeout, "temporal: await node %q timed out", node.ID)), nil
			}
			if gotSignal {
				for k, v := range signal.Payload {
					vars[k] = v
				}
			}
			current = cfg.Successor

		case wfgraph.KindSubworkflow:
			return failResult(vars, fmt.Errorf("temporal: subworkflow nodes are not supported in the durable adapter (node %q)", node.ID)), nil

		default:
			return failResult(vars, fmt.Errorf("temporal: unknown node kind %q", node.Kind)), nil
		}

		if current == "" {
			return WorkflowResult{Status: "completed", Variables: vars}, nil
		}
	}
}

func failResult(vars map[string]any, err error) WorkflowResult {
	return WorkflowResult{Status: "failed", Variables: vars, Err: err.Error()}
}

type branchResult struct {
	id   string
	vars map[string]any
	err  error
}

// runParallel forks node's branches as Temporal coroutines (tpworkflow.Go),
// fanning each branch's resulting variables into a buffered channel so the
// caller merges them deterministically once every branch (WaitForAll) or
// the first successful branch (FirstSuccess) completes.
func runParallel(ctx tpworkflow.Context, def wfgraph.Definition, node wfgraph.Node, vars map[string]any) (map[string]map[string]any, error) {
	results := tpworkflow.NewChannel(ctx)
	for _, branchID := range node.Parallel.Branches {
		branchID := branchID
		tpworkflow.Go(ctx, func(gctx tpworkflow.Context) {
			branchVars := make(map[string]any, len(vars))
			for k, v := range vars {
				branchVars[k] = v
			}
			res, err := RunDefinition(gctx, WorkflowRequest{Definition: branchDefinition(def, branchID), Input: branchVars})
			if err != nil || res.Status != "completed" {
				msg := res.Err
				if err != nil {
					msg = err.Error()
				}
				results.Send(ctx, branchResult{id: branchID, err: fmt.Errorf("temporal: branch %q failed: %s", branchID, msg)})
				return
			}
			results.Send(ctx, branchResult{id: branchID, vars: res.Variables})
		})
	}

	merged := make(map[string]map[string]any, len(node.Parallel.Branches))
	var errsCollected []error
	for range node.Parallel.Branches {
		var r branchResult
		results.Receive(ctx, &r)
		if r.err != nil {
			errsCollected = append(errsCollected, r.err)
			if node.Parallel.Mode == wfgraph.WaitForAll {
				break
			}
			continue
		}
		merged[r.id] = r.vars
		if node.Parallel.Mode == wfgraph.FirstSuccess {
			break
		}
	}

	if node.Parallel.Mode == wfgraph.FirstSuccess {
		if len(merged) == 0 {
			return nil, fmt.Errorf("temporal: all branches of %q failed: %v", node.ID, errsCollected)
		}
		return merged, nil
	}
	if len(errsCollected) > 0 {
		return nil, fmt.Errorf("temporal: %d branch(es) of %q failed: %v", len(errsCollected), node.ID, errsCollected)
	}
	return merged, nil
}

// branchDefinition returns a single-start-node view of def rooted at
// startNode, reusing the same node set so OnError/successors still resolve.
func branchDefinition(def wfgraph.Definition, startNode string) wfgraph.Definition {
	return wfgraph.Definition{
		ID:        def.ID + "." + startNode,
		Nodes:     def.Nodes,
		StartNode: startNode,
	}
}
