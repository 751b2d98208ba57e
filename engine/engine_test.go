package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavegraph/weavegraph/contract"
	"github.com/weavegraph/weavegraph/engine"
	"github.com/weavegraph/weavegraph/errs"
	"github.com/weavegraph/weavegraph/eventbus"
	"github.com/weavegraph/weavegraph/executor"
	"github.com/weavegraph/weavegraph/store"
	"github.com/weavegraph/weavegraph/subscription"
	"github.com/weavegraph/weavegraph/workflow"
)

func numberProc(name contract.Name, fn func(map[string]any) map[string]any) *contract.Procedure {
	return contract.New(name, nil, nil, func(_ context.Context, input any, _ contract.InvocationContext) (any, error) {
		in, _ := input.(map[string]any)
		return fn(in), nil
	}, contract.Metadata{Roles: map[contract.Role]struct{}{contract.RoleWorkflowNode: {}}})
}

func newHarness(t *testing.T) (*contract.Registry, *engine.Engine, *eventbus.Bus, *store.Store) {
	t.Helper()
	reg := contract.NewRegistry()
	bus := eventbus.New()
	st := store.New(10)
	subs := subscription.New()
	eng := engine.New(reg, executor.New(), engine.WithBus(bus), engine.WithStore(st), engine.WithSubscriptions(subs))
	return reg, eng, bus, st
}

// Sequential math: add(a,b) -> double(result) -> output.
func TestScenarioSequentialMath(t *testing.T) {
	reg, eng, _, _ := newHarness(t)
	require.NoError(t, reg.Register(numberProc("math.add", func(in map[string]any) map[string]any {
		return map[string]any{"result": in["a"].(float64) + in["b"].(float64)}
	})))
	require.NoError(t, reg.Register(numberProc("math.double", func(in map[string]any) map[string]any {
		return map[string]any{"result": in["result"].(float64) * 2}
	})))

	def := workflow.Definition{
		ID:        "seq-math",
		StartNode: "add",
		Nodes: []workflow.Node{
			{ID: "add", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{
				ProcedureName: "math.add", ExplicitMapping: map[string]string{"a": "a", "b": "b"}, Successor: "double",
			}},
			{ID: "double", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{
				ProcedureName: "math.double",
			}},
		},
	}

	res := eng.Execute(context.Background(), def, engine.ExecuteOptions{Input: map[string]any{"a": 2.0, "b": 3.0}})
	require.NoError(t, res.Err)
	assert.Equal(t, store.StatusCompleted, res.Status)
	assert.Equal(t, 10.0, res.Variables["result"])
	assert.Equal(t, map[string]any{"result": 5.0}, res.Outputs["add"])
	assert.Equal(t, map[string]any{"result": 10.0}, res.Outputs["double"])
}

// Conditional branching: condition routes to one of two procedures.
func TestScenarioConditionalBranching(t *testing.T) {
	reg, eng, _, _ := newHarness(t)
	require.NoError(t, reg.Register(numberProc("path.high", func(map[string]any) map[string]any { return map[string]any{"path": "high"} })))
	require.NoError(t, reg.Register(numberProc("path.low", func(map[string]any) map[string]any { return map[string]any{"path": "low"} })))

	def := workflow.Definition{
		ID:        "cond",
		StartNode: "check",
		Nodes: []workflow.Node{
			{ID: "check", Kind: workflow.KindCondition, Condition: &workflow.ConditionConfig{
				Predicate: func(vars map[string]any) (bool, error) {
					return vars["score"].(float64) > 50, nil
				},
				TrueBranch: "high", FalseBranch: "low",
			}},
			{ID: "high", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "path.high"}},
			{ID: "low", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "path.low"}},
		},
	}

	res := eng.Execute(context.Background(), def, engine.ExecuteOptions{Input: map[string]any{"score": 80.0}})
	require.NoError(t, res.Err)
	assert.Equal(t, "high", res.Variables["path"])

	res = eng.Execute(context.Background(), def, engine.ExecuteOptions{Input: map[string]any{"score": 10.0}})
	require.NoError(t, res.Err)
	assert.Equal(t, "low", res.Variables["path"])
}

// Parallel fan-out: two branches both must complete (wait-for-all).
func TestScenarioParallelFanOutWaitForAll(t *testing.T) {
	reg, eng, _, _ := newHarness(t)
	require.NoError(t, reg.Register(numberProc("branch.a", func(map[string]any) map[string]any { return map[string]any{"a_done": true} })))
	require.NoError(t, reg.Register(numberProc("branch.b", func(map[string]any) map[string]any { return map[string]any{"b_done": true} })))
	require.NoError(t, reg.Register(numberProc("join", func(map[string]any) map[string]any { return map[string]any{"joined": true} })))

	def := workflow.Definition{
		ID:        "parallel",
		StartNode: "fork",
		Nodes: []workflow.Node{
			{ID: "fork", Kind: workflow.KindParallel, Parallel: &workflow.ParallelConfig{
				Branches: []string{"a", "b"}, Mode: workflow.WaitForAll, Successor: "join",
			}},
			{ID: "a", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "branch.a"}},
			{ID: "b", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "branch.b"}},
			{ID: "join", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "join"}},
		},
	}

	res := eng.Execute(context.Background(), def, engine.ExecuteOptions{})
	require.NoError(t, res.Err)
	assert.Equal(t, store.StatusCompleted, res.Status)
	assert.Equal(t, true, res.Variables["fork.a.a_done"])
	assert.Equal(t, true, res.Variables["fork.b.b_done"])
	assert.Equal(t, true, res.Variables["joined"])
}

// Pause/resume: an await node parks the execution until a matching event
// arrives, then continues.
func TestScenarioPauseResume(t *testing.T) {
	reg, eng, _, st := newHarness(t)
	require.NoError(t, reg.Register(numberProc("after.resume", func(in map[string]any) map[string]any {
		return map[string]any{"approved": in["approved"]}
	})))

	def := workflow.Definition{
		ID:        "pause-resume",
		StartNode: "wait",
		Nodes: []workflow.Node{
			{ID: "wait", Kind: workflow.KindAwait, Await: &workflow.AwaitConfig{
				Provider: "approvals", EventType: "decision", Successor: "after",
			}},
			{ID: "after", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "after.resume"}},
		},
	}

	res := eng.Execute(context.Background(), def, engine.ExecuteOptions{ExecutionID: "exec-pause"})
	require.NoError(t, res.Err)
	assert.Equal(t, store.StatusPaused, res.Status)

	rec, ok := st.Get("exec-pause")
	require.True(t, ok)
	assert.Equal(t, store.StatusPaused, rec.Status)

	res = eng.Resume(context.Background(), def, "exec-pause", engine.ResumeOptions{EventPayload: map[string]any{"approved": true}})
	require.NoError(t, res.Err)
	assert.Equal(t, store.StatusCompleted, res.Status)
	assert.Equal(t, true, res.Variables["approved"])
}

// Pause/resume with a variable-aware filter: an event that doesn't
// correlate against the paused execution's own variables is rejected and
// the paused entry stays registered for a later, matching attempt.
func TestScenarioPauseResumeFilterRejectsMismatch(t *testing.T) {
	reg, eng, _, st := newHarness(t)
	require.NoError(t, reg.Register(numberProc("after.resume", func(in map[string]any) map[string]any {
		return map[string]any{"status": in["status"]}
	})))

	def := workflow.Definition{
		ID:        "pause-resume-filtered",
		StartNode: "wait",
		Variables: map[string]any{"orderId": "o-1"},
		Nodes: []workflow.Node{
			{ID: "wait", Kind: workflow.KindAwait, Await: &workflow.AwaitConfig{
				Provider: "orders", EventType: "shipped", Successor: "after",
				FilterExpression: "evt.orderId == vars.orderId",
			}},
			{ID: "after", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "after.resume"}},
		},
	}

	res := eng.Execute(context.Background(), def, engine.ExecuteOptions{ExecutionID: "exec-filter"})
	require.NoError(t, res.Err)
	require.Equal(t, store.StatusPaused, res.Status)

	res = eng.Resume(context.Background(), def, "exec-filter", engine.ResumeOptions{EventPayload: map[string]any{"orderId": "o-2", "status": "shipped"}})
	require.Error(t, res.Err)
	assert.Equal(t, store.StatusPaused, res.Status)

	rec, ok := st.Get("exec-filter")
	require.True(t, ok)
	assert.Equal(t, store.StatusPaused, rec.Status)

	res = eng.Resume(context.Background(), def, "exec-filter", engine.ResumeOptions{EventPayload: map[string]any{"orderId": "o-1", "status": "shipped"}})
	require.NoError(t, res.Err)
	assert.Equal(t, store.StatusCompleted, res.Status)
	assert.Equal(t, "shipped", res.Variables["status"])
}

// Error handler routing: a failing procedure routes to its OnError node
// instead of failing the whole execution.
func TestScenarioErrorHandlerRouting(t *testing.T) {
	reg, eng, _, _ := newHarness(t)
	require.NoError(t, reg.Register(contract.New("boom", nil, nil, func(context.Context, any, contract.InvocationContext) (any, error) {
		return nil, errs.New(errs.KindHandlerError, "boom")
	}, contract.Metadata{Roles: map[contract.Role]struct{}{contract.RoleWorkflowNode: {}}})))
	require.NoError(t, reg.Register(numberProc("recover", func(map[string]any) map[string]any { return map[string]any{"recovered": true} })))

	def := workflow.Definition{
		ID:        "err-route",
		StartNode: "risky",
		Nodes: []workflow.Node{
			{ID: "risky", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "boom"}, OnError: "handler"},
			{ID: "handler", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "recover"}},
		},
	}

	res := eng.Execute(context.Background(), def, engine.ExecuteOptions{})
	require.NoError(t, res.Err)
	assert.Equal(t, store.StatusCompleted, res.Status)
	assert.Equal(t, true, res.Variables["recovered"])
}

func TestExecuteTimeoutBehavesAsCancellation(t *testing.T) {
	reg, eng, _, _ := newHarness(t)
	require.NoError(t, reg.Register(contract.New("slow", nil, nil, func(ctx context.Context, _ any, _ contract.InvocationContext) (any, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return map[string]any{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, contract.Metadata{Roles: map[contract.Role]struct{}{contract.RoleWorkflowNode: {}}})))

	def := workflow.Definition{
		ID:        "timeout",
		StartNode: "slow",
		Nodes:     []workflow.Node{{ID: "slow", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "slow"}}},
	}

	res := eng.Execute(context.Background(), def, engine.ExecuteOptions{Timeout: 5 * time.Millisecond})
	assert.Equal(t, store.StatusCancelled, res.Status)
	assert.Error(t, res.Err)
}
