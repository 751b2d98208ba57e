// Command demo wires every core component together — registry, executor,
// event bus, execution store, subscription registry, engine, and trigger
// manager — and walks through six end-to-end scenarios: sequential math,
// conditional branching, parallel fan-out, pause/resume, error-handler
// routing, and trigger deployment.
package main

import (
	"context"
	"fmt"

	"github.com/weavegraph/weavegraph/contract"
	"github.com/weavegraph/weavegraph/engine"
	"github.com/weavegraph/weavegraph/eventbus"
	"github.com/weavegraph/weavegraph/executor"
	"github.com/weavegraph/weavegraph/store"
	"github.com/weavegraph/weavegraph/subscription"
	"github.com/weavegraph/weavegraph/trigger"
	"github.com/weavegraph/weavegraph/workflow"
)

func numberProc(name contract.Name, fn func(map[string]any) map[string]any) *contract.Procedure {
	return contract.New(name, nil, nil, func(_ context.Context, input any, _ contract.InvocationContext) (any, error) {
		in, _ := input.(map[string]any)
		return fn(in), nil
	}, contract.Metadata{Roles: map[contract.Role]struct{}{contract.RoleWorkflowNode: {}}})
}

func main() {
	ctx := context.Background()

	reg := contract.NewRegistry()
	bus := eventbus.New()
	st := store.New(100)
	subs := subscription.New()
	exec := executor.New()
	eng := engine.New(reg, exec, engine.WithBus(bus), engine.WithStore(st), engine.WithSubscriptions(subs))

	unsub := bus.SubscribeAll(func(ev eventbus.Event) {
		fmt.Printf("[event] %-22s workflow=%-14s execution=%s\n", ev.Kind, ev.WorkflowID, ev.ExecutionID)
	})
	defer unsub()

	mustRegister(reg, numberProc("math.add", func(in map[string]any) map[string]any {
		return map[string]any{"result": in["a"].(float64) + in["b"].(float64)}
	}))
	mustRegister(reg, numberProc("math.double", func(in map[string]any) map[string]any {
		return map[string]any{"result": in["result"].(float64) * 2}
	}))

	fmt.Println("=== sequential math ===")
	seqDef := workflow.Definition{
		ID:        "seq-math",
		StartNode: "add",
		Nodes: []workflow.Node{
			{ID: "add", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{
				ProcedureName: "math.add", ExplicitMapping: map[string]string{"a": "a", "b": "b"}, Successor: "double",
			}},
			{ID: "double", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "math.double"}},
		},
	}
	res := eng.Execute(ctx, seqDef, engine.ExecuteOptions{Input: map[string]any{"a": 2.0, "b": 3.0}})
	fmt.Printf("result: %v status: %s\n\n", res.Variables["result"], res.Status)

	fmt.Println("=== conditional branching ===")
	mustRegister(reg, numberProc("path.high", func(map[string]any) map[string]any { return map[string]any{"path": "high"} }))
	mustRegister(reg, numberProc("path.low", func(map[string]any) map[string]any { return map[string]any{"path": "low"} }))
	condDef := workflow.Definition{
		ID:        "cond",
		StartNode: "check",
		Nodes: []workflow.Node{
			{ID: "check", Kind: workflow.KindCondition, Condition: &workflow.ConditionConfig{
				Expression: "score > 50", TrueBranch: "high", FalseBranch: "low",
			}},
			{ID: "high", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "path.high"}},
			{ID: "low", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "path.low"}},
		},
	}
	res = eng.Execute(ctx, condDef, engine.ExecuteOptions{Input: map[string]any{"score": 80.0}})
	fmt.Printf("path: %v status: %s\n\n", res.Variables["path"], res.Status)

	fmt.Println("=== parallel fan-out ===")
	mustRegister(reg, numberProc("branch.a", func(map[string]any) map[string]any { return map[string]any{"a_done": true} }))
	mustRegister(reg, numberProc("branch.b", func(map[string]any) map[string]any { return map[string]any{"b_done": true} }))
	mustRegister(reg, numberProc("join", func(map[string]any) map[string]any { return map[string]any{"joined": true} }))
	parDef := workflow.Definition{
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
	res = eng.Execute(ctx, parDef, engine.ExecuteOptions{})
	fmt.Printf("joined: %v status: %s\n\n", res.Variables["joined"], res.Status)

	fmt.Println("=== pause/resume ===")
	mustRegister(reg, numberProc("after.resume", func(in map[string]any) map[string]any {
		return map[string]any{"approved": in["approved"]}
	}))
	pauseDef := workflow.Definition{
		ID:        "pause-resume",
		StartNode: "wait",
		Nodes: []workflow.Node{
			{ID: "wait", Kind: workflow.KindAwait, Await: &workflow.AwaitConfig{Provider: "approvals", EventType: "decision", Successor: "after"}},
			{ID: "after", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "after.resume"}},
		},
	}
	res = eng.Execute(ctx, pauseDef, engine.ExecuteOptions{ExecutionID: "demo-pause-1"})
	fmt.Printf("paused status: %s\n", res.Status)
	res = eng.Resume(ctx, pauseDef, "demo-pause-1", engine.ResumeOptions{EventPayload: map[string]any{"approved": true}})
	fmt.Printf("resumed approved: %v status: %s\n\n", res.Variables["approved"], res.Status)

	fmt.Println("=== error handler routing ===")
	mustRegister(reg, contract.New("boom", nil, nil, func(context.Context, any, contract.InvocationContext) (any, error) {
		return nil, fmt.Errorf("simulated failure")
	}, contract.Metadata{Roles: map[contract.Role]struct{}{contract.RoleWorkflowNode: {}}}))
	mustRegister(reg, numberProc("recover", func(map[string]any) map[string]any { return map[string]any{"recovered": true} }))
	errDef := workflow.Definition{
		ID:        "err-route",
		StartNode: "risky",
		Nodes: []workflow.Node{
			{ID: "risky", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "boom"}, OnError: "handler"},
			{ID: "handler", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "recover"}},
		},
	}
	res = eng.Execute(ctx, errDef, engine.ExecuteOptions{})
	fmt.Printf("recovered: %v status: %s\n\n", res.Variables["recovered"], res.Status)

	fmt.Println("=== trigger deployment ===")
	mustRegister(reg, contract.New("orders.subscribe", nil, nil, func(context.Context, any, contract.InvocationContext) (any, error) {
		return map[string]any{"subscription_id": "demo-sub-1"}, nil
	}, contract.Metadata{
		Kind: contract.KindTrigger,
		Trigger: &contract.TriggerDescriptor{
			Provider: "orders-provider", Transport: contract.TransportWebhook,
			EventTypes: map[string]struct{}{"order.created": {}}, StopProcedure: "orders.unsubscribe",
		},
	}))
	mustRegister(reg, numberProc("orders.unsubscribe", func(map[string]any) map[string]any { return map[string]any{} }))
	mustRegister(reg, numberProc("orders.handle", func(in map[string]any) map[string]any {
		trigger, _ := in["trigger"].(map[string]any)
		payload, _ := trigger["payload"].(map[string]any)
		return map[string]any{"handled_order": payload["order_id"]}
	}))
	ordersDef := workflow.Definition{
		ID:        "orders-workflow",
		StartNode: "handle",
		Nodes:     []workflow.Node{{ID: "handle", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "orders.handle"}}},
		Trigger:   &workflow.TriggerBinding{ProcedureName: "orders.subscribe"},
	}
	definitions := map[string]workflow.Definition{ordersDef.ID: ordersDef}
	mgr := trigger.New(reg, exec, eng, subs, func(id string) (workflow.Definition, bool) { d, ok := definitions[id]; return d, ok })
	sub, err := mgr.Deploy(ctx, ordersDef, trigger.DeployOptions{})
	if err != nil {
		panic(err)
	}
	fmt.Printf("deployed subscription: %s (provider %s)\n", sub.SubscriptionID, sub.Provider)
	results, err := mgr.HandleEvent(ctx, "orders-provider", "order.created", map[string]any{"order_id": "o-42"})
	if err != nil {
		panic(err)
	}
	for _, r := range results {
		fmt.Printf("handled order: %v status: %s\n", r.Variables["handled_order"], r.Status)
	}
	_ = mgr.StopAll(ctx)

	fmt.Println()
	fmt.Printf("store stats: %+v\n", st.Stats())
}

func mustRegister(reg *contract.Registry, proc *contract.Procedure) {
	if err := reg.Register(proc); err != nil {
		panic(err)
	}
}
