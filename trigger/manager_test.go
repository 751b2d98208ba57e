package trigger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func subscribeProc(name contract.Name, provider string, stop contract.Name) *contract.Procedure {
	return contract.New(name, nil, nil, func(_ context.Context, _ any, _ contract.InvocationContext) (any, error) {
		return map[string]any{"subscription_id": "sub-1"}, nil
	}, contract.Metadata{
		Kind: contract.KindTrigger,
		Trigger: &contract.TriggerDescriptor{
			Provider:      provider,
			Transport:     contract.TransportWebhook,
			EventTypes:    map[string]struct{}{"order.created": {}},
			StopProcedure: stop,
		},
	})
}

type harness struct {
	reg  *contract.Registry
	eng  *engine.Engine
	subs *subscription.Registry
	st   *store.Store
	mgr  *trigger.Manager
	defs map[string]workflow.Definition
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := contract.NewRegistry()
	bus := eventbus.New()
	st := store.New(10)
	subs := subscription.New()
	exec := executor.New()
	eng := engine.New(reg, exec, engine.WithBus(bus), engine.WithStore(st), engine.WithSubscriptions(subs))

	h := &harness{reg: reg, eng: eng, subs: subs, st: st, defs: make(map[string]workflow.Definition)}
	lookup := func(id string) (workflow.Definition, bool) {
		d, ok := h.defs[id]
		return d, ok
	}
	h.mgr = trigger.New(reg, exec, eng, subs, lookup)
	return h
}

func (h *harness) register(def workflow.Definition) { h.defs[def.ID] = def }

// Deploying a trigger-bound workflow, then delivering a matching provider
// event, starts a fresh execution of that workflow.
func TestDeployAndStartOnEvent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.reg.Register(subscribeProc("orders.subscribe", "orders-provider", "orders.unsubscribe")))
	require.NoError(t, h.reg.Register(numberProc("orders.unsubscribe", func(map[string]any) map[string]any { return map[string]any{} })))
	require.NoError(t, h.reg.Register(numberProc("orders.handle", func(in map[string]any) map[string]any {
		trig, _ := in["trigger"].(map[string]any)
		payload, _ := trig["payload"].(map[string]any)
		return map[string]any{"handled_order": payload["order_id"]}
	})))

	def := workflow.Definition{
		ID:        "orders-workflow",
		StartNode: "handle",
		Nodes: []workflow.Node{
			{ID: "handle", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "orders.handle"}},
		},
		Trigger: &workflow.TriggerBinding{ProcedureName: "orders.subscribe"},
	}
	h.register(def)

	sub, err := h.mgr.Deploy(context.Background(), def, trigger.DeployOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.SubscriptionID)
	assert.Equal(t, "orders-provider", sub.Provider)
	assert.Len(t, h.mgr.Deployments(), 1)

	results, err := h.mgr.HandleEvent(context.Background(), "orders-provider", "order.created", map[string]any{"order_id": "o-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, store.StatusCompleted, results[0].Status)
	assert.Equal(t, "o-1", results[0].Variables["handled_order"])

	require.NoError(t, h.mgr.Stop(context.Background(), def.ID))
	assert.Empty(t, h.mgr.Deployments())
}

// A deployment only routes events whose eventType it subscribed to; a
// different eventType on the same provider must not start it.
func TestHandleEventFiltersByEventType(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.reg.Register(subscribeProc("orders.subscribe", "orders-provider", "orders.unsubscribe")))
	require.NoError(t, h.reg.Register(numberProc("orders.unsubscribe", func(map[string]any) map[string]any { return map[string]any{} })))
	require.NoError(t, h.reg.Register(numberProc("orders.handle", func(map[string]any) map[string]any { return map[string]any{} })))

	def := workflow.Definition{
		ID:        "orders-workflow",
		StartNode: "handle",
		Nodes:     []workflow.Node{{ID: "handle", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "orders.handle"}}},
		Trigger:   &workflow.TriggerBinding{ProcedureName: "orders.subscribe"},
	}
	h.register(def)

	_, err := h.mgr.Deploy(context.Background(), def, trigger.DeployOptions{})
	require.NoError(t, err)

	results, err := h.mgr.HandleEvent(context.Background(), "orders-provider", "order.deleted", map[string]any{"order_id": "o-1"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

// An inbound event that matches a paused execution's resume criteria
// resumes it, rather than only starting new runs of deployed triggers on
// the same provider.
func TestHandleEventResumesPausedExecution(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.reg.Register(numberProc("after.resume", func(in map[string]any) map[string]any {
		return map[string]any{"approved": in["approved"]}
	})))

	waitDef := workflow.Definition{
		ID:        "wait-workflow",
		StartNode: "wait",
		Nodes: []workflow.Node{
			{ID: "wait", Kind: workflow.KindAwait, Await: &workflow.AwaitConfig{Provider: "approvals", EventType: "decision", Successor: "after"}},
			{ID: "after", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "after.resume"}},
		},
	}
	h.register(waitDef)

	res := h.eng.Execute(context.Background(), waitDef, engine.ExecuteOptions{ExecutionID: "exec-wait"})
	require.NoError(t, res.Err)
	require.Equal(t, store.StatusPaused, res.Status)

	results, err := h.mgr.HandleEvent(context.Background(), "approvals", "decision", map[string]any{"approved": true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, store.StatusCompleted, results[0].Status)
	assert.Equal(t, true, results[0].Variables["approved"])

	rec, ok := h.st.Get("exec-wait")
	require.True(t, ok)
	assert.Equal(t, store.StatusCompleted, rec.Status)
}

// StopAll tears down every deployment even when a stop procedure errors for
// one of them.
func TestStopAllBestEffort(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.reg.Register(subscribeProc("a.subscribe", "p", "a.unsubscribe")))
	require.NoError(t, h.reg.Register(numberProc("a.unsubscribe", func(map[string]any) map[string]any { return map[string]any{} })))
	require.NoError(t, h.reg.Register(numberProc("a.handle", func(map[string]any) map[string]any { return map[string]any{} })))

	def := workflow.Definition{
		ID:        "a-workflow",
		StartNode: "handle",
		Nodes:     []workflow.Node{{ID: "handle", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "a.handle"}}},
		Trigger:   &workflow.TriggerBinding{ProcedureName: "a.subscribe"},
	}
	h.register(def)

	_, err := h.mgr.Deploy(context.Background(), def, trigger.DeployOptions{})
	require.NoError(t, err)

	require.NoError(t, h.mgr.StopAll(context.Background()))
	assert.Empty(t, h.mgr.Deployments())
}
