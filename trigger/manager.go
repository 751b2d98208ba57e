// Package trigger implements the Trigger Manager: it bridges event-driven
// workflow definitions to external subscriptions, deploying a trigger
// procedure's subscription on demand and routing inbound provider events to
// either a paused execution awaiting them or a fresh execution of a deployed
// workflow. Grounded on the ActivityDefinition/WorkflowStartRequest
// scheduling shape of runtime/agent/engine/engine.go, and on rakunlabs-at's
// http-trigger.go/cron-trigger.go node concept for what a trigger
// descriptor's transport set should carry.
package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/weavegraph/weavegraph/contract"
	"github.com/weavegraph/weavegraph/engine"
	"github.com/weavegraph/weavegraph/errs"
	"github.com/weavegraph/weavegraph/executor"
	"github.com/weavegraph/weavegraph/subscription"
	"github.com/weavegraph/weavegraph/telemetry"
	"github.com/weavegraph/weavegraph/workflow"
)

// TriggerSubscription records a live external subscription backing a
// deployed workflow definition.
type TriggerSubscription struct {
	WorkflowID        string
	SubscriptionID    string
	Provider          string
	EventTypes        map[string]struct{}
	ExpiresAt         *time.Time
	StopProcedureName contract.Name
}

// Expired reports whether the subscription's lease has passed at.
func (s TriggerSubscription) Expired(at time.Time) bool {
	return s.ExpiresAt != nil && at.After(*s.ExpiresAt)
}

// DeployOptions carries the subscribe-procedure input for a deployment.
type DeployOptions struct {
	Input map[string]any
}

// Manager deploys and stops workflow trigger subscriptions and routes
// inbound provider events, first against paused executions waiting on a
// matching event, then against deployed trigger-bound workflow definitions
//.
type Manager struct {
	registry    *contract.Registry
	executor    *executor.Executor
	engine      *engine.Engine
	subs        *subscription.Registry
	definitions engine.DefinitionLookup
	logger      telemetry.Logger

	mu            sync.Mutex
	subscriptions map[string]TriggerSubscription // workflowID -> subscription
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger. Defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New builds a Manager. reg and exec resolve and invoke subscribe/stop
// procedures; eng executes newly-started workflow runs; subs is consulted
// to resume paused executions before any new run is started; definitions
// resolves a workflow id to its current Definition for deploy/start.
func New(reg *contract.Registry, exec *executor.Executor, eng *engine.Engine, subs *subscription.Registry, definitions engine.DefinitionLookup, opts ...Option) *Manager {
	m := &Manager{
		registry:      reg,
		executor:      exec,
		engine:        eng,
		subs:          subs,
		definitions:   definitions,
		logger:        telemetry.NewNoopLogger(),
		subscriptions: make(map[string]TriggerSubscription),
	}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	return m
}

// Deploy establishes the external subscription for def's trigger binding by
// invoking its subscribe procedure, then records the resulting
// TriggerSubscription so inbound events can be routed to def.
func (m *Manager) Deploy(ctx context.Context, def workflow.Definition, opts DeployOptions) (TriggerSubscription, error) {
	if def.Trigger == nil {
		return TriggerSubscription{}, errs.New(errs.KindDeploymentError, "trigger: workflow %q has no trigger binding", def.ID)
	}

	proc, ok := m.registry.Get(def.Trigger.ProcedureName)
	if !ok {
		return TriggerSubscription{}, errs.New(errs.KindProcedureNotFound, "trigger: subscribe procedure %q is not registered", def.Trigger.ProcedureName)
	}
	desc := proc.Metadata().Trigger
	if desc == nil {
		return TriggerSubscription{}, errs.New(errs.KindDeploymentError, "trigger: procedure %q is not a trigger procedure", def.Trigger.ProcedureName)
	}

	output, err := m.executor.Invoke(ctx, proc, opts.Input, contract.InvocationContext{}, executor.InvokeOptions{})
	if err != nil {
		return TriggerSubscription{}, errs.New(errs.KindDeploymentError, "trigger: subscribe procedure %q failed: %s", def.Trigger.ProcedureName, err.Error())
	}

	sub := TriggerSubscription{
		WorkflowID:        def.ID,
		Provider:          desc.Provider,
		EventTypes:        desc.EventTypes,
		StopProcedureName: desc.StopProcedure,
	}
	if outMap, ok := output.(map[string]any); ok {
		if id, ok := outMap["subscription_id"].(string); ok {
			sub.SubscriptionID = id
		}
		if exp, ok := outMap["expires_at"].(time.Time); ok {
			sub.ExpiresAt = &exp
		}
	}

	m.mu.Lock()
	m.subscriptions[def.ID] = sub
	m.mu.Unlock()

	m.logger.Info(ctx, "trigger deployed", "workflow_id", def.ID, "provider", sub.Provider, "subscription_id", sub.SubscriptionID)
	return sub, nil
}

// Stop tears down the subscription backing workflowID, invoking its stop
// procedure on a best-effort basis (a failure to unsubscribe does not
// prevent the local record from being removed).
func (m *Manager) Stop(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	sub, ok := m.subscriptions[workflowID]
	delete(m.subscriptions, workflowID)
	m.mu.Unlock()
	if !ok {
		return errs.New(errs.KindDeploymentError, "trigger: workflow %q has no active deployment", workflowID)
	}
	return m.stopSubscription(ctx, sub)
}

// StopAll tears down every active deployment and returns the first error
// encountered, if any, after attempting all of them.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	all := make([]TriggerSubscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		all = append(all, sub)
	}
	m.subscriptions = make(map[string]TriggerSubscription)
	m.mu.Unlock()

	var first error
	for _, sub := range all {
		if err := m.stopSubscription(ctx, sub); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Manager) stopSubscription(ctx context.Context, sub TriggerSubscription) error {
	if sub.StopProcedureName == "" {
		return nil
	}
	proc, ok := m.registry.Get(sub.StopProcedureName)
	if !ok {
		return nil
	}
	input := map[string]any{"subscription_id": sub.SubscriptionID}
	_, err := m.executor.Invoke(ctx, proc, input, contract.InvocationContext{}, executor.InvokeOptions{})
	if err != nil {
		m.logger.Warn(ctx, "trigger stop procedure failed", "workflow_id", sub.WorkflowID, "error", err.Error())
		return errs.Wrap(errs.KindDeploymentError, err)
	}
	return nil
}

// Deployments returns a snapshot of the currently deployed subscriptions.
func (m *Manager) Deployments() []TriggerSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TriggerSubscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		out = append(out, sub)
	}
	return out
}

// HandleEvent routes one inbound provider event. It first resumes every
// paused execution whose ResumeCriteria matches (provider, eventType,
// payload), then starts a fresh execution of every deployed trigger-bound
// workflow matching the same (provider, eventType). The event goes to both
// groups: resuming a paused execution does not stop the fresh starts.
// Engine.Resume serializes resumes per execution itself.
func (m *Manager) HandleEvent(ctx context.Context, provider, eventType string, payload map[string]any) ([]engine.Result, error) {
	var results []engine.Result

	if m.subs != nil {
		for _, paused := range m.subs.Matching(provider, eventType, payload) {
			def, ok := m.lookupDefinition(paused.WorkflowID)
			if !ok {
				continue
			}
			res := m.engine.Resume(ctx, def, paused.ExecutionID, engine.ResumeOptions{EventPayload: payload})
			results = append(results, res)
		}
	}

	for _, sub := range m.matchingDeployments(provider, eventType) {
		def, ok := m.lookupDefinition(sub.WorkflowID)
		if !ok {
			continue
		}
		input := map[string]any{"trigger": map[string]any{"payload": payload}}
		res := m.engine.Execute(ctx, def, engine.ExecuteOptions{Input: input})
		results = append(results, res)
	}

	return results, nil
}

func (m *Manager) matchingDeployments(provider, eventType string) []TriggerSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TriggerSubscription
	for _, sub := range m.subscriptions {
		if sub.Provider != provider {
			continue
		}
		if len(sub.EventTypes) > 0 {
			if _, ok := sub.EventTypes[eventType]; !ok {
				continue
			}
		}
		out = append(out, sub)
	}
	return out
}

func (m *Manager) lookupDefinition(workflowID string) (workflow.Definition, bool) {
	if m.definitions == nil {
		return workflow.Definition{}, false
	}
	return m.definitions(workflowID)
}
