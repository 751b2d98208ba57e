// Package workflow holds the node-graph data model: a Definition is a
// directed (possibly cyclic) graph of typed Nodes, each one a tagged
// variant over exactly one kind-specific config struct rather than a
// duck-typed map[string]any.
//
// Grounded on the Noder/NodeResult return-type-routing idea in
// rakunlabs-at/internal/service/workflow/node.go, adapted here to a static
// tagged struct since Go has no sum types and the graph is data, not a
// plugin registry of node implementations.
package workflow

import (
	"time"

	"github.com/weavegraph/weavegraph/contract"
)

// Kind names a node's variant. Exactly one of Node's kind-specific config
// pointers is non-nil for a given Kind.
type Kind string

const (
	KindProcedure   Kind = "procedure"
	KindCondition   Kind = "condition"
	KindParallel    Kind = "parallel"
	KindSequential  Kind = "sequential"
	KindTrigger     Kind = "trigger"
	KindAwait       Kind = "await"
	KindSubworkflow Kind = "subworkflow"
)

// ParallelMode controls how a Parallel node decides when its fan-out is
// done.
type ParallelMode string

const (
	// WaitForAll completes only once every branch reaches a terminal node;
	// the first branch error fails the whole node and cancels its peers.
	WaitForAll ParallelMode = "wait_for_all"
	// FirstSuccess completes as soon as one branch succeeds, cancelling the
	// rest; it fails only if every branch fails.
	FirstSuccess ParallelMode = "first_success"
)

// Predicate is the closure form of a condition node's test. Preferred over
// the expression-string form when both are present.
type Predicate func(variables map[string]any) (bool, error)

// ProcedureConfig invokes a registered procedure by name.
type ProcedureConfig struct {
	ProcedureName contract.Name
	// Config is merged into the handler input before ExplicitMapping is
	// applied: variables < Config < ExplicitMapping.
	Config map[string]any
	// ExplicitMapping maps handler-input keys to variable names to pull
	// from the execution context's variable bag.
	ExplicitMapping map[string]string
	// OutputVariable, if set, shallow-merges the handler's output map into
	// the execution context's variables under this key instead of at the
	// top level.
	OutputVariable string
	Successor      string
}

// ConditionConfig tests a boolean predicate and branches.
type ConditionConfig struct {
	Predicate   Predicate
	Expression  string
	TrueBranch  string
	FalseBranch string
}

// ParallelConfig forks into named branch nodes and merges their outputs
// under "<parallelNodeID>.<branchNodeID>" keys in the execution context.
type ParallelConfig struct {
	Branches  []string
	Mode      ParallelMode
	Successor string
}

// SequentialConfig is a structural passthrough node: no side effect beyond
// advancing to Successor. Useful as a join point after a parallel node, or
// to give a graph an explicit, addressable waypoint.
type SequentialConfig struct {
	Successor string
}

// TriggerConfig marks the node the engine re-enters after the Trigger
// Manager starts a new execution from an external event; the trigger's own
// procedure runs as an ordinary KindProcedure node upstream of it in
// practice, so this config only carries the successor.
type TriggerConfig struct {
	Successor string
}

// AwaitFilter is the closure form of an await node's resume filter,
// evaluated against the inbound event payload and the paused execution's
// variable bag. Preferred over FilterExpression when both are set.
type AwaitFilter func(event, variables map[string]any) (bool, error)

// AwaitConfig pauses the execution until a matching external event resumes
// it, or until Timeout elapses. Filter and FilterExpression let a resume be
// rejected even when provider/eventType match, e.g. correlating the event
// against a variable set earlier in the execution; a rejected resume leaves
// the paused entry registered rather than consuming the event.
type AwaitConfig struct {
	Provider  string
	EventType string
	Filter    AwaitFilter
	// FilterExpression is the expr-lang form of Filter, evaluated with "evt"
	// bound to the event payload and "vars" to the execution's variables —
	// the only form loadable from YAML, since a closure can't be.
	FilterExpression string
	Schema           *contract.Schema
	Timeout          time.Duration
	Successor        string
}

// SubworkflowConfig invokes another Definition by id as a nested execution,
// run synchronously to completion. A pause inside the child is not
// propagated to a multi-level parent pause/resume stack; it surfaces as an
// error on this node (routable via OnError like any other failure).
type SubworkflowConfig struct {
	WorkflowID   string
	InputMapping map[string]string
	Successor    string
}

// Node is one vertex of a workflow graph. OnError and OnTimeout, when set,
// redirect control flow there instead of failing the execution outright.
type Node struct {
	ID        string
	Kind      Kind
	OnError   string
	OnTimeout string
	Timeout   time.Duration

	Procedure   *ProcedureConfig
	Condition   *ConditionConfig
	Parallel    *ParallelConfig
	Sequential  *SequentialConfig
	Trigger     *TriggerConfig
	Await       *AwaitConfig
	Subworkflow *SubworkflowConfig
}

// Successors returns every node id this node may transition to, in no
// particular order. Used by validate.go's reachability checks.
func (n Node) Successors() []string {
	var out []string
	add := func(id string) {
		if id != "" {
			out = append(out, id)
		}
	}
	switch n.Kind {
	case KindProcedure:
		if n.Procedure != nil {
			add(n.Procedure.Successor)
		}
	case KindCondition:
		if n.Condition != nil {
			add(n.Condition.TrueBranch)
			add(n.Condition.FalseBranch)
		}
	case KindParallel:
		if n.Parallel != nil {
			out = append(out, n.Parallel.Branches...)
			add(n.Parallel.Successor)
		}
	case KindSequential:
		if n.Sequential != nil {
			add(n.Sequential.Successor)
		}
	case KindTrigger:
		if n.Trigger != nil {
			add(n.Trigger.Successor)
		}
	case KindAwait:
		if n.Await != nil {
			add(n.Await.Successor)
		}
	case KindSubworkflow:
		if n.Subworkflow != nil {
			add(n.Subworkflow.Successor)
		}
	}
	add(n.OnError)
	add(n.OnTimeout)
	return out
}
