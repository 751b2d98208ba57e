// Package engine implements the Workflow Engine: graph traversal,
// conditional branching, parallel fan-out/fan-in, sub-workflow invocation,
// and pause/resume, dispatched through an explicit result-variant per node
// rather than exceptions for control flow. Grounded on the
// WorkflowContext/dispatch shape of runtime/agent/engine/engine.go, adapted
// from an interface abstracting over durable backends to a concrete
// in-process graph walker; the optional durable adapter lives in
// engine/temporal.
package engine

import (
	"sync"
	"time"

	"github.com/weavegraph/weavegraph/workflow"
)

// ExecutionContext is the mutable state threaded through one workflow
// execution: the variable bag nodes read from and write to, the recorded
// per-node outputs, and execution history. It is safe for concurrent use so
// that parallel-node branches can update it independently.
type ExecutionContext struct {
	WorkflowID  string
	ExecutionID string
	StartTime   time.Time

	mu            sync.Mutex
	variables     map[string]any
	nodeOutputs   map[string]any
	nodesExecuted []string
	currentNode   string
}

// NewExecutionContext seeds a fresh context from a workflow definition's
// default variables and an initial input merged on top.
func NewExecutionContext(workflowID, executionID string, defaults, input map[string]any, start time.Time) *ExecutionContext {
	vars := make(map[string]any, len(defaults)+len(input))
	for k, v := range defaults {
		vars[k] = v
	}
	for k, v := range input {
		vars[k] = v
	}
	return &ExecutionContext{
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		StartTime:   start,
		variables:   vars,
		nodeOutputs: make(map[string]any),
	}
}

// FromResumeState rebuilds a context from a serialized pause point.
func FromResumeState(state workflow.ResumeState) *ExecutionContext {
	ec := &ExecutionContext{
		WorkflowID:  state.WorkflowID,
		ExecutionID: state.ExecutionID,
		variables:   cloneMap(state.Variables),
		nodeOutputs: cloneMap(state.NodeOutputs),
	}
	ec.nodesExecuted = append([]string(nil), state.NodesExecuted...)
	ec.currentNode = state.CurrentNode
	return ec
}

// Variables returns a snapshot copy of the current variable bag.
func (ec *ExecutionContext) Variables() map[string]any {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return cloneMap(ec.variables)
}

// Outputs returns a snapshot copy of every node's recorded output, keyed by
// node id.
func (ec *ExecutionContext) Outputs() map[string]any {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return cloneMap(ec.nodeOutputs)
}

// Merge shallow-replaces entries in the variable bag, optionally namespaced
// under prefix (used by parallel-node output merging, "<node>.<branch>").
func (ec *ExecutionContext) Merge(prefix string, values map[string]any) {
	if len(values) == 0 {
		return
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	for k, v := range values {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		ec.variables[key] = v
	}
}

// SetVariable assigns a single top-level variable, e.g. nesting a
// procedure node's whole output map under its configured OutputVariable
// name rather than flattening it into the top-level bag.
func (ec *ExecutionContext) SetVariable(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.variables[key] = value
}

// RecordOutput stores a node's raw output under its node id.
func (ec *ExecutionContext) RecordOutput(nodeID string, output any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.nodeOutputs[nodeID] = output
}

// MarkExecuted appends nodeID to the execution history and sets it as the
// current node.
func (ec *ExecutionContext) MarkExecuted(nodeID string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.nodesExecuted = append(ec.nodesExecuted, nodeID)
	ec.currentNode = nodeID
}

// NodesExecuted returns a copy of the execution history so far.
func (ec *ExecutionContext) NodesExecuted() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return append([]string(nil), ec.nodesExecuted...)
}

// Snapshot produces a serializable ResumeState capturing the context as of
// the call, anchored at currentNode (the node the execution should
// re-enter on resume).
func (ec *ExecutionContext) Snapshot(currentNode string) workflow.ResumeState {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return workflow.ResumeState{
		WorkflowID:    ec.WorkflowID,
		ExecutionID:   ec.ExecutionID,
		CurrentNode:   currentNode,
		Variables:     cloneMap(ec.variables),
		NodeOutputs:   cloneMap(ec.nodeOutputs),
		NodesExecuted: append([]string(nil), ec.nodesExecuted...),
	}
}

// Fork returns an independent child context for a parallel branch, seeded
// with the parent's current variables so the branch can read them, but
// writing to its own copy until the parallel node merges it back.
func (ec *ExecutionContext) Fork() *ExecutionContext {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return &ExecutionContext{
		WorkflowID:  ec.WorkflowID,
		ExecutionID: ec.ExecutionID,
		StartTime:   ec.StartTime,
		variables:   cloneMap(ec.variables),
		nodeOutputs: cloneMap(ec.nodeOutputs),
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return make(map[string]any)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
