package workflow

import (
	"github.com/weavegraph/weavegraph/contract"
	"github.com/weavegraph/weavegraph/errs"
)

// Validate checks the five structural invariants a Definition must satisfy:
//
//  1. node ids are unique;
//  2. StartNode resolves to a node in the graph;
//  3. every successor/trueBranch/falseBranch/branch/onError/onTimeout
//     target resolves to a node in the graph;
//  4. every procedure node's ProcedureName resolves in reg;
//  5. every procedure node referenced is visible to the workflow engine
//     (contract.RoleWorkflowNode).
//
// reg may be nil, in which case checks 4 and 5 are skipped — useful for
// validating a definition's shape before a registry is available (e.g. at
// load time, ahead of deployment).
func Validate(d Definition, reg *contract.Registry) error {
	if d.ID == "" {
		return errs.New(errs.KindHandlerError, "workflow: definition id is required")
	}
	if len(d.Nodes) == 0 {
		return errs.New(errs.KindHandlerError, "workflow %q: at least one node is required", d.ID)
	}

	seen := make(map[string]Node, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return errs.New(errs.KindHandlerError, "workflow %q: node with empty id", d.ID)
		}
		if _, dup := seen[n.ID]; dup {
			return errs.New(errs.KindHandlerError, "workflow %q: duplicate node id %q", d.ID, n.ID)
		}
		seen[n.ID] = n
	}

	if _, ok := seen[d.StartNode]; !ok {
		return errs.New(errs.KindNodeNotFound, "workflow %q: start node %q does not exist", d.ID, d.StartNode)
	}

	for _, n := range d.Nodes {
		for _, target := range n.Successors() {
			if _, ok := seen[target]; !ok {
				return errs.New(errs.KindNodeNotFound, "workflow %q: node %q references unknown node %q", d.ID, n.ID, target).WithNode(n.ID)
			}
		}
		if n.Kind == KindProcedure && reg != nil {
			if n.Procedure == nil || n.Procedure.ProcedureName == "" {
				return errs.New(errs.KindHandlerError, "workflow %q: procedure node %q has no procedure name", d.ID, n.ID).WithNode(n.ID)
			}
			proc, ok := reg.Get(n.Procedure.ProcedureName)
			if !ok {
				return errs.New(errs.KindProcedureNotFound, "workflow %q: node %q references unregistered procedure %q", d.ID, n.ID, n.Procedure.ProcedureName).WithNode(n.ID)
			}
			if !proc.HasRole(contract.RoleWorkflowNode) {
				return errs.New(errs.KindProcedureNotFound, "workflow %q: procedure %q is not visible to the workflow engine", d.ID, n.Procedure.ProcedureName).WithNode(n.ID)
			}
		}
	}
	return nil
}
