package workflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavegraph/weavegraph/contract"
	"github.com/weavegraph/weavegraph/errs"
	"github.com/weavegraph/weavegraph/workflow"
)

func noopHandler(context.Context, any, contract.InvocationContext) (any, error) { return nil, nil }

func registeredRegistry(t *testing.T, name contract.Name, visible bool) *contract.Registry {
	t.Helper()
	reg := contract.NewRegistry()
	meta := contract.Metadata{}
	if visible {
		meta.Roles = map[contract.Role]struct{}{contract.RoleWorkflowNode: {}}
	}
	require.NoError(t, reg.Register(contract.New(name, nil, nil, noopHandler, meta)))
	return reg
}

func TestValidateAcceptsSimpleLinearGraph(t *testing.T) {
	reg := registeredRegistry(t, "math.add", true)
	def := workflow.Definition{
		ID:        "wf1",
		StartNode: "start",
		Nodes: []workflow.Node{
			{ID: "start", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "math.add", Successor: "end"}},
			{ID: "end", Kind: workflow.KindSequential, Sequential: &workflow.SequentialConfig{}},
		},
	}
	assert.NoError(t, workflow.Validate(def, reg))
}

func TestValidateRejectsUnknownStartNode(t *testing.T) {
	def := workflow.Definition{
		ID:        "wf1",
		StartNode: "missing",
		Nodes:     []workflow.Node{{ID: "a", Kind: workflow.KindSequential, Sequential: &workflow.SequentialConfig{}}},
	}
	err := workflow.Validate(def, nil)
	require.Error(t, err)
	var ee *errs.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, errs.KindNodeNotFound, ee.Kind)
}

func TestValidateRejectsDuplicateNodeIDs(t *testing.T) {
	def := workflow.Definition{
		ID:        "wf1",
		StartNode: "a",
		Nodes: []workflow.Node{
			{ID: "a", Kind: workflow.KindSequential, Sequential: &workflow.SequentialConfig{}},
			{ID: "a", Kind: workflow.KindSequential, Sequential: &workflow.SequentialConfig{}},
		},
	}
	require.Error(t, workflow.Validate(def, nil))
}

func TestValidateRejectsDanglingSuccessor(t *testing.T) {
	def := workflow.Definition{
		ID:        "wf1",
		StartNode: "a",
		Nodes: []workflow.Node{
			{ID: "a", Kind: workflow.KindSequential, Sequential: &workflow.SequentialConfig{Successor: "nowhere"}},
		},
	}
	require.Error(t, workflow.Validate(def, nil))
}

func TestValidateRejectsUnregisteredProcedure(t *testing.T) {
	reg := contract.NewRegistry()
	def := workflow.Definition{
		ID:        "wf1",
		StartNode: "a",
		Nodes: []workflow.Node{
			{ID: "a", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "missing.proc"}},
		},
	}
	err := workflow.Validate(def, reg)
	require.Error(t, err)
	var ee *errs.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, errs.KindProcedureNotFound, ee.Kind)
}

func TestValidateRejectsProcedureNotVisibleToWorkflow(t *testing.T) {
	reg := registeredRegistry(t, "internal.only", false)
	def := workflow.Definition{
		ID:        "wf1",
		StartNode: "a",
		Nodes: []workflow.Node{
			{ID: "a", Kind: workflow.KindProcedure, Procedure: &workflow.ProcedureConfig{ProcedureName: "internal.only"}},
		},
	}
	require.Error(t, workflow.Validate(def, reg))
}

func TestValidateAllowsCycles(t *testing.T) {
	def := workflow.Definition{
		ID:        "wf1",
		StartNode: "a",
		Nodes: []workflow.Node{
			{ID: "a", Kind: workflow.KindSequential, Sequential: &workflow.SequentialConfig{Successor: "b"}},
			{ID: "b", Kind: workflow.KindSequential, Sequential: &workflow.SequentialConfig{Successor: "a"}},
		},
	}
	assert.NoError(t, workflow.Validate(def, nil))
}
