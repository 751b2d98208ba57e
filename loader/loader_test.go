package loader_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavegraph/weavegraph/contract"
	"github.com/weavegraph/weavegraph/loader"
)

const echoProcedureYAML = `
name: demo.echo
category: test
roles: [workflow-node]
`

const demoWorkflowYAML = `
id: demo-workflow
name: Demo
startNode: echo
nodes:
  - id: echo
    kind: procedure
    procedure:
      procedureName: demo.echo
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func echoHandler(_ context.Context, input any, _ contract.InvocationContext) (any, error) {
	return input, nil
}

func TestScanRegistersProceduresAndWorkflows(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "echo.procedure.yaml", echoProcedureYAML)
	writeFile(t, dir, "demo.workflow.yaml", demoWorkflowYAML)

	reg := contract.NewRegistry()
	ld := loader.New(dir, map[contract.Name]contract.Handler{"demo.echo": echoHandler})

	delta, err := ld.Scan(reg)
	require.NoError(t, err)
	assert.Equal(t, []contract.Name{"demo.echo"}, delta.AddedProcedures)
	assert.Equal(t, []string{"demo-workflow"}, delta.AddedWorkflows)

	proc, ok := reg.Get("demo.echo")
	require.True(t, ok)
	assert.True(t, proc.HasRole(contract.RoleWorkflowNode))

	def, ok := ld.Lookup("demo-workflow")
	require.True(t, ok)
	assert.Equal(t, "echo", def.StartNode)
}

func TestReloadIsNoopWhenNothingChanged(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "echo.procedure.yaml", echoProcedureYAML)

	reg := contract.NewRegistry()
	ld := loader.New(dir, map[contract.Name]contract.Handler{"demo.echo": echoHandler})
	_, err := ld.Scan(reg)
	require.NoError(t, err)

	delta, err := ld.Reload(reg)
	require.NoError(t, err)
	assert.True(t, delta.Empty())
}

func TestReloadDetectsUpdateAndRemoval(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "echo.procedure.yaml", echoProcedureYAML)

	reg := contract.NewRegistry()
	ld := loader.New(dir, map[contract.Name]contract.Handler{"demo.echo": echoHandler})
	_, err := ld.Scan(reg)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(echoProcedureYAML+"\ntags: [updated]\n"), 0o644))
	delta, err := ld.Reload(reg)
	require.NoError(t, err)
	assert.Equal(t, []contract.Name{"demo.echo"}, delta.UpdatedProcedures)

	require.NoError(t, os.Remove(path))
	delta, err = ld.Reload(reg)
	require.NoError(t, err)
	assert.Equal(t, []contract.Name{"demo.echo"}, delta.RemovedProcedures)
	assert.False(t, reg.Has("demo.echo"))
}

func TestScanFailsWhenHandlerMissing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "echo.procedure.yaml", echoProcedureYAML)

	reg := contract.NewRegistry()
	ld := loader.New(dir, map[contract.Name]contract.Handler{})
	_, err := ld.Scan(reg)
	assert.Error(t, err)
}
