package executor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavegraph/weavegraph/contract"
	"github.com/weavegraph/weavegraph/errs"
	"github.com/weavegraph/weavegraph/eventbus"
	"github.com/weavegraph/weavegraph/executor"
	"github.com/weavegraph/weavegraph/tracing"
)

func addProcedure() *contract.Procedure {
	inSchema := contract.MustCompileSchema("add-in", map[string]any{
		"type":     "object",
		"required": []any{"a", "b"},
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
	})
	return contract.New("math.add", inSchema, nil, func(_ context.Context, input any, _ contract.InvocationContext) (any, error) {
		m := input.(map[string]any)
		return map[string]any{"result": m["a"].(float64) + m["b"].(float64)}, nil
	}, contract.Metadata{Roles: map[contract.Role]struct{}{contract.RoleWorkflowNode: {}}})
}

func TestExecutorHappyPathEmitsOrderedEvents(t *testing.T) {
	bus := eventbus.New()
	collector := tracing.NewCollector()
	var kinds []eventbus.Kind
	bus.Subscribe("exec-1", func(ev eventbus.Event) { kinds = append(kinds, ev.Kind) })

	e := executor.New()
	out, err := e.Invoke(context.Background(), addProcedure(), map[string]any{"a": 1.0, "b": 2.0}, contract.InvocationContext{}, executor.InvokeOptions{
		ExecutionID: "exec-1",
		Bus:         bus,
		Collector:   collector,
	})
	require.NoError(t, err)
	assert.Equal(t, 3.0, out.(map[string]any)["result"])
	assert.Equal(t, []eventbus.Kind{eventbus.KindProcedureStarted, eventbus.KindProcedureComplete}, kinds)

	spans := collector.Spans()
	require.Len(t, spans, 1)
	assert.Equal(t, tracing.StatusOK, spans[0].Status.Code)
}

func TestExecutorInputValidationFailsBeforeHandler(t *testing.T) {
	called := false
	proc := contract.New("math.add", contract.MustCompileSchema("add-in", map[string]any{
		"type":     "object",
		"required": []any{"a", "b"},
	}), nil, func(context.Context, any, contract.InvocationContext) (any, error) {
		called = true
		return nil, nil
	}, contract.Metadata{})

	e := executor.New()
	_, err := e.Invoke(context.Background(), proc, map[string]any{"a": 1.0}, contract.InvocationContext{}, executor.InvokeOptions{})
	require.Error(t, err)
	assert.False(t, called)

	var ee *errs.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, errs.KindInputValidation, ee.Kind)
}

func TestExecutorHandlerErrorWraps(t *testing.T) {
	proc := contract.New("boom", nil, nil, func(context.Context, any, contract.InvocationContext) (any, error) {
		return nil, errors.New("kaboom")
	}, contract.Metadata{})

	e := executor.New()
	_, err := e.Invoke(context.Background(), proc, nil, contract.InvocationContext{}, executor.InvokeOptions{})
	require.Error(t, err)

	var ee *errs.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, errs.KindHandlerError, ee.Kind)
}

func TestExecutorOutputValidationFailsAfterHandler(t *testing.T) {
	outSchema := contract.MustCompileSchema("out", map[string]any{
		"type":     "object",
		"required": []any{"result"},
	})
	proc := contract.New("bad-output", nil, outSchema, func(context.Context, any, contract.InvocationContext) (any, error) {
		return map[string]any{}, nil
	}, contract.Metadata{})

	e := executor.New()
	_, err := e.Invoke(context.Background(), proc, nil, contract.InvocationContext{}, executor.InvokeOptions{})
	require.Error(t, err)

	var ee *errs.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, errs.KindOutputValidation, ee.Kind)
}
