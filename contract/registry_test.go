package contract_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavegraph/weavegraph/contract"
	"github.com/weavegraph/weavegraph/errs"
)

func noopHandler(_ context.Context, input any, _ contract.InvocationContext) (any, error) {
	return input, nil
}

func TestRegistryRegisterGetRoundTrip(t *testing.T) {
	r := contract.NewRegistry()
	p := contract.New("math.add", nil, nil, noopHandler, contract.Metadata{
		Roles: map[contract.Role]struct{}{contract.RoleWorkflowNode: {}},
	})
	require.NoError(t, r.Register(p))

	got, ok := r.Get("math.add")
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.True(t, r.Has("math.add"))
}

func TestRegistryDuplicateName(t *testing.T) {
	r := contract.NewRegistry()
	p1 := contract.New("math.add", nil, nil, noopHandler, contract.Metadata{})
	p2 := contract.New("math.add", nil, nil, noopHandler, contract.Metadata{})
	require.NoError(t, r.Register(p1))

	err := r.Register(p2)
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindDuplicateName, e.Kind)

	// Re-registering the identical pointer is idempotent.
	require.NoError(t, r.Register(p1))
}

func TestRegistryFilterVisible(t *testing.T) {
	r := contract.NewRegistry()
	internal := contract.New("internal.only", nil, nil, noopHandler, contract.Metadata{})
	public := contract.New("public.node", nil, nil, noopHandler, contract.Metadata{
		Roles: map[contract.Role]struct{}{contract.RoleWorkflowNode: {}},
	})
	require.NoError(t, r.Register(internal))
	require.NoError(t, r.Register(public))

	visible := r.FilterVisible(contract.RoleWorkflowNode)
	require.Len(t, visible, 1)
	assert.Equal(t, contract.Name("public.node"), visible[0].Name())
}

func TestRegistryTriggerRoleImpliesWorkflowNode(t *testing.T) {
	p := contract.New("drive.watch", nil, nil, noopHandler, contract.Metadata{Kind: contract.KindTrigger})
	assert.True(t, p.HasRole(contract.RoleTrigger))
	assert.True(t, p.VisibleToWorkflow())
}

// TestRegistrationRoundTripConsistencyProperty ports the shape of the
// teacher's registry/store/memory TestRegistrationRoundTripConsistency: for
// any valid set of distinct names, registering then listing returns exactly
// that set.
func TestRegistrationRoundTripConsistencyProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("register then list contains every distinct name exactly once", prop.ForAll(
		func(names []string) bool {
			r := contract.NewRegistry()
			seen := map[string]bool{}
			var unique []string
			for _, n := range names {
				if n == "" || seen[n] {
					continue
				}
				seen[n] = true
				unique = append(unique, n)
				p := contract.New(contract.Name(n), nil, nil, noopHandler, contract.Metadata{
					Roles: map[contract.Role]struct{}{contract.RoleWorkflowNode: {}},
				})
				if err := r.Register(p); err != nil {
					return false
				}
			}
			listed := r.FilterVisible(contract.RoleWorkflowNode)
			if len(listed) != len(unique) {
				return false
			}
			for _, p := range listed {
				if !seen[string(p.Name())] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
