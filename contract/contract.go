// Package contract defines the procedure contract and registry: named,
// schema-validated handlers with typed metadata.
package contract

import (
	"context"
	"time"
)

type (
	// Name is a strong type for a unique procedure identifier, matching the
	// teacher's runtime/agent/tools.Ident pattern to avoid accidental mixing
	// with free-form strings.
	Name string

	// Role is a visibility/usage facet of a procedure.
	Role string

	// Exposure controls whether a procedure may be reached by external transports.
	Exposure string

	// Kind discriminates ordinary action procedures from trigger procedures.
	Kind string

	// Transport names the delivery mechanism a trigger descriptor binds to.
	Transport string

	// Metadata is optional procedure classification consumed by the registry's
	// visibility filters and by the workflow engine/trigger manager.
	Metadata struct {
		Category string
		Tags     []string
		Roles    map[Role]struct{}
		Exposure Exposure
		Kind     Kind
		Trigger  *TriggerDescriptor
	}

	// TriggerDescriptor is present on Metadata when Kind == KindTrigger.
	TriggerDescriptor struct {
		Provider          string
		Transport         Transport
		EventTypes        map[string]struct{}
		StopProcedure     Name
		PollInterval      time.Duration
		SupportsFiltering bool
	}

	// InvocationContext carries request-scoped data into a procedure handler.
	InvocationContext struct {
		RequestID    string
		Transport    string
		Metadata     map[string]any
		ParentSpanID string
		Timestamp    time.Time
	}

	// Handler is the procedure implementation. It must not mutate input.
	Handler func(ctx context.Context, input any, ictx InvocationContext) (any, error)

	// Procedure is a named, schema-validated, immutable-after-registration unit.
	Procedure struct {
		name     Name
		input    *Schema
		output   *Schema
		handler  Handler
		metadata Metadata
	}
)

const (
	// RoleWorkflowNode makes a procedure visible to the workflow engine.
	RoleWorkflowNode Role = "workflow-node"
	// RoleAPIEndpoint makes a procedure reachable by external RPC transports
	// when combined with ExposureExternal.
	RoleAPIEndpoint Role = "api-endpoint"
	// RoleSDKClient marks a procedure as intended for SDK generation.
	RoleSDKClient Role = "sdk-client"
	// RoleTrigger marks a procedure as a trigger source; implies workflow-node visibility.
	RoleTrigger Role = "trigger"

	// ExposureExternal allows external transports to invoke the procedure.
	ExposureExternal Exposure = "external"
	// ExposureInternal restricts the procedure to in-process callers.
	ExposureInternal Exposure = "internal"

	// KindAction is an ordinary one-shot procedure.
	KindAction Kind = "action"
	// KindTrigger is a procedure that establishes an external subscription.
	KindTrigger Kind = "trigger"

	// TransportWebhook delivers events via inbound webhook callbacks.
	TransportWebhook Transport = "webhook"
	// TransportWatch establishes a provider-side watch/channel subscription.
	TransportWatch Transport = "watch"
	// TransportPoll polls an external source on an interval.
	TransportPoll Transport = "poll"
	// TransportStream consumes a long-lived provider stream.
	TransportStream Transport = "stream"
	// TransportSubscription binds to a named provider subscription.
	TransportSubscription Transport = "subscription"
)

// New constructs a Procedure. Panics if name is empty or handler is nil —
// procedures are owned by the registry and must be well-formed before
// registration. A nil input or output schema means that side is not
// validated.
func New(name Name, input, output *Schema, handler Handler, meta Metadata) *Procedure {
	if name == "" {
		panic("contract: procedure name is required")
	}
	if handler == nil {
		panic("contract: procedure handler is required")
	}
	if meta.Kind == "" {
		meta.Kind = KindAction
	}
	if meta.Roles == nil {
		meta.Roles = map[Role]struct{}{}
	}
	if meta.Kind == KindTrigger {
		meta.Roles[RoleTrigger] = struct{}{}
	}
	if _, ok := meta.Roles[RoleTrigger]; ok {
		meta.Roles[RoleWorkflowNode] = struct{}{}
	}
	return &Procedure{name: name, input: input, output: output, handler: handler, metadata: meta}
}

// Name returns the procedure's unique registered name.
func (p *Procedure) Name() Name { return p.name }

// InputSchema returns the input validation schema, or nil if unvalidated.
func (p *Procedure) InputSchema() *Schema { return p.input }

// OutputSchema returns the output validation schema, or nil if unvalidated.
func (p *Procedure) OutputSchema() *Schema { return p.output }

// Handler returns the procedure's handler function.
func (p *Procedure) Handler() Handler { return p.handler }

// Metadata returns the procedure's metadata.
func (p *Procedure) Metadata() Metadata { return p.metadata }

// HasRole reports whether the procedure carries the given role.
func (p *Procedure) HasRole(r Role) bool {
	_, ok := p.metadata.Roles[r]
	return ok
}

// VisibleToWorkflow reports whether the engine may reference this procedure
// from a "procedure" node.
func (p *Procedure) VisibleToWorkflow() bool { return p.HasRole(RoleWorkflowNode) }

// VisibleExternally reports whether external transports may invoke this
// procedure directly.
func (p *Procedure) VisibleExternally() bool {
	return p.metadata.Exposure == ExposureExternal && p.HasRole(RoleAPIEndpoint)
}
