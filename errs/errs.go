// Package errs defines the failure taxonomy shared by the registry, executor,
// workflow engine, and trigger manager.
package errs

import (
	"fmt"

	goa "goa.design/goa/v3/pkg"
)

// Kind discriminates the failure taxonomy. Error serializes it under
// "kind", and the embedded ServiceError's Name carries the same string.
type Kind string

const (
	// KindInputValidation means the procedure input failed its schema.
	KindInputValidation Kind = "input_validation"
	// KindOutputValidation means a handler's output failed its schema.
	KindOutputValidation Kind = "output_validation"
	// KindProcedureNotFound means a workflow node referenced an unknown procedure.
	KindProcedureNotFound Kind = "procedure_not_found"
	// KindNodeNotFound means a successor id did not resolve in the graph.
	KindNodeNotFound Kind = "node_not_found"
	// KindHandlerError wraps an error returned by user handler code.
	KindHandlerError Kind = "handler_error"
	// KindCancelled marks cooperative termination of an execution.
	KindCancelled Kind = "cancelled"
	// KindTimeout marks an await or workflow-wide timeout.
	KindTimeout Kind = "timeout"
	// KindResumeRejected means a resume payload was rejected by the await filter.
	KindResumeRejected Kind = "resume_rejected"
	// KindDuplicateName means a registry insert collided with an existing name.
	KindDuplicateName Kind = "duplicate_name"
	// KindDeploymentError means a trigger procedure invocation failed during deploy.
	KindDeploymentError Kind = "deployment_error"
)

// FieldIssue is a single path+reason validation failure, reported for
// InputValidation/OutputValidation.
type FieldIssue struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Error is the typed error raised across the core. It embeds a
// goa.ServiceError so callers that already know how to unwrap goa service
// errors via errors.As continue to work unmodified.
type Error struct {
	*goa.ServiceError

	Kind   Kind         `json:"kind"`
	NodeID string       `json:"node_id,omitempty"`
	Issues []FieldIssue `json:"issues,omitempty"`
}

// New builds an Error of the given kind with a plain message.
func New(kind Kind, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{
		ServiceError: goa.PermanentError(string(kind), msg),
		Kind:         kind,
	}
}

// WithNode attaches the offending node id and returns the receiver for chaining.
func (e *Error) WithNode(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// WithIssues attaches field-level validation issues and returns the receiver.
func (e *Error) WithIssues(issues []FieldIssue) *Error {
	e.Issues = issues
	return e
}

// Wrap builds an Error of the given kind from an arbitrary error. An err
// that is already an *Error is returned unchanged, keeping its own Kind.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return New(kind, "%s", err.Error())
}

// Recoverable reports whether the failure kind may be routed to a node's
// onError handler instead of failing the whole workflow.
func (e *Error) Recoverable() bool {
	switch e.Kind {
	case KindInputValidation, KindOutputValidation, KindHandlerError:
		return true
	default:
		return false
	}
}
