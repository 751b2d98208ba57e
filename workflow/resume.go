package workflow

import (
	"time"

	"github.com/expr-lang/expr"
)

// ResumeState is the serializable snapshot of a paused execution's
// continuation point: which node to re-enter, and the execution context's
// variables/outputs/history as of the pause. It is serializable because
// the Subscription Registry holds it in memory keyed by
// (provider, eventType) rather than re-deriving it from a live goroutine —
// pause is a data transition, not a suspended call stack.
type ResumeState struct {
	WorkflowID    string
	ExecutionID   string
	CurrentNode   string
	Variables     map[string]any
	NodeOutputs   map[string]any
	NodesExecuted []string
}

// Clone returns a deep-ish copy safe to hand to a concurrent resumer.
func (s ResumeState) Clone() ResumeState {
	out := s
	out.Variables = cloneAny(s.Variables)
	out.NodeOutputs = cloneAny(s.NodeOutputs)
	out.NodesExecuted = append([]string(nil), s.NodesExecuted...)
	return out
}

func cloneAny(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ResumeCriteria identifies the external event an awaiting node is
// listening for.
type ResumeCriteria struct {
	Provider         string
	EventType        string
	Filter           AwaitFilter
	FilterExpression string
}

// Matches reports whether event should resume the execution these criteria
// belong to, given the variable bag it paused with. The closure form takes
// priority over the expression form; criteria with neither set accept every
// event for (Provider, EventType). A malformed expression is treated as a
// rejection rather than a panic or a dropped event.
func (c ResumeCriteria) Matches(event, variables map[string]any) bool {
	if c.Filter != nil {
		ok, err := c.Filter(event, variables)
		return err == nil && ok
	}
	if c.FilterExpression == "" {
		return true
	}
	env := map[string]any{"evt": event, "vars": variables}
	program, err := expr.Compile(c.FilterExpression, expr.Env(env), expr.AsBool(), expr.Optimize(true))
	if err != nil {
		return false
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

// PausedExecution is the Subscription Registry's entry for one paused
// execution: the resume state plus the criteria and deadline that govern
// when and how it resumes.
type PausedExecution struct {
	ExecutionID           string
	WorkflowID            string
	PausedAt              time.Time
	ResumeCriteria        ResumeCriteria
	SerializedResumeState ResumeState
	TimeoutDeadline       *time.Time
	// WaitingFor names the await/trigger node id this execution is paused
	// at, so a timeout can route to that node's OnTimeout successor.
	WaitingFor string
}

// Expired reports whether the pause has exceeded its timeout deadline as of
// at.
func (p PausedExecution) Expired(at time.Time) bool {
	return p.TimeoutDeadline != nil && at.After(*p.TimeoutDeadline)
}
