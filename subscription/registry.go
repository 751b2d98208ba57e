// Package subscription implements the Subscription Registry: the in-memory
// index of paused executions awaiting an external event, keyed by
// (provider, eventType) so the Trigger Manager can resolve an inbound event
// to every execution currently waiting on it. Resume operations against a
// single executionId are serialized.
//
// Grounded on the map-of-channels SignalChannel pattern in
// runtime/agent/engine/inmem/engine.go (wfCtx.sigs), repurposed here from
// per-execution channels to a provider/eventType index over serializable
// pause records, since pause state must survive being looked at without a
// live goroutine attached.
package subscription

import (
	"sync"
	"time"

	"github.com/weavegraph/weavegraph/errs"
	"github.com/weavegraph/weavegraph/workflow"
)

type key struct {
	provider  string
	eventType string
}

// Registry indexes paused executions by their resume criteria and
// serializes resume attempts per executionId.
type Registry struct {
	mu        sync.Mutex
	byKey     map[key]map[string]*workflow.PausedExecution // executionID -> entry
	byExec    map[string]key
	resumeMus map[string]*sync.Mutex
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		byKey:     make(map[key]map[string]*workflow.PausedExecution),
		byExec:    make(map[string]key),
		resumeMus: make(map[string]*sync.Mutex),
	}
}

// Register records a newly paused execution, indexed by its resume
// criteria. Registering an executionID that is already paused replaces the
// prior entry (a re-pause at a new node supersedes the old wait).
func (r *Registry) Register(p workflow.PausedExecution) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{provider: p.ResumeCriteria.Provider, eventType: p.ResumeCriteria.EventType}
	if old, ok := r.byExec[p.ExecutionID]; ok {
		delete(r.byKey[old], p.ExecutionID)
	}
	bucket, ok := r.byKey[k]
	if !ok {
		bucket = make(map[string]*workflow.PausedExecution)
		r.byKey[k] = bucket
	}
	entry := p
	bucket[p.ExecutionID] = &entry
	r.byExec[p.ExecutionID] = k
}

// Matching returns every paused execution subscribed to (provider,
// eventType) whose filter accepts payload. A nil filter accepts everything.
func (r *Registry) Matching(provider, eventType string, payload map[string]any) []workflow.PausedExecution {
	r.mu.Lock()
	bucket := r.byKey[key{provider: provider, eventType: eventType}]
	candidates := make([]*workflow.PausedExecution, 0, len(bucket))
	for _, p := range bucket {
		candidates = append(candidates, p)
	}
	r.mu.Unlock()

	var out []workflow.PausedExecution
	for _, p := range candidates {
		if p.ResumeCriteria.Matches(payload, p.SerializedResumeState.Variables) {
			out = append(out, *p)
		}
	}
	return out
}

// Lock returns the per-execution resume mutex, creating it on first use.
// Callers must hold it for the duration of a resume attempt so that two
// concurrent events matching the same execution cannot both resume it.
func (r *Registry) Lock(executionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.resumeMus[executionID]
	if !ok {
		m = &sync.Mutex{}
		r.resumeMus[executionID] = m
	}
	return m
}

// Remove discards a paused execution's entry, e.g. once it has resumed or
// timed out. Returns false if executionID was not registered.
func (r *Registry) Remove(executionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.byExec[executionID]
	if !ok {
		return false
	}
	delete(r.byKey[k], executionID)
	delete(r.byExec, executionID)
	return true
}

// Get returns the paused entry for executionID, if any.
func (r *Registry) Get(executionID string) (workflow.PausedExecution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.byExec[executionID]
	if !ok {
		return workflow.PausedExecution{}, false
	}
	p, ok := r.byKey[k][executionID]
	if !ok {
		return workflow.PausedExecution{}, false
	}
	return *p, true
}

// Expired returns every paused execution whose timeout deadline has passed
// as of at, across all subscriptions.
func (r *Registry) Expired(at time.Time) []workflow.PausedExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []workflow.PausedExecution
	for _, bucket := range r.byKey {
		for _, p := range bucket {
			if p.Expired(at) {
				out = append(out, *p)
			}
		}
	}
	return out
}

// ErrNotPaused is returned by callers that expect an executionID to be
// registered as paused but find it is not.
var ErrNotPaused = errs.New(errs.KindResumeRejected, "subscription: execution is not paused")
