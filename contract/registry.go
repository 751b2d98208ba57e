package contract

import (
	"sort"
	"sync"

	"github.com/weavegraph/weavegraph/errs"
)

// Registry is the name→Procedure lookup. It is read-mostly: writes only
// happen during load/reload, and readers observe a consistent snapshot,
// matching the mutex-guarded map pattern of registry/store/memory.Store.
type Registry struct {
	mu         sync.RWMutex
	procedures map[Name]*Procedure
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{procedures: make(map[Name]*Procedure)}
}

// Register inserts a procedure. Re-registering an identical procedure value
// (same pointer) is idempotent; registering a different procedure under an
// already-used name fails with errs.KindDuplicateName.
func (r *Registry) Register(p *Procedure) error {
	if p == nil {
		return errs.New(errs.KindDuplicateName, "contract: cannot register a nil procedure")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, dup := r.procedures[p.name]; dup {
		if existing == p {
			return nil
		}
		return errs.New(errs.KindDuplicateName, "contract: procedure %q is already registered", p.name)
	}
	r.procedures[p.name] = p
	return nil
}

// Unregister removes a procedure by name. Used by the library loader when
// applying incremental reload deltas. Returns false if the
// name was not registered.
func (r *Registry) Unregister(name Name) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.procedures[name]; !ok {
		return false
	}
	delete(r.procedures, name)
	return true
}

// Get looks up a procedure by exact name.
func (r *Registry) Get(name Name) (*Procedure, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procedures[name]
	return p, ok
}

// Has reports whether a procedure with the given name is registered.
func (r *Registry) Has(name Name) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns every registered procedure, sorted by name for deterministic
// iteration order (the spec states insertion order is irrelevant).
func (r *Registry) List() []*Procedure {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Procedure, 0, len(r.procedures))
	for _, p := range r.procedures {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// FilterVisible returns every registered procedure carrying the given role.
func (r *Registry) FilterVisible(role Role) []*Procedure {
	var out []*Procedure
	for _, p := range r.List() {
		if p.HasRole(role) {
			out = append(out, p)
		}
	}
	return out
}
