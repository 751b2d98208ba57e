// Package loader implements the Library Loader: it scans a directory tree
// for procedure contracts and workflow definitions, performs structural
// discovery rather than trusting arbitrary data at call time, and supports
// incremental reload by diffing file content hashes against the previous
// scan, applying only the resulting delta to the registry and the
// workflow-definition index.
//
// Since Go cannot load executable code from a data file, only a
// procedure's contract (name, schema, role/exposure metadata, trigger
// descriptor) is discovered from disk; its Handler must already exist in
// the Handlers map supplied to New — the loader's job is binding declared
// contracts to already-compiled handler code, not compiling code itself.
package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/weavegraph/weavegraph/contract"
	"github.com/weavegraph/weavegraph/errs"
	"github.com/weavegraph/weavegraph/workflow"
)

const (
	procedureSuffix = ".procedure.yaml"
	workflowSuffix  = ".workflow.yaml"
)

var skipDirs = map[string]bool{
	"vendor":       true,
	"node_modules": true,
	".git":         true,
}

// Delta describes what changed between two scans, for callers that want to
// log or react to a reload rather than just accept the new snapshot.
type Delta struct {
	AddedProcedures   []contract.Name
	UpdatedProcedures []contract.Name
	RemovedProcedures []contract.Name
	AddedWorkflows    []string
	UpdatedWorkflows  []string
	RemovedWorkflows  []string
}

// Empty reports whether the delta carries no changes at all.
func (d Delta) Empty() bool {
	return len(d.AddedProcedures) == 0 && len(d.UpdatedProcedures) == 0 && len(d.RemovedProcedures) == 0 &&
		len(d.AddedWorkflows) == 0 && len(d.UpdatedWorkflows) == 0 && len(d.RemovedWorkflows) == 0
}

type fileEntry struct {
	path string
	hash string
}

// Loader scans Root for *.procedure.yaml and *.workflow.yaml files and
// tracks their content hashes so Reload can compute a minimal delta.
type Loader struct {
	Root     string
	Handlers map[contract.Name]contract.Handler

	mu         sync.Mutex
	procFiles  map[string]fileEntry // path -> entry, procedure name tracked via procByFile
	procByFile map[string]contract.Name
	wfFiles    map[string]fileEntry
	wfByFile   map[string]string

	workflows map[string]workflow.Definition
}

// New builds a Loader rooted at root. handlers supplies the Go handler
// function for every procedure name the loader may discover; a discovered
// procedure whose name has no matching handler is skipped with an error
// returned from Scan/Reload rather than silently registered half-built.
func New(root string, handlers map[contract.Name]contract.Handler) *Loader {
	return &Loader{
		Root:       root,
		Handlers:   handlers,
		procFiles:  make(map[string]fileEntry),
		procByFile: make(map[string]contract.Name),
		wfFiles:    make(map[string]fileEntry),
		wfByFile:   make(map[string]string),
		workflows:  make(map[string]workflow.Definition),
	}
}

// Definitions returns the current set of loaded workflow definitions, for
// use as (or wiring into) an engine.DefinitionLookup.
func (l *Loader) Definitions() map[string]workflow.Definition {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]workflow.Definition, len(l.workflows))
	for k, v := range l.workflows {
		out[k] = v
	}
	return out
}

// Lookup implements engine.DefinitionLookup directly.
func (l *Loader) Lookup(workflowID string) (workflow.Definition, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.workflows[workflowID]
	return d, ok
}

// Scan performs a full initial load, registering every discovered procedure
// into reg and capturing every discovered workflow definition.
func (l *Loader) Scan(reg *contract.Registry) (Delta, error) {
	return l.reload(reg)
}

// Reload re-scans Root and applies only the delta against the previous
// scan: new files are registered, changed files replace their previous
// registration, and files no longer present are unregistered. Atomicity is
// per-item — a parse failure partway through aborts before any registry
// mutation for that item, but earlier items in the same Reload call are
// not rolled back.
func (l *Loader) Reload(reg *contract.Registry) (Delta, error) {
	return l.reload(reg)
}

func (l *Loader) reload(reg *contract.Registry) (Delta, error) {
	procFiles, wfFiles, err := l.walk()
	if err != nil {
		return Delta{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var delta Delta

	// Procedures: removed first, so a renamed file's old name frees up
	// before a same-named-but-different file (unlikely, but keeps Register
	// from spuriously rejecting a duplicate).
	for path, prevName := range l.procByFile {
		if _, stillPresent := procFiles[path]; !stillPresent {
			reg.Unregister(prevName)
			delete(l.procFiles, path)
			delete(l.procByFile, path)
			delta.RemovedProcedures = append(delta.RemovedProcedures, prevName)
		}
	}
	for path, content := range procFiles {
		prev, known := l.procFiles[path]
		hash := hashBytes(content)
		if known && prev.hash == hash {
			continue
		}
		var doc procedureDoc
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return delta, errs.New(errs.KindHandlerError, "loader: parse %s: %s", path, err.Error())
		}
		proc, err := l.buildProcedure(doc)
		if err != nil {
			return delta, err
		}
		if prevName, hadOne := l.procByFile[path]; hadOne {
			reg.Unregister(prevName)
		}
		if err := reg.Register(proc); err != nil {
			return delta, err
		}
		l.procFiles[path] = fileEntry{path: path, hash: hash}
		l.procByFile[path] = proc.Name()
		if known {
			delta.UpdatedProcedures = append(delta.UpdatedProcedures, proc.Name())
		} else {
			delta.AddedProcedures = append(delta.AddedProcedures, proc.Name())
		}
	}

	// Workflows: data-only, no registry interaction — just the loader's own
	// index, which backs Definitions()/Lookup().
	for path, prevID := range l.wfByFile {
		if _, stillPresent := wfFiles[path]; !stillPresent {
			delete(l.workflows, prevID)
			delete(l.wfFiles, path)
			delete(l.wfByFile, path)
			delta.RemovedWorkflows = append(delta.RemovedWorkflows, prevID)
		}
	}
	for path, content := range wfFiles {
		prev, known := l.wfFiles[path]
		hash := hashBytes(content)
		if known && prev.hash == hash {
			continue
		}
		var doc workflowDoc
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return delta, errs.New(errs.KindHandlerError, "loader: parse %s: %s", path, err.Error())
		}
		def, err := doc.toDefinition()
		if err != nil {
			return delta, err
		}
		if prevID, hadOne := l.wfByFile[path]; hadOne && prevID != def.ID {
			delete(l.workflows, prevID)
		}
		l.workflows[def.ID] = def
		l.wfFiles[path] = fileEntry{path: path, hash: hash}
		l.wfByFile[path] = def.ID
		if known {
			delta.UpdatedWorkflows = append(delta.UpdatedWorkflows, def.ID)
		} else {
			delta.AddedWorkflows = append(delta.AddedWorkflows, def.ID)
		}
	}

	sortNames(delta.AddedProcedures)
	sortNames(delta.UpdatedProcedures)
	sortNames(delta.RemovedProcedures)
	sort.Strings(delta.AddedWorkflows)
	sort.Strings(delta.UpdatedWorkflows)
	sort.Strings(delta.RemovedWorkflows)

	return delta, nil
}

func (l *Loader) buildProcedure(doc procedureDoc) (*contract.Procedure, error) {
	name := contract.Name(doc.Name)
	if name == "" {
		return nil, errs.New(errs.KindHandlerError, "loader: procedure document is missing a name")
	}
	handler, ok := l.Handlers[name]
	if !ok {
		return nil, errs.New(errs.KindHandlerError, "loader: no handler registered for discovered procedure %q", name)
	}

	var inputSchema, outputSchema *contract.Schema
	var err error
	if doc.InputSchema != nil {
		if inputSchema, err = contract.CompileSchema(doc.Name+".input", doc.InputSchema); err != nil {
			return nil, err
		}
	}
	if doc.OutputSchema != nil {
		if outputSchema, err = contract.CompileSchema(doc.Name+".output", doc.OutputSchema); err != nil {
			return nil, err
		}
	}

	meta := contract.Metadata{
		Category: doc.Category,
		Tags:     doc.Tags,
		Roles:    make(map[contract.Role]struct{}, len(doc.Roles)),
		Exposure: contract.Exposure(doc.Exposure),
		Kind:     contract.Kind(doc.Kind),
	}
	for _, r := range doc.Roles {
		meta.Roles[contract.Role(r)] = struct{}{}
	}
	if doc.Trigger != nil {
		eventTypes := make(map[string]struct{}, len(doc.Trigger.EventTypes))
		for _, et := range doc.Trigger.EventTypes {
			eventTypes[et] = struct{}{}
		}
		meta.Trigger = &contract.TriggerDescriptor{
			Provider:          doc.Trigger.Provider,
			Transport:         contract.Transport(doc.Trigger.Transport),
			EventTypes:        eventTypes,
			StopProcedure:     contract.Name(doc.Trigger.StopProcedure),
			PollInterval:      time.Duration(doc.Trigger.PollIntervalSeconds) * time.Second,
			SupportsFiltering: doc.Trigger.SupportsFiltering,
		}
	}

	return contract.New(name, inputSchema, outputSchema, handler, meta), nil
}

// walk collects the raw content of every procedure/workflow file under
// Root, keyed by path, without mutating loader state — the caller decides
// what changed under the lock.
func (l *Loader) walk() (map[string][]byte, map[string][]byte, error) {
	procFiles := make(map[string][]byte)
	wfFiles := make(map[string][]byte)

	err := filepath.WalkDir(l.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") && path != l.Root {
				return filepath.SkipDir
			}
			return nil
		}
		switch {
		case strings.HasSuffix(path, procedureSuffix):
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			procFiles[path] = content
		case strings.HasSuffix(path, workflowSuffix):
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			wfFiles[path] = content
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return procFiles, wfFiles, nil
}

func errFieldRequired(nodeID, kind string) error {
	return errs.New(errs.KindHandlerError, "loader: node %q is kind %q but has no %q config block", nodeID, kind, kind)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func sortNames(names []contract.Name) {
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
}
