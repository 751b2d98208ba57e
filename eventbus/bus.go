// Package eventbus implements topic-based fan-out: best-effort,
// fire-and-forget delivery of procedure/workflow/node lifecycle events to
// per-execution and global subscribers. It generalizes the in-memory
// signal-channel pattern of runtime/agent/engine/inmem/engine.go's
// signalChan from single-reader channels to a pub/sub fan-out topic.
package eventbus

import (
	"sync"
	"time"
)

// Kind namespaces event types.
type Kind string

const (
	KindWorkflowStarted   Kind = "workflow.started"
	KindWorkflowResumed   Kind = "workflow.resumed"
	KindWorkflowCompleted Kind = "workflow.completed"
	KindWorkflowFailed    Kind = "workflow.failed"
	KindWorkflowPaused    Kind = "workflow.paused"
	KindNodeStarted       Kind = "node.started"
	KindNodeCompleted     Kind = "node.completed"
	KindWorkflowResult    Kind = "workflow.result"
	KindProcedureStarted  Kind = "procedure.started"
	KindProcedureComplete Kind = "procedure.completed"
	KindProcedureFailed   Kind = "procedure.failed"
)

// terminalKinds close a per-execution topic once published.
var terminalKinds = map[Kind]bool{
	KindWorkflowCompleted: true,
	KindWorkflowFailed:    true,
}

// Event is a single published message.
type Event struct {
	Kind        Kind
	ExecutionID string
	WorkflowID  string
	Timestamp   time.Time
	Payload     any
}

// Listener receives published events. Panics inside a listener are recovered
// so one bad subscriber cannot affect the producer or other subscribers.
type Listener func(Event)

// Unsubscribe detaches a previously registered listener.
type Unsubscribe func()

type topic struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	closed    bool
}

// Bus is the concurrent-safe publish/subscribe surface for lifecycle events.
type Bus struct {
	mu         sync.Mutex
	byExec     map[string]*topic
	global     *topic
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		byExec: make(map[string]*topic),
		global: &topic{listeners: make(map[int]Listener)},
	}
}

// Subscribe registers listener on the topic for a single execution. Returns
// an Unsubscribe func. A late subscribe on an already-closed (terminal)
// topic registers nothing and returns a no-op unsubscribe: a late subscriber
// never sees past events.
func (b *Bus) Subscribe(executionID string, listener Listener) Unsubscribe {
	b.mu.Lock()
	t, ok := b.byExec[executionID]
	if !ok {
		t = &topic{listeners: make(map[int]Listener)}
		b.byExec[executionID] = t
	}
	b.mu.Unlock()
	return t.subscribe(listener)
}

// SubscribeAll registers listener on the global topic, receiving every event
// from every execution.
func (b *Bus) SubscribeAll(listener Listener) Unsubscribe {
	return b.global.subscribe(listener)
}

// Publish fans ev out to the matching per-execution topic (if any) and to
// every global subscriber. Delivery is synchronous-but-isolated: each
// listener is invoked directly, with panics recovered, so ordering within a
// single execution's topic is preserved.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.Lock()
	t, ok := b.byExec[ev.ExecutionID]
	b.mu.Unlock()
	if ok {
		t.deliver(ev)
		if terminalKinds[ev.Kind] {
			t.close()
		}
	}
	b.global.deliver(ev)
}

func (t *topic) subscribe(listener Listener) Unsubscribe {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return func() {}
	}
	id := t.nextID
	t.nextID++
	t.listeners[id] = listener
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}

func (t *topic) deliver(ev Event) {
	t.mu.Lock()
	snapshot := make([]Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		snapshot = append(snapshot, l)
	}
	t.mu.Unlock()
	for _, l := range snapshot {
		invokeSafely(l, ev)
	}
}

func (t *topic) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.listeners = make(map[int]Listener)
}

func invokeSafely(l Listener, ev Event) {
	defer func() { _ = recover() }()
	l(ev)
}
