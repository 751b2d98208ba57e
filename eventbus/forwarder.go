package eventbus

// Forwarder mirrors published events onto an external, read-only
// observability surface (e.g. a Pulse/Redis stream for dashboards, per
// SPEC_FULL.md §3.2). It is intentionally a narrow interface rather than a
// concrete client: the core ships without a live Redis endpoint to dial in
// tests, so production wiring implements Forwarder against
// goa.design/pulse the way runtime/toolregistry/executor does for tool
// result streams, and attaches it via Bus.Forward.
type Forwarder interface {
	Forward(Event)
}

// ForwarderFunc adapts a plain function to Forwarder.
type ForwarderFunc func(Event)

// Forward calls f(ev).
func (f ForwarderFunc) Forward(ev Event) { f(ev) }

// Forward attaches fw as a global listener whose failures never affect
// in-process delivery: Forward itself is invoked through the same
// panic-isolated listener path as any other subscriber.
func (b *Bus) Forward(fw Forwarder) Unsubscribe {
	if fw == nil {
		return func() {}
	}
	return b.SubscribeAll(func(ev Event) { fw.Forward(ev) })
}
