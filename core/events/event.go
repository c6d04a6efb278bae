package events

// Event represents a structured state change emitted by the payment engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers such as the RPC layer
// or external indexers.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding everything. Components use
// it as the default so event emission stays optional.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
