package events

// Event represents a structured state change derived while folding a batch.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (API pushers, builders
// watching the registry). Implementations must not block the sync path.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
