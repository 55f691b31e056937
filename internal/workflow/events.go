package workflow

// Event is a structured phase notification emitted after every phase
// status change. The engine never formats text; presentation belongs
// to whatever sits behind the Emitter.
type Event struct {
	FeatureNumber int64       `json:"feature_number"`
	Phase         Phase       `json:"phase"`
	Status        PhaseStatus `json:"status"`
	Iteration     int         `json:"iteration"`
	Violations    []Violation `json:"violations,omitempty"`
}

// Emitter receives phase events. Implementations must not block for long:
// the engine calls Emit synchronously between phase transitions.
type Emitter interface {
	Emit(ev Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ev Event)

// Emit calls f(ev).
func (f EmitterFunc) Emit(ev Event) { f(ev) }

// NopEmitter discards all events. Used as the default when no listener
// is wired.
type NopEmitter struct{}

// Emit does nothing.
func (NopEmitter) Emit(Event) {}
