package circuitbreaker

import "time"

// EventType identifies a breaker event.
type EventType string

const (
	// EventOpen is emitted when the circuit opens.
	EventOpen EventType = "open"

	// EventClose is emitted when the circuit closes.
	EventClose EventType = "close"

	// EventHalfOpen is emitted when the circuit admits trial traffic.
	EventHalfOpen EventType = "half-open"

	// EventSuccess is emitted for every classified success.
	EventSuccess EventType = "success"

	// EventFailure is emitted for every classified failure.
	EventFailure EventType = "failure"
)

// Event describes a breaker state change or call outcome for external
// monitoring.
type Event struct {
	Breaker string
	Type    EventType
	From    State
	To      State
	At      time.Time
	Err     error
}

// Subscribe registers fn to receive breaker events. Callbacks are invoked
// synchronously after the state transition completes, outside the breaker's
// critical section; slow subscribers delay the calling goroutine, not the
// breaker state machine.
func (cb *CircuitBreaker) Subscribe(fn func(Event)) {
	cb.subMu.Lock()
	defer cb.subMu.Unlock()
	cb.subscribers = append(cb.subscribers, fn)
}

// emit delivers an event to all subscribers. Must not be called with the
// state mutex held.
func (cb *CircuitBreaker) emit(ev Event) {
	cb.subMu.RLock()
	subs := make([]func(Event), len(cb.subscribers))
	copy(subs, cb.subscribers)
	cb.subMu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}
