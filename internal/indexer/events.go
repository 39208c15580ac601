package indexer

// EventKind names the four progress event kinds an indexing run emits.
type EventKind string

const (
	EventStatus   EventKind = "status"
	EventProgress EventKind = "progress"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// Sink receives progress events for a single run, in processing order.
// Delivery is fire-and-forget; the engine makes no guarantees beyond
// at-most-once per emission. A nil sink is allowed.
type Sink func(kind EventKind, message string)
