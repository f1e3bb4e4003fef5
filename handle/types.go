package handle

// Handle is an opaque native pointer. Zero is the null handle.
type Handle uint64

// EventType identifies a handle lifecycle event.
type EventType uint8

const (
	EventCreated EventType = iota
	EventFreed
	EventBorrowed
	EventReturned
)

func (e EventType) String() string {
	switch e {
	case EventCreated:
		return "created"
	case EventFreed:
		return "freed"
	case EventBorrowed:
		return "borrowed"
	case EventReturned:
		return "returned"
	}
	return "unknown"
}

// Event describes a change to a tracked handle.
type Event struct {
	Value  any
	Class  string
	Handle Handle
	Type   EventType
}

// Observer receives handle lifecycle events.
type Observer interface {
	OnHandleEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnHandleEvent(e Event) { f(e) }
