package lifecycle

// Event is a lifecycle or batching event. Name is a snake_case identifier such
// as "load_done"; Fields carries optional details.
type Event struct {
	Name    string
	Model   string
	Version int64
	Fields  map[string]any
}

// EventPublisher receives events. Implementations should be lightweight and
// non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
