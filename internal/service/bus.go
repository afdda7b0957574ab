package service

import (
	"sync"
	"time"

	"github.com/joeblew999/geocluster/internal/cluster"
)

// Event represents a resource mutation or a build progress step.
type Event struct {
	Resource string        `json:"resource"`          // e.g. "datasets"
	Action   string        `json:"action"`            // "created", "updated", "deleted", "build", "built", "baked"
	ID       string        `json:"id"`                // resource ID
	Phase    string        `json:"phase,omitempty"`   // build phase, "build" events only
	Elapsed  time.Duration `json:"elapsed,omitempty"` // phase duration
	Detail   string        `json:"detail,omitempty"`
}

// EventBus is a simple fan-out pub/sub for resource change events.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers (non-blocking).
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

// DefaultBus is the package-level event bus.
var DefaultBus = NewEventBus()

// busObserver publishes every finished build phase of one dataset.
type busObserver struct {
	bus *EventBus
	id  string
}

var _ cluster.Observer = busObserver{}

func (o busObserver) Start(string) {}

func (o busObserver) Stop(phase string, elapsed time.Duration, detail string) {
	o.bus.Publish(Event{
		Resource: "datasets",
		Action:   "build",
		ID:       o.id,
		Phase:    phase,
		Elapsed:  elapsed,
		Detail:   detail,
	})
}
