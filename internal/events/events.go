package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Domain event types consumed by the notification collaborator.
const (
	TypeBookingCreated       = "booking.created"
	TypeBookingConfirmed     = "booking.confirmed"
	TypeBookingCancelled     = "booking.cancelled"
	TypeScheduleStatusChange = "schedule.status_changed"
	TypeAttendanceAutoOut    = "attendance.auto_checked_out"
)

// Event represents a lightweight domain event. EntityID refers to the
// affected booking, schedule, or member depending on the type.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	EntityID   int64           `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Handler reacts to an event.
type Handler func(event Event)

// Bus provides in-process pub/sub for domain events.
type Bus struct {
	subscribers map[string][]Handler
	wildcards   []Handler
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers a handler for a given event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcards = append(b.wildcards, handler)
}

// Publish notifies subscribers of the event type. Handlers run synchronously;
// the caller decides the concurrency model.
func (b *Bus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.wildcards...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// PublishJSON builds an event with a JSON payload and publishes it. Payload
// marshal failures are swallowed so event emission stays off the error path
// of booking operations; the entity id and type always survive.
func (b *Bus) PublishJSON(eventType string, entityID int64, payload any) {
	event := Event{
		Type:     eventType,
		EntityID: entityID,
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			event.Payload = data
		}
	}
	b.Publish(event)
}
