package events

import (
	"encoding/json"
	"sync"
	"time"

	"intake/internal/models"
)

const (
	EventNetworkOnline    = "network.online"
	EventNetworkOffline   = "network.offline"
	EventTaskEnqueued     = "queue.task_enqueued"
	EventSyncCompleted    = "sync.completed"
	EventCacheInvalidated = "cache.invalidated"
	EventVerification     = "verification.completed"
)

// NetworkEventPayload describes a connectivity edge.
type NetworkEventPayload struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// TaskEventPayload is published when a mutation is parked in the offline queue.
type TaskEventPayload struct {
	TaskID        string          `json:"task_id"`
	Type          models.TaskType `json:"type"`
	CorrelationID string          `json:"correlation_id"`
}

// SyncCompletedPayload carries the aggregate outcome of a drain pass.
type SyncCompletedPayload struct {
	Summary models.ReplaySummary `json:"summary"`
	Message string               `json:"message"`
}

// CacheInvalidatedPayload lists the collections whose read caches were dropped.
type CacheInvalidatedPayload struct {
	Collections []string `json:"collections"`
}

// VerificationPayload reports the secondary integration outcome for a record.
type VerificationPayload struct {
	CorrelationID string                    `json:"correlation_id"`
	Result        models.VerificationResult `json:"result"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	onError     func(event *Event, err error)
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError installs a hook invoked when a handler returns an error.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
// A nil bus is a valid no-op publisher.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
