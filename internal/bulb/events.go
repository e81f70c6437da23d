package bulb

import (
	"log/slog"
	"sync"
)

// Event types
const (
	EventStateChanged     = "state_changed"
	EventIdentify         = "identify"
	EventCommand          = "command"
	EventButton           = "button"
	EventAttributeChanged = "attribute_changed"
)

// Event is a notification from the device.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// EventHandler is a callback for events. Handlers run on the goroutine that
// emits, normally the device run loop, and must not block.
type EventHandler func(Event)

// EventBus provides pub/sub for device events.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On registers a handler for a specific event type.
// Returns an unsubscribe function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[uint64]EventHandler)
	}
	eb.handlers[eventType][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// OnAll registers a handler that receives all events.
// Returns an unsubscribe function.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.allHandlers[id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.allHandlers, id)
	}
}

// Emit sends an event to all matching handlers.
// Handlers are called synchronously; a panicking handler is recovered.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, h := range eb.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.allHandlers {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}

func (eb *EventBus) emitState(ep *Endpoint) {
	eb.Emit(Event{Type: EventStateChanged, Data: map[string]interface{}{
		"endpoint": ep.ID,
		"on":       ep.OnOff,
		"level":    ep.CurrentLevel,
	}})
}

func (eb *EventBus) emitIdentify(ep *Endpoint) {
	data := map[string]interface{}{
		"endpoint": ep.ID,
		"active":   ep.Identifying(),
		"state":    ep.identify.String(),
		"time":     ep.IdentifyTime,
	}
	if ep.identify != IdentifyIdle {
		data["effect"] = ep.identifyFx.String()
	}
	eb.Emit(Event{Type: EventIdentify, Data: data})
}
