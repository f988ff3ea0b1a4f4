package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type EventType string

const (
	EventComponentVerifyTicket EventType = "component_verify_ticket"
	EventComponentAccessToken  EventType = "component_access_token"
	EventAuthorized            EventType = "authorized"
	EventUpdateAuthorized      EventType = "updateauthorized"
	EventUnauthorized          EventType = "unauthorized"
	EventAuthorizerToken       EventType = "authorizer_token"
	EventAuthorizerJSAPITicket EventType = "authorizer_jsapi_ticket"
	EventAuthorizersLoaded     EventType = "authorizers_loaded"
	EventError                 EventType = "error"
)

type Event interface {
	EventType() EventType
}

// AuthorizationEvent mirrors an inbound authorization notification after the
// component has applied it.
type AuthorizationEvent struct {
	Kind                       InfoType
	ComponentAppID             string
	AuthorizerAppID            string
	VerifyTicket               string
	AuthorizationCode          string
	AuthorizationCodeExpiresAt time.Time
	PreAuthCode                string
	CreateTime                 time.Time
}

func (e AuthorizationEvent) EventType() EventType { return EventType(e.Kind) }

type ComponentTokenEvent struct {
	ComponentAppID string
	AccessToken    string
	ExpiresAt      time.Time
}

func (ComponentTokenEvent) EventType() EventType { return EventComponentAccessToken }

type AuthorizerTokenEvent struct {
	ComponentAppID  string
	AuthorizerAppID string
	AccessToken     string
	RefreshToken    string
	ExpiresAt       time.Time
}

func (AuthorizerTokenEvent) EventType() EventType { return EventAuthorizerToken }

type AuthorizerTicketEvent struct {
	ComponentAppID  string
	AuthorizerAppID string
	Ticket          string
	ExpiresAt       time.Time
}

func (AuthorizerTicketEvent) EventType() EventType { return EventAuthorizerJSAPITicket }

type AuthorizersLoadedEvent struct {
	ComponentAppID   string
	AuthorizerAppIDs []string
	Total            int
}

func (AuthorizersLoadedEvent) EventType() EventType { return EventAuthorizersLoaded }

// ErrorEvent reports failures that have no caller to return to, such as a
// scheduled renewal or a webhook delivery.
type ErrorEvent struct {
	ComponentAppID  string
	AuthorizerAppID string
	Operation       string
	Err             error
}

func (ErrorEvent) EventType() EventType { return EventError }

func (e ErrorEvent) Error() string {
	if e.Err == nil {
		return e.Operation
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

type Handler func(ctx context.Context, event Event)

type subscription struct {
	id      uint64
	handler Handler
}

type pendingEvent struct {
	ctx   context.Context
	event Event
}

// EventBus delivers events to subscribers in publication order. A publish made
// while another delivery is running, from a handler or another goroutine, is
// queued and delivered by the goroutine already draining the queue.
type EventBus struct {
	logger Logger

	mu       sync.Mutex
	nextID   uint64
	byType   map[EventType][]subscription
	all      []subscription
	queue    []pendingEvent
	draining bool
}

func NewEventBus(logger Logger) *EventBus {
	return &EventBus{
		logger: logger,
		byType: map[EventType][]subscription{},
	}
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function.
func (b *EventBus) Subscribe(eventType EventType, handler Handler) func() {
	if b == nil || handler == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.byType[eventType] = append(b.byType[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.byType[eventType] = removeSubscription(b.byType[eventType], id)
			if len(b.byType[eventType]) == 0 {
				delete(b.byType, eventType)
			}
		})
	}
}

func (b *EventBus) SubscribeAll(handler Handler) func() {
	if b == nil || handler == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.all = removeSubscription(b.all, id)
		})
	}
}

// On subscribes to every event of concrete type T.
func On[T Event](bus *EventBus, fn func(ctx context.Context, event T)) func() {
	if fn == nil {
		return func() {}
	}
	return bus.SubscribeAll(func(ctx context.Context, event Event) {
		if typed, ok := event.(T); ok {
			fn(ctx, typed)
		}
	})
}

func (b *EventBus) Publish(ctx context.Context, event Event) {
	if b == nil || event == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	b.mu.Lock()
	b.queue = append(b.queue, pendingEvent{ctx: ctx, event: event})
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue[0] = pendingEvent{}
		b.queue = b.queue[1:]
		handlers := b.handlersLocked(next.event.EventType())
		b.mu.Unlock()

		for _, handler := range handlers {
			b.deliver(next.ctx, next.event, handler)
		}

		b.mu.Lock()
	}
	b.queue = nil
	b.draining = false
	b.mu.Unlock()
}

func (b *EventBus) handlersLocked(eventType EventType) []Handler {
	typed := b.byType[eventType]
	handlers := make([]Handler, 0, len(typed)+len(b.all))
	for _, sub := range typed {
		handlers = append(handlers, sub.handler)
	}
	for _, sub := range b.all {
		handlers = append(handlers, sub.handler)
	}
	return handlers
}

func (b *EventBus) deliver(ctx context.Context, event Event, handler Handler) {
	defer func() {
		if recovered := recover(); recovered != nil && b.logger != nil {
			b.logger.Error("event handler panicked",
				"event_type", string(event.EventType()),
				"panic", fmt.Sprint(recovered),
			)
		}
	}()
	handler(ctx, event)
}

func removeSubscription(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, sub := range subs {
		if sub.id != id {
			out = append(out, sub)
		}
	}
	return out
}
