package core

import (
	"context"
	"reflect"
	"testing"
)

func TestEventBus_DeliversInPublicationOrderWhenReentrant(t *testing.T) {
	bus := NewEventBus(nil)
	var seen []string
	bus.Subscribe(EventComponentAccessToken, func(ctx context.Context, event Event) {
		seen = append(seen, "token:"+event.(ComponentTokenEvent).AccessToken)
		if event.(ComponentTokenEvent).AccessToken == "a" {
			bus.Publish(ctx, ErrorEvent{Operation: "nested"})
			bus.Publish(ctx, ComponentTokenEvent{AccessToken: "b"})
		}
	})
	bus.Subscribe(EventComponentAccessToken, func(_ context.Context, event Event) {
		seen = append(seen, "second:"+event.(ComponentTokenEvent).AccessToken)
	})
	bus.Subscribe(EventError, func(_ context.Context, event Event) {
		seen = append(seen, "error:"+event.(ErrorEvent).Operation)
	})

	bus.Publish(context.Background(), ComponentTokenEvent{AccessToken: "a"})

	expected := []string{"token:a", "second:a", "error:nested", "token:b", "second:b"}
	if !reflect.DeepEqual(seen, expected) {
		t.Fatalf("expected %v, got %v", expected, seen)
	}
}

func TestEventBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewEventBus(nil)
	count := 0
	unsubscribe := bus.Subscribe(EventAuthorizerToken, func(context.Context, Event) { count++ })

	bus.Publish(context.Background(), AuthorizerTokenEvent{})
	unsubscribe()
	unsubscribe()
	bus.Publish(context.Background(), AuthorizerTokenEvent{})

	if count != 1 {
		t.Fatalf("expected one delivery, got %d", count)
	}
}

func TestOn_FiltersByConcreteType(t *testing.T) {
	bus := NewEventBus(nil)
	var kinds []InfoType
	On(bus, func(_ context.Context, event AuthorizationEvent) {
		kinds = append(kinds, event.Kind)
	})

	bus.Publish(context.Background(), AuthorizationEvent{Kind: InfoTypeAuthorized})
	bus.Publish(context.Background(), ComponentTokenEvent{})
	bus.Publish(context.Background(), AuthorizationEvent{Kind: InfoTypeUnauthorized})

	if !reflect.DeepEqual(kinds, []InfoType{InfoTypeAuthorized, InfoTypeUnauthorized}) {
		t.Fatalf("unexpected kinds %v", kinds)
	}
}

func TestEventBus_RecoversHandlerPanic(t *testing.T) {
	bus := NewEventBus(nil)
	delivered := false
	bus.SubscribeAll(func(context.Context, Event) { panic("handler failure") })
	bus.SubscribeAll(func(context.Context, Event) { delivered = true })

	bus.Publish(context.Background(), ErrorEvent{Operation: "x"})

	if !delivered {
		t.Fatalf("expected delivery to continue after a panicking handler")
	}
}

func TestAuthorizationEvent_TypeFollowsKind(t *testing.T) {
	cases := map[InfoType]EventType{
		InfoTypeVerifyTicket:     EventComponentVerifyTicket,
		InfoTypeAuthorized:       EventAuthorized,
		InfoTypeUpdateAuthorized: EventUpdateAuthorized,
		InfoTypeUnauthorized:     EventUnauthorized,
	}
	for kind, expected := range cases {
		if got := (AuthorizationEvent{Kind: kind}).EventType(); got != expected {
			t.Fatalf("kind %s: expected %s, got %s", kind, expected, got)
		}
	}
}
