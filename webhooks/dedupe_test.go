package webhooks

import (
	"testing"
	"time"

	"github.com/goliatone/go-wxopen/core"
)

func TestDedupeController_CoalescesWithinWindow(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	controller := NewDedupeController(DedupeOptions{
		Window: 10 * time.Second,
		Now:    func() time.Time { return now },
	})
	if !controller.Allow("k") {
		t.Fatalf("expected first delivery to pass")
	}
	now = now.Add(5 * time.Second)
	if controller.Allow("k") {
		t.Fatalf("expected redelivery inside the window to be coalesced")
	}
	if !controller.Allow("other") {
		t.Fatalf("expected distinct key to pass")
	}
	now = now.Add(11 * time.Second)
	if !controller.Allow("k") {
		t.Fatalf("expected delivery after the window to pass")
	}
}

func TestDedupeController_NilAndBlankKeysPass(t *testing.T) {
	var controller *DedupeController
	if !controller.Allow("k") {
		t.Fatalf("expected nil controller to allow")
	}
	controller = NewDedupeController(DedupeOptions{})
	if !controller.Allow(" ") || !controller.Allow("") {
		t.Fatalf("expected blank keys to pass")
	}
}

func TestDedupeController_EvictsBeyondMaxEntries(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	controller := NewDedupeController(DedupeOptions{
		Window:     time.Second,
		MaxEntries: 2,
		Now:        func() time.Time { return now },
	})
	controller.Allow("a")
	controller.Allow("b")
	now = now.Add(2 * time.Second)
	controller.Allow("c")
	controller.mu.Lock()
	size := len(controller.entries)
	controller.mu.Unlock()
	if size > 2 {
		t.Fatalf("expected eviction down to 2 entries, got %d", size)
	}
}

func TestNotificationKey_IgnoresAppIDDifferences(t *testing.T) {
	a := core.Notification{InfoType: core.InfoTypeVerifyTicket, CreateTime: 1, ComponentVerifyTicket: "t", AppID: "x"}
	b := a
	b.AppID = "y"
	if NotificationKey("wxcomponent", a) != NotificationKey("wxcomponent", b) {
		t.Fatalf("expected matching keys")
	}
	b.ComponentVerifyTicket = "t2"
	if NotificationKey("wxcomponent", a) == NotificationKey("wxcomponent", b) {
		t.Fatalf("expected different tickets to produce different keys")
	}
}
