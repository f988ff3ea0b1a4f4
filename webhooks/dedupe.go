package webhooks

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-wxopen/core"
)

type DedupeOptions struct {
	Window     time.Duration
	MaxEntries int
	Now        func() time.Time
}

// DedupeController coalesces redelivered notifications seen within a window.
type DedupeController struct {
	window     time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewDedupeController(opts DedupeOptions) *DedupeController {
	window := opts.Window
	if window <= 0 {
		window = 15 * time.Second
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &DedupeController{
		window:     window,
		maxEntries: maxEntries,
		now:        now,
		entries:    map[string]time.Time{},
	}
}

// Allow reports whether key is new within the window and records it.
func (c *DedupeController) Allow(key string) bool {
	if c == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}

	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()

	lastSeen, exists := c.entries[key]
	if exists && now.Sub(lastSeen) < c.window {
		return false
	}
	c.entries[key] = now
	c.cleanup(now)
	return true
}

func (c *DedupeController) cleanup(now time.Time) {
	if len(c.entries) <= c.maxEntries {
		for key, seenAt := range c.entries {
			if now.Sub(seenAt) > c.window*4 {
				delete(c.entries, key)
			}
		}
		return
	}
	for key, seenAt := range c.entries {
		if now.Sub(seenAt) > c.window {
			delete(c.entries, key)
		}
		if len(c.entries) <= c.maxEntries {
			break
		}
	}
}

// NotificationKey identifies a delivery independently of its ciphertext, which
// carries a random prefix.
func NotificationKey(componentAppID string, n core.Notification) string {
	parts := []string{
		strings.TrimSpace(componentAppID),
		string(n.InfoType),
		strconv.FormatInt(n.CreateTime, 10),
		n.AuthorizerAppID,
		n.ComponentVerifyTicket,
		n.AuthorizationCode,
	}
	return strings.Join(parts, "|")
}
