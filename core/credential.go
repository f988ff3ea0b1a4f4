package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultRenewalMargin = 600 * time.Second
	DefaultRetryDelay    = 600 * time.Second
)

// Grant is a freshly issued credential value and its lifetime.
type Grant struct {
	Value     string
	ExpiresIn time.Duration
}

// CredentialSnapshot is the state of a credential after a successful renewal.
type CredentialSnapshot struct {
	Name      string
	Value     string
	ExpiresAt time.Time
	RenewAt   time.Time
}

type FetchFunc func(ctx context.Context) (Grant, error)

// Timer is the handle returned by a Scheduler. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type SystemScheduler struct{}

func (SystemScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

type CredentialOption func(*RefreshableCredential)

func WithCredentialScheduler(scheduler Scheduler) CredentialOption {
	return func(c *RefreshableCredential) {
		if scheduler != nil {
			c.scheduler = scheduler
		}
	}
}

func WithCredentialClock(now func() time.Time) CredentialOption {
	return func(c *RefreshableCredential) {
		if now != nil {
			c.now = now
		}
	}
}

func WithRenewalMargin(margin time.Duration) CredentialOption {
	return func(c *RefreshableCredential) {
		if margin > 0 {
			c.margin = margin
		}
	}
}

func WithRetryDelay(delay time.Duration) CredentialOption {
	return func(c *RefreshableCredential) {
		if delay > 0 {
			c.retryDelay = delay
		}
	}
}

func OnRenewed(fn func(ctx context.Context, snapshot CredentialSnapshot)) CredentialOption {
	return func(c *RefreshableCredential) {
		c.onRenewed = fn
	}
}

func OnRenewFailed(fn func(ctx context.Context, err error)) CredentialOption {
	return func(c *RefreshableCredential) {
		c.onFailure = fn
	}
}

// RefreshableCredential holds a short-lived secret and renews it ahead of
// expiry. Concurrent callers share one in-flight fetch and at most one renewal
// timer is pending at any time.
type RefreshableCredential struct {
	name       string
	fetch      FetchFunc
	margin     time.Duration
	retryDelay time.Duration
	scheduler  Scheduler
	now        func() time.Time
	onRenewed  func(context.Context, CredentialSnapshot)
	onFailure  func(context.Context, error)

	group singleflight.Group

	mu        sync.Mutex
	value     string
	expiresAt time.Time
	renewAt   time.Time
	timer     Timer
	timerSeq  uint64
	stopped   bool
}

func NewRefreshableCredential(name string, fetch FetchFunc, opts ...CredentialOption) *RefreshableCredential {
	c := &RefreshableCredential{
		name:       strings.TrimSpace(name),
		fetch:      fetch,
		margin:     DefaultRenewalMargin,
		retryDelay: DefaultRetryDelay,
		scheduler:  SystemScheduler{},
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *RefreshableCredential) Name() string {
	return c.name
}

// Current returns the held value without triggering a fetch.
func (c *RefreshableCredential) Current() (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.expiresAt
}

func (c *RefreshableCredential) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// EnsureFresh returns the held value while it is outside the renewal margin,
// otherwise it waits for a renewal shared with every other caller.
func (c *RefreshableCredential) EnsureFresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return "", credentialStoppedError(c.name)
	}
	if c.freshLocked() {
		value := c.value
		c.mu.Unlock()
		return value, nil
	}
	c.mu.Unlock()
	return c.join(ctx, false)
}

// Refresh forces a renewal, joining one already in flight.
func (c *RefreshableCredential) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return "", credentialStoppedError(c.name)
	}
	return c.join(ctx, true)
}

// Seed installs a value restored from storage and schedules its renewal.
func (c *RefreshableCredential) Seed(value string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || strings.TrimSpace(value) == "" {
		return
	}
	now := c.now()
	c.value = value
	c.expiresAt = expiresAt
	c.renewAt = now.Add(c.renewalDelay(expiresAt.Sub(now)))
	c.scheduleLocked(c.renewAt.Sub(now))
}

// Cancel clears the pending timer and discards any fetch still in flight.
// It is idempotent.
func (c *RefreshableCredential) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.clearTimerLocked()
}

func (c *RefreshableCredential) join(ctx context.Context, force bool) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(c.name, func() (any, error) {
		return c.renew(fetchCtx, force)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		value, _ := res.Val.(string)
		return value, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *RefreshableCredential) renew(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return "", credentialStoppedError(c.name)
	}
	// a caller that missed the previous flight may find the value already renewed
	if !force && c.freshLocked() {
		value := c.value
		c.mu.Unlock()
		return value, nil
	}
	c.mu.Unlock()

	if c.fetch == nil {
		return "", ConfigurationError("core: credential "+c.name+" has no fetch function", nil)
	}
	grant, err := c.fetch(ctx)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return "", credentialStoppedError(c.name)
	}
	if err == nil && strings.TrimSpace(grant.Value) == "" {
		err = badInputError("core: credential "+c.name+" fetch returned an empty value", map[string]any{"credential": c.name})
	}
	if err != nil {
		c.scheduleLocked(c.retryDelay)
		c.mu.Unlock()
		if c.onFailure != nil {
			c.onFailure(ctx, err)
		}
		return "", err
	}

	now := c.now()
	delay := c.renewalDelay(grant.ExpiresIn)
	c.value = grant.Value
	c.expiresAt = now.Add(grant.ExpiresIn)
	c.renewAt = now.Add(delay)
	c.scheduleLocked(delay)
	snapshot := CredentialSnapshot{
		Name:      c.name,
		Value:     c.value,
		ExpiresAt: c.expiresAt,
		RenewAt:   c.renewAt,
	}
	c.mu.Unlock()

	if c.onRenewed != nil {
		c.onRenewed(ctx, snapshot)
	}
	return grant.Value, nil
}

func (c *RefreshableCredential) freshLocked() bool {
	if c.value == "" {
		return false
	}
	return c.now().Before(c.renewAt)
}

// renewalDelay is lifetime minus the margin. Lifetimes shorter than the margin
// renew at their midpoint so a short-lived value does not refetch in a loop.
func (c *RefreshableCredential) renewalDelay(lifetime time.Duration) time.Duration {
	if lifetime <= 0 {
		return c.retryDelay
	}
	if lifetime > c.margin {
		return lifetime - c.margin
	}
	return lifetime / 2
}

func (c *RefreshableCredential) scheduleLocked(delay time.Duration) {
	c.clearTimerLocked()
	if delay < 0 {
		delay = 0
	}
	c.timerSeq++
	seq := c.timerSeq
	c.timer = c.scheduler.AfterFunc(delay, func() {
		c.mu.Lock()
		current := !c.stopped && c.timerSeq == seq
		if current {
			c.timer = nil
		}
		c.mu.Unlock()
		if !current {
			return
		}
		_, _ = c.Refresh(context.Background())
	})
}

func (c *RefreshableCredential) clearTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
}
