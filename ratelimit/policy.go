package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-wxopen/core"
	"golang.org/x/time/rate"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// Platform errcodes that signal an exhausted call quota.
const (
	ErrCodeSystemBusy  = -1
	ErrCodeDailyQuota  = 45009
	ErrCodeMinuteQuota = 45011
)

type Key struct {
	ComponentAppID string
	Bucket         string
}

type State struct {
	Key            Key
	ThrottledUntil *time.Time
	Attempts       int
	LastErrCode    int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, key Key) (State, error)
	Upsert(ctx context.Context, state State) error
}

type ThrottledError struct {
	ComponentAppID string
	Bucket         string
	RetryAfter     time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: component %q bucket %q throttled for %s",
		strings.TrimSpace(e.ComponentAppID),
		strings.TrimSpace(e.Bucket),
		e.RetryAfter,
	)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"component_app_id": strings.TrimSpace(e.ComponentAppID),
		"bucket":           strings.TrimSpace(e.Bucket),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

// AdaptivePolicy paces outbound calls per component with a token bucket and
// backs off when the platform reports a quota errcode.
type AdaptivePolicy struct {
	Store          StateStore
	Now            func() time.Time
	RatePerSecond  float64
	Burst          int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewAdaptivePolicy(store StateStore, ratePerSecond float64, burst int) *AdaptivePolicy {
	if store == nil {
		store = NewMemoryStateStore()
	}
	return &AdaptivePolicy{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		RatePerSecond:  ratePerSecond,
		Burst:          burst,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		limiters:       map[string]*rate.Limiter{},
	}
}

// BeforeCall refuses calls inside a backoff window and otherwise waits for a
// token from the component bucket.
func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key Key) error {
	if p == nil {
		return nil
	}
	key = normalizeKey(key)
	if p.Store != nil {
		state, err := p.Store.Get(ctx, key)
		if err != nil && !errors.Is(err, ErrStateNotFound) {
			return err
		}
		now := p.now()
		if err == nil && state.ThrottledUntil != nil && now.Before(*state.ThrottledUntil) {
			return ThrottledError{
				ComponentAppID: key.ComponentAppID,
				Bucket:         key.Bucket,
				RetryAfter:     state.ThrottledUntil.Sub(now),
			}
		}
	}
	limiter := p.limiter(key)
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return ThrottledError{ComponentAppID: key.ComponentAppID, Bucket: key.Bucket}
	}
	return nil
}

// AfterCall records the outcome of a call. errCode is the platform errcode,
// zero on success.
func (p *AdaptivePolicy) AfterCall(ctx context.Context, key Key, errCode int) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	now := p.now()
	state, err := p.Store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	quota := isQuotaErrCode(errCode)
	if errors.Is(err, ErrStateNotFound) {
		if !quota {
			return nil
		}
		state = State{Key: key}
	}
	state.LastErrCode = errCode
	state.UpdatedAt = now

	if quota {
		state.Attempts++
		until := now.Add(p.nextBackoff(state.Attempts))
		state.ThrottledUntil = &until
		return p.Store.Upsert(ctx, state)
	}

	state.Attempts = 0
	state.ThrottledUntil = nil
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) limiter(key Key) *rate.Limiter {
	if p.RatePerSecond <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.limiters == nil {
		p.limiters = map[string]*rate.Limiter{}
	}
	id := key.ComponentAppID
	limiter, ok := p.limiters[id]
	if !ok {
		burst := p.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(p.RatePerSecond), burst)
		p.limiters[id] = limiter
	}
	return limiter
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *AdaptivePolicy) nextBackoff(attempt int) time.Duration {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.MaxBackoff
	if maximum <= 0 {
		maximum = time.Minute
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	return delay
}

func isQuotaErrCode(code int) bool {
	switch code {
	case ErrCodeSystemBusy, ErrCodeDailyQuota, ErrCodeMinuteQuota:
		return true
	default:
		return false
	}
}

func normalizeKey(key Key) Key {
	bucket := strings.TrimSpace(strings.ToLower(key.Bucket))
	if bucket == "" {
		bucket = "api"
	}
	return Key{
		ComponentAppID: strings.TrimSpace(key.ComponentAppID),
		Bucket:         bucket,
	}
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key Key) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[stateKey(normalizeKey(key))]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Key = normalizeKey(state.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[stateKey(state.Key)] = state
	return nil
}

func stateKey(key Key) string {
	return key.ComponentAppID + "|" + key.Bucket
}
