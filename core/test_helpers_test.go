package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeTimer struct {
	scheduler *fakeScheduler
	delay     time.Duration
	fn        func()
	stopped   bool
	fired     bool
}

func (t *fakeTimer) Stop() bool {
	t.scheduler.mu.Lock()
	defer t.scheduler.mu.Unlock()
	pending := !t.stopped && !t.fired
	t.stopped = true
	return pending
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer := &fakeTimer{scheduler: s, delay: d, fn: fn}
	s.timers = append(s.timers, timer)
	return timer
}

func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*fakeTimer{}
	for _, timer := range s.timers {
		if !timer.stopped && !timer.fired {
			out = append(out, timer)
		}
	}
	return out
}

// fireNext runs the oldest pending timer on the calling goroutine.
func (s *fakeScheduler) fireNext(t *testing.T) {
	t.Helper()
	pending := s.pending()
	if len(pending) == 0 {
		t.Fatalf("expected a pending timer")
	}
	timer := pending[0]
	s.mu.Lock()
	timer.fired = true
	s.mu.Unlock()
	timer.fn()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubPlatformClient struct {
	mu sync.Mutex

	componentTokenCalls int
	queryAuthCalls      int
	refreshCalls        int
	ticketCalls         int
	listCalls           int
	preAuthCalls        int

	lastVerifyTicket string
	lastCode         string
	lastRefreshToken string

	componentTokenErr error
	queryAuthErr      error
	ticketErr         error
	authorizerPage    AuthorizerPage

	// refreshGate, when set, blocks authorizer token refreshes until closed
	refreshGate chan struct{}
	// refreshEntered receives once per refresh that reached the gate
	refreshEntered chan struct{}
}

func (s *stubPlatformClient) ComponentAccessToken(_ context.Context, req ComponentTokenRequest) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.componentTokenCalls++
	s.lastVerifyTicket = req.ComponentVerifyTicket
	if s.componentTokenErr != nil {
		return Grant{}, s.componentTokenErr
	}
	return Grant{Value: fmt.Sprintf("component-token-%d", s.componentTokenCalls), ExpiresIn: 7200 * time.Second}, nil
}

func (s *stubPlatformClient) PreAuthCode(context.Context, string, string) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preAuthCalls++
	return Grant{Value: "preauth-code", ExpiresIn: 1800 * time.Second}, nil
}

func (s *stubPlatformClient) QueryAuth(_ context.Context, _ string, _ string, code string) (AuthorizerGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryAuthCalls++
	s.lastCode = code
	if s.queryAuthErr != nil {
		return AuthorizerGrant{}, s.queryAuthErr
	}
	return AuthorizerGrant{
		AccessToken:  "authorizer-token-from-code",
		RefreshToken: "refresh-token-1",
		ExpiresIn:    7200 * time.Second,
	}, nil
}

func (s *stubPlatformClient) RefreshAuthorizerToken(_ context.Context, _, _, _ string, refreshToken string) (AuthorizerGrant, error) {
	s.mu.Lock()
	gate, entered := s.refreshGate, s.refreshEntered
	s.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshCalls++
	s.lastRefreshToken = refreshToken
	return AuthorizerGrant{
		AccessToken:  fmt.Sprintf("authorizer-token-refreshed-%d", s.refreshCalls),
		RefreshToken: fmt.Sprintf("refresh-token-%d", s.refreshCalls+1),
		ExpiresIn:    7200 * time.Second,
	}, nil
}

func (s *stubPlatformClient) JSAPITicket(context.Context, string) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticketCalls++
	if s.ticketErr != nil {
		return Grant{}, s.ticketErr
	}
	return Grant{Value: "jsapi-ticket", ExpiresIn: 7200 * time.Second}, nil
}

func (s *stubPlatformClient) ListAuthorizers(context.Context, string, string, int, int) (AuthorizerPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	return s.authorizerPage, nil
}

func (s *stubPlatformClient) AuthorizerInfo(_ context.Context, _, _ string, authorizerAppID string) (AuthorizerInfo, error) {
	return AuthorizerInfo{AuthorizerAppID: authorizerAppID, NickName: "stub"}, nil
}

func (s *stubPlatformClient) AuthorizerOption(_ context.Context, _, _, authorizerAppID, optionName string) (AuthorizerOption, error) {
	return AuthorizerOption{AuthorizerAppID: authorizerAppID, OptionName: optionName, OptionValue: "1"}, nil
}

func (s *stubPlatformClient) SetAuthorizerOption(context.Context, string, string, AuthorizerOption) error {
	return nil
}

func (s *stubPlatformClient) OAuthAccessToken(_ context.Context, _, _, _ string, code string) (OAuthToken, error) {
	return OAuthToken{AccessToken: "oauth-" + code, OpenID: "openid-1"}, nil
}

func (s *stubPlatformClient) UserInfo(_ context.Context, _ string, openID string) (UserInfo, error) {
	return UserInfo{OpenID: openID}, nil
}

func (s *stubPlatformClient) CreateOpenAccount(context.Context, string, string) (string, error) {
	return "wxopen-account", nil
}

func (s *stubPlatformClient) BindOpenAccount(context.Context, string, string, string) error {
	return nil
}

func (s *stubPlatformClient) UnbindOpenAccount(context.Context, string, string, string) error {
	return nil
}

func (s *stubPlatformClient) OpenAccount(context.Context, string, string) (string, error) {
	return "wxopen-account", nil
}

func (s *stubPlatformClient) counts() (component, queryAuth, refresh, ticket, list int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.componentTokenCalls, s.queryAuthCalls, s.refreshCalls, s.ticketCalls, s.listCalls
}

func testComponentConfig() ComponentConfig {
	return ComponentConfig{AppID: "wxcomponent", AppSecret: "secret"}
}

func newTestComponent(t *testing.T, client PlatformClient, opts ...AgentOption) (*ComponentAgent, *fakeScheduler) {
	t.Helper()
	scheduler := &fakeScheduler{}
	base := []AgentOption{WithAgentScheduler(scheduler)}
	agent, err := NewComponentAgent(testComponentConfig(), client, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new component agent: %v", err)
	}
	t.Cleanup(agent.Stop)
	return agent, scheduler
}

// collect forwards every event of type T into a buffered channel.
func collect[T Event](bus *EventBus) <-chan T {
	ch := make(chan T, 32)
	On(bus, func(_ context.Context, event T) {
		ch <- event
	})
	return ch
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case value := <-ch:
		return value
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
