package core

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type memoryCredentialStore struct {
	mu          sync.Mutex
	tickets     map[string]string
	tokens      map[string]string
	authorizers map[string]StoredAuthorizer
	deleted     []string
}

func newMemoryCredentialStore() *memoryCredentialStore {
	return &memoryCredentialStore{
		tickets:     map[string]string{},
		tokens:      map[string]string{},
		authorizers: map[string]StoredAuthorizer{},
	}
}

func (m *memoryCredentialStore) SaveVerifyTicket(_ context.Context, componentAppID, ticket string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[componentAppID] = ticket
	return nil
}

func (m *memoryCredentialStore) SaveComponentToken(_ context.Context, componentAppID, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[componentAppID] = token
	return nil
}

func (m *memoryCredentialStore) SaveAuthorizer(_ context.Context, record StoredAuthorizer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorizers[record.ComponentAppID+"/"+record.AuthorizerAppID] = record
	return nil
}

func (m *memoryCredentialStore) DeleteAuthorizer(_ context.Context, componentAppID, authorizerAppID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.authorizers, componentAppID+"/"+authorizerAppID)
	m.deleted = append(m.deleted, authorizerAppID)
	return nil
}

func (m *memoryCredentialStore) LoadComponent(_ context.Context, componentAppID string) (StoredComponent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ticket, ok := m.tickets[componentAppID]
	if !ok {
		return StoredComponent{}, false, nil
	}
	return StoredComponent{ComponentAppID: componentAppID, VerifyTicket: ticket}, true, nil
}

func (m *memoryCredentialStore) ListAuthorizers(_ context.Context, componentAppID string) ([]StoredAuthorizer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []StoredAuthorizer{}
	for _, record := range m.authorizers {
		if record.ComponentAppID == componentAppID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (m *memoryCredentialStore) authorizer(key string) (StoredAuthorizer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.authorizers[key]
	return record, ok
}

func newTestService(t *testing.T, client PlatformClient, opts ...Option) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Authorizers.SkipBootstrap = true
	cfg.Components = []ComponentConfig{testComponentConfig()}
	base := []Option{WithPlatformClient(client), WithScheduler(&fakeScheduler{})}
	svc, err := NewService(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc
}

func TestNewService_RequiresPlatformClient(t *testing.T) {
	_, err := NewService(DefaultConfig())
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != ErrorConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewService_ResolvesConfigLayers(t *testing.T) {
	loader := StaticRawConfigLoader{Values: map[string]any{
		"service_name": "loaded",
		"renewal":      map[string]any{"margin_seconds": 300},
	}}
	runtime := Config{API: APIConfig{Burst: 42}}
	svc, err := NewService(runtime,
		WithPlatformClient(&stubPlatformClient{}),
		WithConfigProvider(NewCfgxConfigProvider(loader)),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	cfg := svc.Config()
	if cfg.ServiceName != "loaded" {
		t.Fatalf("expected loaded service name, got %q", cfg.ServiceName)
	}
	if cfg.Renewal.MarginSeconds != 300 || cfg.Renewal.RetryDelaySeconds != 600 {
		t.Fatalf("unexpected renewal config %+v", cfg.Renewal)
	}
	if cfg.API.Burst != 42 || cfg.API.BaseURL != "https://api.weixin.qq.com" {
		t.Fatalf("unexpected api config %+v", cfg.API)
	}
}

func TestNewService_RejectsDuplicateComponents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Components = []ComponentConfig{testComponentConfig(), testComponentConfig()}
	if _, err := NewService(cfg, WithPlatformClient(&stubPlatformClient{})); err == nil {
		t.Fatalf("expected duplicate component error")
	}
}

func TestService_UnknownTenant(t *testing.T) {
	svc := newTestService(t, &stubPlatformClient{})
	err := svc.HandleNotification(context.Background(), "wxmissing", Notification{InfoType: InfoTypeVerifyTicket})
	if !IsUnknownTenant(err) {
		t.Fatalf("expected unknown tenant, got %v", err)
	}
	mapped := svc.MapError(err)
	if mapped.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", mapped.Code)
	}
	if _, err := svc.Authorizer("wxcomponent", "wxmissing"); !IsUnknownAuthorizer(err) {
		t.Fatalf("expected unknown authorizer, got %v", err)
	}
}

func TestService_PersistsAndRestoresCredentials(t *testing.T) {
	store := newMemoryCredentialStore()
	client := &stubPlatformClient{}
	svc := newTestService(t, client, WithCredentialStore(store))
	tokens := collect[AuthorizerTokenEvent](svc.Bus())
	componentTokens := collect[ComponentTokenEvent](svc.Bus())

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.HandleNotification(context.Background(), "wxcomponent", Notification{
		InfoType:              InfoTypeVerifyTicket,
		ComponentVerifyTicket: "ticket-1",
	}); err != nil {
		t.Fatalf("verify ticket: %v", err)
	}
	waitFor(t, componentTokens, "component token")
	if err := svc.HandleNotification(context.Background(), "wxcomponent", Notification{
		InfoType:          InfoTypeAuthorized,
		AuthorizerAppID:   "wxauth",
		AuthorizationCode: "code-1",
	}); err != nil {
		t.Fatalf("authorized: %v", err)
	}
	waitFor(t, tokens, "authorizer token")

	record, ok := store.authorizer("wxcomponent/wxauth")
	if !ok || record.RefreshToken != "refresh-token-1" {
		t.Fatalf("expected stored refresh token, got %+v %v", record, ok)
	}
	store.mu.Lock()
	if store.tickets["wxcomponent"] != "ticket-1" || store.tokens["wxcomponent"] != "component-token-1" {
		t.Fatalf("unexpected stored component state %v %v", store.tickets, store.tokens)
	}
	store.mu.Unlock()

	restartedClient := &stubPlatformClient{}
	restarted := newTestService(t, restartedClient, WithCredentialStore(store))
	restoredTokens := collect[AuthorizerTokenEvent](restarted.Bus())
	if err := restarted.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	event := waitFor(t, restoredTokens, "restored authorizer token")
	if event.AuthorizerAppID != "wxauth" {
		t.Fatalf("unexpected restored event %+v", event)
	}
	restartedClient.mu.Lock()
	if restartedClient.lastVerifyTicket != "ticket-1" || restartedClient.lastRefreshToken != "refresh-token-1" {
		t.Fatalf("expected restore to reuse ticket and refresh token, got %q %q",
			restartedClient.lastVerifyTicket, restartedClient.lastRefreshToken)
	}
	restartedClient.mu.Unlock()

	if err := restarted.HandleNotification(context.Background(), "wxcomponent", Notification{
		InfoType:        InfoTypeUnauthorized,
		AuthorizerAppID: "wxauth",
	}); err != nil {
		t.Fatalf("unauthorized: %v", err)
	}
	eventually(t, "stored authorizer deletion", func() bool {
		_, ok := store.authorizer("wxcomponent/wxauth")
		return !ok
	})
}

type failingStore struct {
	*memoryCredentialStore
}

func (failingStore) SaveVerifyTicket(context.Context, string, string, time.Time) error {
	return errors.New("disk full")
}

func TestAttachCredentialStore_PublishesStoreFailures(t *testing.T) {
	bus := NewEventBus(nil)
	errs := collect[ErrorEvent](bus)
	detach := AttachCredentialStore(bus, failingStore{newMemoryCredentialStore()}, nil)

	bus.Publish(context.Background(), AuthorizationEvent{Kind: InfoTypeVerifyTicket, ComponentAppID: "wxcomponent", VerifyTicket: "t"})
	event := waitFor(t, errs, "store failure")
	if event.Operation != "store_save_verify_ticket" || event.ComponentAppID != "wxcomponent" {
		t.Fatalf("unexpected error event %+v", event)
	}

	detach()
	bus.Publish(context.Background(), AuthorizationEvent{Kind: InfoTypeVerifyTicket, ComponentAppID: "wxcomponent", VerifyTicket: "t"})
	select {
	case extra := <-errs:
		t.Fatalf("expected detached store to stay quiet, got %+v", extra)
	default:
	}
}

func TestServiceErrorMapper_NormalizesPlainErrors(t *testing.T) {
	mapped := serviceErrorMapper(errors.New("component app_id is required"))
	if mapped.TextCode != ErrorBadInput || mapped.Code != http.StatusBadRequest {
		t.Fatalf("unexpected mapping %+v", mapped)
	}
	mapped = serviceErrorMapper(NetworkError(errors.New("dial tcp: timeout"), "api_component_token"))
	if mapped.TextCode != ErrorNetwork || mapped.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected network mapping %+v", mapped)
	}
}

func TestService_StatusAndForcedRefresh(t *testing.T) {
	client := &stubPlatformClient{}
	svc := newTestService(t, client)
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	status, err := svc.ComponentStatus("wxcomponent")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != ComponentAwaitingVerifyTicket || status.HasTicket {
		t.Fatalf("unexpected initial status %+v", status)
	}
	if _, err := svc.RefreshComponentAccessToken(ctx, "wxcomponent"); !IsConfigurationError(err) {
		t.Fatalf("expected refresh without ticket to fail, got %v", err)
	}

	if err := svc.HandleNotification(ctx, "wxcomponent", Notification{
		InfoType:              InfoTypeVerifyTicket,
		ComponentVerifyTicket: "ticket-1",
	}); err != nil {
		t.Fatalf("handle ticket: %v", err)
	}
	first, err := svc.ComponentAccessToken(ctx, "wxcomponent")
	if err != nil {
		t.Fatalf("component token: %v", err)
	}
	forced, err := svc.RefreshComponentAccessToken(ctx, "wxcomponent")
	if err != nil {
		t.Fatalf("forced refresh: %v", err)
	}
	if forced == first {
		t.Fatalf("expected a new component token after forced refresh, got %q twice", forced)
	}

	if _, err := svc.AddAuthorizer(ctx, "wxcomponent", AuthorizerSpec{AppID: "wxauth", RefreshToken: "refresh-0"}); err != nil {
		t.Fatalf("add authorizer: %v", err)
	}
	if _, err := svc.RefreshAuthorizerAccessToken(ctx, "wxcomponent", "wxauth"); err != nil {
		t.Fatalf("refresh authorizer: %v", err)
	}
	statuses := svc.ComponentStatuses()
	if len(statuses) != 1 || statuses[0].State != ComponentActive || !statuses[0].HasTicket {
		t.Fatalf("unexpected statuses %+v", statuses)
	}
	if len(statuses[0].Authorizers) != 1 || statuses[0].Authorizers[0].AppID != "wxauth" {
		t.Fatalf("unexpected authorizer statuses %+v", statuses[0].Authorizers)
	}
	if _, err := svc.ComponentStatus("wxmissing"); !IsUnknownTenant(err) {
		t.Fatalf("expected unknown tenant, got %v", err)
	}
}
