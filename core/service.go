package core

import (
	"context"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service wires the component registry to its collaborators and exposes the
// operations applications call.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	telemetry       *telemetry
	errorMapper     ErrorMapper
	client          PlatformClient
	crypterFactory  CrypterFactory
	credentialStore CredentialStore
	scheduler       Scheduler
	clock           func() time.Time
	registry        *ComponentRegistry
	detachStore     func()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("wxopen", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("wxopen"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.scheduler == nil {
		builder.scheduler = SystemScheduler{}
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	if builder.platformClient == nil {
		return nil, mapBuildError(builder.errorMapper, ConfigurationError("core: platform client is required", nil))
	}

	bus := builder.bus
	if bus == nil {
		bus = NewEventBus(logger)
	}
	svc := &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		telemetry:       newTelemetry(logger, builder.metricsRecorder),
		errorMapper:     builder.errorMapper,
		client:          builder.platformClient,
		crypterFactory:  builder.crypterFactory,
		credentialStore: builder.credentialStore,
		scheduler:       builder.scheduler,
		clock:           builder.clock,
		registry:        NewComponentRegistry(bus),
		detachStore:     func() {},
	}
	if svc.credentialStore != nil {
		svc.detachStore = AttachCredentialStore(bus, svc.credentialStore, logger)
	}
	for _, component := range finalConfig.Components {
		if _, err := svc.RegisterComponent(component); err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
	}
	return svc, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}

func (s *Service) Config() Config {
	return s.config
}

func (s *Service) Logger() Logger {
	return s.logger
}

func (s *Service) Registry() *ComponentRegistry {
	return s.registry
}

func (s *Service) Bus() *EventBus {
	return s.registry.Bus()
}

func (s *Service) MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return s.errorMapper(err)
}

// RegisterComponent adds a component agent without starting it.
func (s *Service) RegisterComponent(cfg ComponentConfig) (*ComponentAgent, error) {
	opts := []AgentOption{
		WithAgentLogger(s.logger),
		WithAgentMetrics(s.telemetry.metrics),
		WithAgentScheduler(s.scheduler),
		WithAgentClock(s.clock),
		WithAgentRenewal(s.config.Renewal.Margin(), s.config.Renewal.RetryDelay()),
		WithAuthorizerBootstrap(!s.config.Authorizers.SkipBootstrap, s.config.Authorizers.PageSize),
	}
	if s.crypterFactory != nil && strings.TrimSpace(cfg.EncodingAESKey) != "" {
		crypter, err := s.crypterFactory(cfg)
		if err != nil {
			return nil, ConfigurationError("core: build message crypter: "+err.Error(),
				map[string]any{"component_app_id": cfg.AppID})
		}
		opts = append(opts, WithAgentCrypter(crypter))
	}
	agent, err := NewComponentAgent(cfg, s.client, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Register(agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// Start restores stored credentials and starts every registered component.
func (s *Service) Start(ctx context.Context) error {
	startedAt := time.Now()
	var errs []error
	for _, agent := range s.registry.List() {
		stored := s.restoreComponent(ctx, agent)
		if err := agent.Start(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		s.restoreAuthorizers(ctx, agent, stored)
	}
	err := errors.Join(errs...)
	s.telemetry.observeOperation(ctx, startedAt, "start", err, map[string]any{
		"components": len(s.registry.List()),
	})
	return err
}

func (s *Service) Stop() {
	s.registry.StopAll()
	s.detachStore()
}

func (s *Service) restoreComponent(ctx context.Context, agent *ComponentAgent) bool {
	if s.credentialStore == nil {
		return false
	}
	stored, ok, err := s.credentialStore.LoadComponent(ctx, agent.AppID())
	if err != nil {
		s.telemetry.logError(ctx, "restore component failed", agent.fields(map[string]any{"error": err.Error()}))
		return false
	}
	if ok {
		agent.Restore(stored)
	}
	return ok
}

func (s *Service) restoreAuthorizers(ctx context.Context, agent *ComponentAgent, hasComponent bool) {
	if s.credentialStore == nil || !hasComponent {
		return
	}
	records, err := s.credentialStore.ListAuthorizers(ctx, agent.AppID())
	if err != nil {
		s.telemetry.logError(ctx, "restore authorizers failed", agent.fields(map[string]any{"error": err.Error()}))
		return
	}
	for _, record := range records {
		if record.RefreshToken == "" {
			continue
		}
		_, err := agent.AddAuthorizer(ctx, AuthorizerSpec{
			AppID:        record.AuthorizerAppID,
			RefreshToken: record.RefreshToken,
		})
		if err != nil && !IsDuplicateAuthorizer(err) {
			s.telemetry.logError(ctx, "restore authorizer failed", agent.fields(map[string]any{
				"authorizer_app_id": record.AuthorizerAppID,
				"error":             err.Error(),
			}))
		}
	}
}

func (s *Service) Component(componentAppID string) (*ComponentAgent, error) {
	return s.registry.Get(componentAppID)
}

func (s *Service) Authorizer(componentAppID, authorizerAppID string) (*AuthorizerAgent, error) {
	agent, err := s.Component(componentAppID)
	if err != nil {
		return nil, err
	}
	return agent.MustAuthorizer(authorizerAppID)
}

func (s *Service) HandleNotification(ctx context.Context, componentAppID string, n Notification) error {
	agent, err := s.Component(componentAppID)
	if err != nil {
		return err
	}
	return agent.HandleNotification(ctx, n)
}

func (s *Service) AddAuthorizer(ctx context.Context, componentAppID string, spec AuthorizerSpec) (*AuthorizerAgent, error) {
	agent, err := s.Component(componentAppID)
	if err != nil {
		return nil, err
	}
	return agent.AddAuthorizer(ctx, spec)
}

func (s *Service) RemoveAuthorizer(ctx context.Context, componentAppID, authorizerAppID string) (bool, error) {
	agent, err := s.Component(componentAppID)
	if err != nil {
		return false, err
	}
	return agent.RemoveAuthorizer(ctx, authorizerAppID), nil
}

func (s *Service) ComponentAccessToken(ctx context.Context, componentAppID string) (string, error) {
	agent, err := s.Component(componentAppID)
	if err != nil {
		return "", err
	}
	return agent.AccessToken(ctx)
}

func (s *Service) AuthorizerAccessToken(ctx context.Context, componentAppID, authorizerAppID string) (string, error) {
	agent, err := s.Authorizer(componentAppID, authorizerAppID)
	if err != nil {
		return "", err
	}
	return agent.AccessToken(ctx)
}

func (s *Service) JSAPIConfig(ctx context.Context, componentAppID, authorizerAppID, pageURL string) (JSAPIConfig, error) {
	agent, err := s.Authorizer(componentAppID, authorizerAppID)
	if err != nil {
		return JSAPIConfig{}, err
	}
	return agent.JSAPIConfig(ctx, pageURL)
}

func (s *Service) AuthorizationURL(ctx context.Context, componentAppID, redirectURI string) (string, error) {
	agent, err := s.Component(componentAppID)
	if err != nil {
		return "", err
	}
	return agent.AuthorizationURL(ctx, redirectURI)
}

// RefreshComponentAccessToken forces a component token renewal.
func (s *Service) RefreshComponentAccessToken(ctx context.Context, componentAppID string) (string, error) {
	agent, err := s.Component(componentAppID)
	if err != nil {
		return "", err
	}
	return agent.RefreshAccessToken(ctx)
}

// RefreshAuthorizerAccessToken forces an authorizer token renewal.
func (s *Service) RefreshAuthorizerAccessToken(ctx context.Context, componentAppID, authorizerAppID string) (string, error) {
	agent, err := s.Authorizer(componentAppID, authorizerAppID)
	if err != nil {
		return "", err
	}
	return agent.RefreshAccessToken(ctx)
}

type AuthorizerStatus struct {
	AppID string          `json:"app_id"`
	State AuthorizerState `json:"state"`
}

type ComponentStatus struct {
	AppID       string             `json:"app_id"`
	State       ComponentState     `json:"state"`
	HasTicket   bool               `json:"has_verify_ticket"`
	Authorizers []AuthorizerStatus `json:"authorizers"`
}

func (s *Service) ComponentStatus(componentAppID string) (ComponentStatus, error) {
	agent, err := s.Component(componentAppID)
	if err != nil {
		return ComponentStatus{}, err
	}
	return agent.Status(), nil
}

func (s *Service) ComponentStatuses() []ComponentStatus {
	agents := s.registry.List()
	out := make([]ComponentStatus, 0, len(agents))
	for _, agent := range agents {
		out = append(out, agent.Status())
	}
	return out
}
