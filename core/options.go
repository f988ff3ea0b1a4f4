package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	platformClient  PlatformClient
	crypterFactory  CrypterFactory
	credentialStore CredentialStore
	scheduler       Scheduler
	clock           func() time.Time
	bus             *EventBus
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithPlatformClient(client PlatformClient) Option {
	return func(b *serviceBuilder) {
		b.platformClient = client
	}
}

func WithCrypterFactory(factory CrypterFactory) Option {
	return func(b *serviceBuilder) {
		b.crypterFactory = factory
	}
}

func WithCredentialStore(store CredentialStore) Option {
	return func(b *serviceBuilder) {
		b.credentialStore = store
	}
}

func WithScheduler(scheduler Scheduler) Option {
	return func(b *serviceBuilder) {
		b.scheduler = scheduler
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = now
	}
}

func WithEventBus(bus *EventBus) Option {
	return func(b *serviceBuilder) {
		b.bus = bus
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("wxopen", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		scheduler:       SystemScheduler{},
		clock:           func() time.Time { return time.Now().UTC() },
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

// StaticRawConfigLoader serves a fixed raw config map, typically assembled
// from environment variables.
type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap renders a config as an options layer. Zero values are left
// out of non-default layers so they do not shadow lower layers.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	renewal := map[string]any{}
	if includeZero || cfg.Renewal.MarginSeconds > 0 {
		renewal["margin_seconds"] = cfg.Renewal.MarginSeconds
	}
	if includeZero || cfg.Renewal.RetryDelaySeconds > 0 {
		renewal["retry_delay_seconds"] = cfg.Renewal.RetryDelaySeconds
	}
	if len(renewal) > 0 {
		layer["renewal"] = renewal
	}

	authorizers := map[string]any{}
	if includeZero || cfg.Authorizers.SkipBootstrap {
		authorizers["skip_bootstrap"] = cfg.Authorizers.SkipBootstrap
	}
	if includeZero || cfg.Authorizers.PageSize > 0 {
		authorizers["page_size"] = cfg.Authorizers.PageSize
	}
	if len(authorizers) > 0 {
		layer["authorizers"] = authorizers
	}

	webhook := map[string]any{}
	if includeZero || cfg.Webhook.MaxBodyBytes > 0 {
		webhook["max_body_bytes"] = cfg.Webhook.MaxBodyBytes
	}
	if includeZero || cfg.Webhook.DedupeWindowSeconds > 0 {
		webhook["dedupe_window_seconds"] = cfg.Webhook.DedupeWindowSeconds
	}
	if includeZero || cfg.Webhook.VerifySignature {
		webhook["verify_signature"] = cfg.Webhook.VerifySignature
	}
	if len(webhook) > 0 {
		layer["webhook"] = webhook
	}

	api := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.API.BaseURL) != "" {
		api["base_url"] = cfg.API.BaseURL
	}
	if includeZero || cfg.API.TimeoutSeconds > 0 {
		api["timeout_seconds"] = cfg.API.TimeoutSeconds
	}
	if includeZero || cfg.API.RatePerSecond > 0 {
		api["rate_per_second"] = cfg.API.RatePerSecond
	}
	if includeZero || cfg.API.Burst > 0 {
		api["burst"] = cfg.API.Burst
	}
	if len(api) > 0 {
		layer["api"] = api
	}

	if includeZero || len(cfg.Components) > 0 {
		components := make([]any, 0, len(cfg.Components))
		for _, component := range cfg.Components {
			components = append(components, map[string]any{
				"app_id":           component.AppID,
				"app_secret":       component.AppSecret,
				"token":            component.Token,
				"encoding_aes_key": component.EncodingAESKey,
				"host":             component.Host,
			})
		}
		layer["components"] = components
	}
	return layer
}
