package wxopen

import (
	"fmt"
	"time"

	wxcommand "github.com/goliatone/go-wxopen/command"
	"github.com/goliatone/go-wxopen/core"
	wxquery "github.com/goliatone/go-wxopen/query"
	"github.com/goliatone/go-wxopen/ratelimit"
	"github.com/goliatone/go-wxopen/transport"
	"github.com/goliatone/go-wxopen/webhooks"
)

type CommandQueryService interface {
	wxcommand.MutatingService
	wxquery.TokenReader
	wxquery.JSAPIConfigReader
	wxquery.AuthorizationURLReader
	wxquery.StatusReader
}

type Commands struct {
	AddAuthorizer          *wxcommand.AddAuthorizerCommand
	RemoveAuthorizer       *wxcommand.RemoveAuthorizerCommand
	RefreshComponentToken  *wxcommand.RefreshComponentTokenCommand
	RefreshAuthorizerToken *wxcommand.RefreshAuthorizerTokenCommand
	HandleNotification     *wxcommand.HandleNotificationCommand
}

type Queries struct {
	ComponentAccessToken  *wxquery.ComponentAccessTokenQuery
	AuthorizerAccessToken *wxquery.AuthorizerAccessTokenQuery
	JSAPIConfig           *wxquery.JSAPIConfigQuery
	AuthorizationURL      *wxquery.AuthorizationURLQuery
	ComponentStatus       *wxquery.ComponentStatusQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("wxopen: command/query service is required")
	}
	facade := &Facade{service: service}
	facade.commands = Commands{
		AddAuthorizer:          wxcommand.NewAddAuthorizerCommand(service),
		RemoveAuthorizer:       wxcommand.NewRemoveAuthorizerCommand(service),
		RefreshComponentToken:  wxcommand.NewRefreshComponentTokenCommand(service),
		RefreshAuthorizerToken: wxcommand.NewRefreshAuthorizerTokenCommand(service),
		HandleNotification:     wxcommand.NewHandleNotificationCommand(service),
	}
	facade.queries = Queries{
		ComponentAccessToken:  wxquery.NewComponentAccessTokenQuery(service),
		AuthorizerAccessToken: wxquery.NewAuthorizerAccessTokenQuery(service),
		JSAPIConfig:           wxquery.NewJSAPIConfigQuery(service),
		AuthorizationURL:      wxquery.NewAuthorizationURLQuery(service),
		ComponentStatus:       wxquery.NewComponentStatusQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// Runtime is a fully wired service with its webhook surface.
type Runtime struct {
	Service *Service
	Router  *webhooks.Router
	Handler *webhooks.Handler
	Facade  *Facade
}

type SetupOption func(*setupOptions)

type setupOptions struct {
	serviceOptions []Option
	httpClient     transport.HTTPDoer
	rateLimitStore ratelimit.StateStore
	metrics        core.MetricsRecorder
	client         core.PlatformClient
}

// WithServiceOptions appends core options, applied after the setup defaults.
func WithServiceOptions(opts ...Option) SetupOption {
	return func(o *setupOptions) {
		o.serviceOptions = append(o.serviceOptions, opts...)
	}
}

func WithHTTPClient(doer transport.HTTPDoer) SetupOption {
	return func(o *setupOptions) {
		o.httpClient = doer
	}
}

func WithRateLimitStore(store ratelimit.StateStore) SetupOption {
	return func(o *setupOptions) {
		o.rateLimitStore = store
	}
}

// WithMetrics feeds one recorder to the service and the webhook router.
func WithMetrics(recorder core.MetricsRecorder) SetupOption {
	return func(o *setupOptions) {
		o.metrics = recorder
	}
}

// WithClient replaces the open platform API client, mostly for tests.
func WithClient(client core.PlatformClient) SetupOption {
	return func(o *setupOptions) {
		o.client = client
	}
}

// Setup builds the service with the open platform client, the message
// crypter factory and a webhook router/handler configured from the resolved
// config. Components are registered but not started.
func Setup(cfg Config, opts ...SetupOption) (*Runtime, error) {
	options := setupOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.metrics == nil {
		options.metrics = core.NopMetricsRecorder{}
	}

	client := options.client
	if client == nil {
		api := cfg.API
		if api.BaseURL == "" && api.TimeoutSeconds == 0 {
			api = core.DefaultConfig().API
		}
		client = NewPlatformClient(api, options.rateLimitStore, options.httpClient, nil)
	}

	serviceOptions := []Option{
		core.WithPlatformClient(client),
		core.WithCrypterFactory(MessageCrypterFactory()),
		core.WithMetricsRecorder(options.metrics),
	}
	serviceOptions = append(serviceOptions, options.serviceOptions...)
	svc, err := core.NewService(cfg, serviceOptions...)
	if err != nil {
		return nil, err
	}

	resolved := svc.Config()
	router := webhooks.NewRouter(svc.Registry(),
		webhooks.WithVerifier(webhooks.MsgSignatureVerifier{Required: resolved.Webhook.VerifySignature}),
		webhooks.WithDedupe(webhooks.NewDedupeController(webhooks.DedupeOptions{
			Window: time.Duration(resolved.Webhook.DedupeWindowSeconds) * time.Second,
		})),
		webhooks.WithLogger(svc.Logger()),
		webhooks.WithMetrics(options.metrics),
	)
	handler := webhooks.NewHandler(router,
		webhooks.WithMaxBodyBytes(resolved.Webhook.MaxBodyBytes),
		webhooks.WithErrorMapper(svc.MapError),
		webhooks.WithHandlerLogger(svc.Logger()),
	)
	facade, err := NewFacade(svc)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		Service: svc,
		Router:  router,
		Handler: handler,
		Facade:  facade,
	}, nil
}
