package wxopen

import (
	"github.com/goliatone/go-wxopen/core"
	"github.com/goliatone/go-wxopen/webhooks"
)

// Ack is the body every webhook delivery is answered with.
const Ack = webhooks.Ack

type Config = core.Config

type ComponentConfig = core.ComponentConfig

type Option = core.Option

type Service = core.Service

type ComponentAgent = core.ComponentAgent
type AuthorizerAgent = core.AuthorizerAgent
type AuthorizerSpec = core.AuthorizerSpec
type ComponentRegistry = core.ComponentRegistry
type EventBus = core.EventBus
type CredentialStore = core.CredentialStore
type PlatformClient = core.PlatformClient
type MessageCrypter = core.MessageCrypter
type MetricsRecorder = core.MetricsRecorder

type Notification = core.Notification
type JSAPIConfig = core.JSAPIConfig
type ComponentStatus = core.ComponentStatus

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithPlatformClient  = core.WithPlatformClient
	WithCrypterFactory  = core.WithCrypterFactory
	WithCredentialStore = core.WithCredentialStore
	WithScheduler       = core.WithScheduler
	WithClock           = core.WithClock
	WithEventBus        = core.WithEventBus
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// NewService builds a bare service. The caller supplies the platform client.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
