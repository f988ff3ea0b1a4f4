package core

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type ComponentState string

const (
	ComponentUninitialized        ComponentState = "uninitialized"
	ComponentAwaitingVerifyTicket ComponentState = "awaiting_verify_ticket"
	ComponentActive               ComponentState = "active"
)

// agentRuntime carries the collaborators a component shares with its
// authorizers.
type agentRuntime struct {
	client     PlatformClient
	telemetry  *telemetry
	scheduler  Scheduler
	now        func() time.Time
	margin     time.Duration
	retryDelay time.Duration
	bootstrap  bool
	pageSize   int
}

func (r *agentRuntime) credentialOptions(extra ...CredentialOption) []CredentialOption {
	opts := []CredentialOption{
		WithCredentialScheduler(r.scheduler),
		WithCredentialClock(r.now),
		WithRenewalMargin(r.margin),
		WithRetryDelay(r.retryDelay),
	}
	return append(opts, extra...)
}

type AgentOption func(*componentBuilder)

type componentBuilder struct {
	runtime agentRuntime
	logger  Logger
	metrics MetricsRecorder
	crypter MessageCrypter
	bus     *EventBus
}

func WithAgentLogger(logger Logger) AgentOption {
	return func(b *componentBuilder) { b.logger = logger }
}

func WithAgentMetrics(recorder MetricsRecorder) AgentOption {
	return func(b *componentBuilder) { b.metrics = recorder }
}

func WithAgentCrypter(crypter MessageCrypter) AgentOption {
	return func(b *componentBuilder) { b.crypter = crypter }
}

func WithAgentBus(bus *EventBus) AgentOption {
	return func(b *componentBuilder) { b.bus = bus }
}

func WithAgentScheduler(scheduler Scheduler) AgentOption {
	return func(b *componentBuilder) {
		if scheduler != nil {
			b.runtime.scheduler = scheduler
		}
	}
}

func WithAgentClock(now func() time.Time) AgentOption {
	return func(b *componentBuilder) {
		if now != nil {
			b.runtime.now = now
		}
	}
}

func WithAgentRenewal(margin, retryDelay time.Duration) AgentOption {
	return func(b *componentBuilder) {
		if margin > 0 {
			b.runtime.margin = margin
		}
		if retryDelay > 0 {
			b.runtime.retryDelay = retryDelay
		}
	}
}

// WithAuthorizerBootstrap controls whether the first component token loads
// the authorizer list from the platform.
func WithAuthorizerBootstrap(enabled bool, pageSize int) AgentOption {
	return func(b *componentBuilder) {
		b.runtime.bootstrap = enabled
		if pageSize > 0 && pageSize <= maxAuthorizerPageSize {
			b.runtime.pageSize = pageSize
		}
	}
}

// AuthorizerSpec registers an authorizer from either a fresh authorization
// code or a stored refresh token.
type AuthorizerSpec struct {
	AppID             string
	AuthorizationCode string
	RefreshToken      string
}

// ComponentAgent drives the credential lifecycle of one component and owns
// its authorizers.
type ComponentAgent struct {
	config    ComponentConfig
	runtime   *agentRuntime
	telemetry *telemetry
	crypter   MessageCrypter
	bus       *EventBus
	token     *RefreshableCredential

	mu           sync.Mutex
	state        ComponentState
	verifyTicket string
	authorizers  map[string]*AuthorizerAgent
	bootstrapped bool
}

func NewComponentAgent(cfg ComponentConfig, client PlatformClient, opts ...AgentOption) (*ComponentAgent, error) {
	cfg.AppID = strings.TrimSpace(cfg.AppID)
	if err := cfg.Validate(); err != nil {
		return nil, ConfigurationError(err.Error(), map[string]any{"component_app_id": cfg.AppID})
	}
	if client == nil {
		return nil, ConfigurationError("core: platform client is required", map[string]any{"component_app_id": cfg.AppID})
	}
	builder := componentBuilder{
		runtime: agentRuntime{
			client:     client,
			scheduler:  SystemScheduler{},
			now:        func() time.Time { return time.Now().UTC() },
			margin:     DefaultRenewalMargin,
			retryDelay: DefaultRetryDelay,
			pageSize:   maxAuthorizerPageSize,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&builder)
		}
	}
	tel := newTelemetry(builder.logger, builder.metrics)
	builder.runtime.telemetry = tel
	if builder.bus == nil {
		builder.bus = NewEventBus(tel.logger)
	}

	agent := &ComponentAgent{
		config:      cfg,
		runtime:     &builder.runtime,
		telemetry:   tel,
		crypter:     builder.crypter,
		bus:         builder.bus,
		state:       ComponentUninitialized,
		authorizers: map[string]*AuthorizerAgent{},
	}
	agent.token = NewRefreshableCredential(
		"component_access_token:"+cfg.AppID,
		agent.fetchAccessToken,
		agent.runtime.credentialOptions(
			OnRenewed(agent.onTokenRenewed),
			OnRenewFailed(agent.onTokenFailed),
		)...,
	)
	return agent, nil
}

func (c *ComponentAgent) AppID() string {
	return c.config.AppID
}

func (c *ComponentAgent) Config() ComponentConfig {
	return c.config
}

func (c *ComponentAgent) Bus() *EventBus {
	return c.bus
}

func (c *ComponentAgent) Crypter() MessageCrypter {
	return c.crypter
}

func (c *ComponentAgent) State() ComponentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ComponentAgent) VerifyTicket() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifyTicket
}

// Restore seeds state read from storage. It only applies before Start.
func (c *ComponentAgent) Restore(stored StoredComponent) {
	c.mu.Lock()
	if c.state != ComponentUninitialized {
		c.mu.Unlock()
		return
	}
	if ticket := strings.TrimSpace(stored.VerifyTicket); ticket != "" {
		c.verifyTicket = ticket
	}
	hasTicket := c.verifyTicket != ""
	c.mu.Unlock()

	if hasTicket && stored.AccessToken != "" && c.runtime.now().Before(stored.AccessTokenExpiresAt) {
		c.token.Seed(stored.AccessToken, stored.AccessTokenExpiresAt)
	}
}

// Start moves the component out of uninitialized. Without a verify ticket it
// waits for the first rotation notification. Token fetch failures are
// published and retried, never returned.
func (c *ComponentAgent) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != ComponentUninitialized {
		c.mu.Unlock()
		return nil
	}
	if c.verifyTicket == "" {
		c.state = ComponentAwaitingVerifyTicket
		c.mu.Unlock()
		c.telemetry.logInfo(ctx, "component awaiting verify ticket", c.fields(nil))
		return nil
	}
	c.state = ComponentActive
	c.mu.Unlock()

	if value, _ := c.token.Current(); value != "" {
		c.maybeBootstrap(ctx)
		return nil
	}
	_, _ = c.token.EnsureFresh(ctx)
	return nil
}

// Stop cancels the component token and every authorizer.
func (c *ComponentAgent) Stop() {
	c.token.Cancel()
	c.mu.Lock()
	authorizers := make([]*AuthorizerAgent, 0, len(c.authorizers))
	for id, agent := range c.authorizers {
		authorizers = append(authorizers, agent)
		delete(c.authorizers, id)
	}
	c.mu.Unlock()
	for _, agent := range authorizers {
		agent.Stop()
	}
}

func (c *ComponentAgent) AccessToken(ctx context.Context) (string, error) {
	if c.VerifyTicket() == "" {
		return "", ConfigurationError("core: component has no verify ticket yet", c.fields(nil))
	}
	return c.token.EnsureFresh(ctx)
}

// RefreshAccessToken forces a component token renewal.
func (c *ComponentAgent) RefreshAccessToken(ctx context.Context) (string, error) {
	if c.VerifyTicket() == "" {
		return "", ConfigurationError("core: component has no verify ticket yet", c.fields(nil))
	}
	return c.token.Refresh(ctx)
}

func (c *ComponentAgent) AddAuthorizer(ctx context.Context, spec AuthorizerSpec) (*AuthorizerAgent, error) {
	spec.AppID = strings.TrimSpace(spec.AppID)
	if spec.AppID == "" {
		return nil, badInputError("core: authorizer app id is required", c.fields(nil))
	}
	if strings.TrimSpace(spec.AuthorizationCode) == "" && strings.TrimSpace(spec.RefreshToken) == "" {
		return nil, badInputError("core: authorizer requires an authorization code or refresh token",
			c.fields(map[string]any{"authorizer_app_id": spec.AppID}))
	}

	c.mu.Lock()
	if _, exists := c.authorizers[spec.AppID]; exists {
		c.mu.Unlock()
		return nil, DuplicateAuthorizerError(c.config.AppID, spec.AppID)
	}
	agent := newAuthorizerAgent(c, spec)
	c.authorizers[spec.AppID] = agent
	c.mu.Unlock()

	c.telemetry.logInfo(ctx, "authorizer registered", c.fields(map[string]any{
		"authorizer_app_id": spec.AppID,
		"from_code":         spec.AuthorizationCode != "",
	}))
	startCtx := context.WithoutCancel(ctx)
	go func() {
		_ = agent.Start(startCtx)
	}()
	return agent, nil
}

func (c *ComponentAgent) Authorizer(appID string) (*AuthorizerAgent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agent, ok := c.authorizers[strings.TrimSpace(appID)]
	return agent, ok
}

func (c *ComponentAgent) MustAuthorizer(appID string) (*AuthorizerAgent, error) {
	agent, ok := c.Authorizer(appID)
	if !ok {
		return nil, UnknownAuthorizerError(c.config.AppID, appID)
	}
	return agent, nil
}

func (c *ComponentAgent) Authorizers() []*AuthorizerAgent {
	c.mu.Lock()
	out := make([]*AuthorizerAgent, 0, len(c.authorizers))
	for _, agent := range c.authorizers {
		out = append(out, agent)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AppID() < out[j].AppID() })
	return out
}

// RemoveAuthorizer stops and forgets an authorizer. Unknown ids are a no-op.
func (c *ComponentAgent) RemoveAuthorizer(ctx context.Context, appID string) bool {
	appID = strings.TrimSpace(appID)
	c.mu.Lock()
	agent, ok := c.authorizers[appID]
	delete(c.authorizers, appID)
	c.mu.Unlock()
	if !ok {
		return false
	}
	agent.Stop()
	c.telemetry.logInfo(ctx, "authorizer removed", c.fields(map[string]any{"authorizer_app_id": appID}))
	return true
}

// HandleNotification applies a decrypted authorization notification and then
// publishes it as an AuthorizationEvent. The event is published even when the
// notification is incomplete or applying it fails.
func (c *ComponentAgent) HandleNotification(ctx context.Context, n Notification) error {
	startedAt := time.Now()
	if !n.Known() {
		c.telemetry.logWarn(ctx, "ignoring notification", c.fields(map[string]any{"info_type": string(n.InfoType)}))
		return nil
	}
	var firstTicket bool
	err := n.Validate()
	if err == nil {
		switch n.InfoType {
		case InfoTypeVerifyTicket:
			firstTicket = c.rotateVerifyTicket(ctx, strings.TrimSpace(n.ComponentVerifyTicket))
		case InfoTypeAuthorized, InfoTypeUpdateAuthorized:
			err = c.applyAuthorization(ctx, n)
		case InfoTypeUnauthorized:
			c.RemoveAuthorizer(ctx, n.AuthorizerAppID)
		}
	}
	c.telemetry.observeOperation(ctx, startedAt, "handle_notification", err, c.fields(map[string]any{
		"info_type":         string(n.InfoType),
		"authorizer_app_id": n.AuthorizerAppID,
	}))
	c.bus.Publish(ctx, n.event(c.config.AppID))
	if err != nil {
		return err
	}
	if firstTicket {
		fetchCtx := context.WithoutCancel(ctx)
		go func() {
			_, _ = c.token.EnsureFresh(fetchCtx)
		}()
	}
	return nil
}

// rotateVerifyTicket stores the ticket and reports whether it is the first one,
// in which case the caller starts the initial token fetch.
func (c *ComponentAgent) rotateVerifyTicket(ctx context.Context, ticket string) bool {
	c.mu.Lock()
	c.verifyTicket = ticket
	awaiting := c.state == ComponentAwaitingVerifyTicket
	if awaiting {
		c.state = ComponentActive
	}
	c.mu.Unlock()

	if awaiting {
		c.telemetry.logInfo(ctx, "first verify ticket received", c.fields(nil))
	}
	return awaiting
}

func (c *ComponentAgent) applyAuthorization(ctx context.Context, n Notification) error {
	agent, ok := c.Authorizer(n.AuthorizerAppID)
	if !ok {
		_, err := c.AddAuthorizer(ctx, AuthorizerSpec{
			AppID:             n.AuthorizerAppID,
			AuthorizationCode: n.AuthorizationCode,
		})
		return err
	}
	if agent.State() == AuthorizerActive {
		c.telemetry.logInfo(ctx, "authorizer already active", c.fields(map[string]any{
			"authorizer_app_id": n.AuthorizerAppID,
			"info_type":         string(n.InfoType),
		}))
		return nil
	}
	agent.UpdateAuthorizationCode(ctx, n.AuthorizationCode)
	return nil
}

// PreAuthCode requests a code used to build an authorization page URL.
func (c *ComponentAgent) PreAuthCode(ctx context.Context) (string, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	grant, err := c.runtime.client.PreAuthCode(ctx, c.config.AppID, token)
	if err != nil {
		return "", err
	}
	return grant.Value, nil
}

func (c *ComponentAgent) AuthorizationURL(ctx context.Context, redirectURI string) (string, error) {
	if strings.TrimSpace(redirectURI) == "" {
		return "", badInputError("core: redirect uri is required", c.fields(nil))
	}
	code, err := c.PreAuthCode(ctx)
	if err != nil {
		return "", err
	}
	return AuthorizationURL(c.config.AppID, code, redirectURI), nil
}

func (c *ComponentAgent) OAuthURL(req OAuthURLRequest) string {
	return OAuthURL(c.config.AppID, req)
}

func (c *ComponentAgent) OAuthAccessToken(ctx context.Context, authorizerAppID, code string) (OAuthToken, error) {
	if strings.TrimSpace(authorizerAppID) == "" || strings.TrimSpace(code) == "" {
		return OAuthToken{}, badInputError("core: authorizer app id and code are required", c.fields(nil))
	}
	token, err := c.AccessToken(ctx)
	if err != nil {
		return OAuthToken{}, err
	}
	return c.runtime.client.OAuthAccessToken(ctx, c.config.AppID, token, authorizerAppID, code)
}

func (c *ComponentAgent) UserInfo(ctx context.Context, accessToken, openID string) (UserInfo, error) {
	if strings.TrimSpace(accessToken) == "" || strings.TrimSpace(openID) == "" {
		return UserInfo{}, badInputError("core: access token and open id are required", c.fields(nil))
	}
	return c.runtime.client.UserInfo(ctx, accessToken, openID)
}

func (c *ComponentAgent) AuthorizerInfo(ctx context.Context, authorizerAppID string) (AuthorizerInfo, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return AuthorizerInfo{}, err
	}
	return c.runtime.client.AuthorizerInfo(ctx, c.config.AppID, token, authorizerAppID)
}

func (c *ComponentAgent) AuthorizerOption(ctx context.Context, authorizerAppID, optionName string) (AuthorizerOption, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return AuthorizerOption{}, err
	}
	return c.runtime.client.AuthorizerOption(ctx, c.config.AppID, token, authorizerAppID, optionName)
}

func (c *ComponentAgent) SetAuthorizerOption(ctx context.Context, option AuthorizerOption) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}
	return c.runtime.client.SetAuthorizerOption(ctx, c.config.AppID, token, option)
}

// LoadAuthorizers pages through every authorizer the platform knows for this
// component and registers the ones not already held.
func (c *ComponentAgent) LoadAuthorizers(ctx context.Context) ([]string, error) {
	startedAt := time.Now()
	loaded, total, err := c.loadAuthorizers(ctx)
	c.telemetry.observeOperation(ctx, startedAt, "load_authorizers", err, c.fields(map[string]any{
		"loaded": len(loaded),
		"total":  total,
	}))
	if err != nil {
		c.bus.Publish(ctx, ErrorEvent{ComponentAppID: c.config.AppID, Operation: "load_authorizers", Err: err})
		return loaded, err
	}
	c.bus.Publish(ctx, AuthorizersLoadedEvent{
		ComponentAppID:   c.config.AppID,
		AuthorizerAppIDs: append([]string(nil), loaded...),
		Total:            total,
	})
	return loaded, nil
}

func (c *ComponentAgent) loadAuthorizers(ctx context.Context) ([]string, int, error) {
	pageSize := c.runtime.pageSize
	if pageSize <= 0 {
		pageSize = maxAuthorizerPageSize
	}
	loaded := []string{}
	offset := 0
	total := 0
	for {
		token, err := c.AccessToken(ctx)
		if err != nil {
			return loaded, total, err
		}
		page, err := c.runtime.client.ListAuthorizers(ctx, c.config.AppID, token, offset, pageSize)
		if err != nil {
			return loaded, total, err
		}
		total = page.TotalCount
		for _, item := range page.Items {
			if _, exists := c.Authorizer(item.AuthorizerAppID); exists || item.RefreshToken == "" {
				continue
			}
			if _, err := c.AddAuthorizer(ctx, AuthorizerSpec{
				AppID:        item.AuthorizerAppID,
				RefreshToken: item.RefreshToken,
			}); err != nil && !IsDuplicateAuthorizer(err) {
				return loaded, total, err
			}
			loaded = append(loaded, item.AuthorizerAppID)
		}
		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.TotalCount {
			return loaded, total, nil
		}
	}
}

func (c *ComponentAgent) fetchAccessToken(ctx context.Context) (Grant, error) {
	ticket := c.VerifyTicket()
	if ticket == "" {
		return Grant{}, ConfigurationError("core: component has no verify ticket yet", c.fields(nil))
	}
	startedAt := time.Now()
	grant, err := c.runtime.client.ComponentAccessToken(ctx, ComponentTokenRequest{
		ComponentAppID:        c.config.AppID,
		ComponentAppSecret:    c.config.AppSecret,
		ComponentVerifyTicket: ticket,
	})
	c.telemetry.observeOperation(ctx, startedAt, "fetch_component_token", err, c.fields(nil))
	return grant, err
}

func (c *ComponentAgent) onTokenRenewed(ctx context.Context, snapshot CredentialSnapshot) {
	c.bus.Publish(ctx, ComponentTokenEvent{
		ComponentAppID: c.config.AppID,
		AccessToken:    snapshot.Value,
		ExpiresAt:      snapshot.ExpiresAt,
	})
	c.maybeBootstrap(ctx)
}

func (c *ComponentAgent) onTokenFailed(ctx context.Context, err error) {
	c.bus.Publish(ctx, ErrorEvent{
		ComponentAppID: c.config.AppID,
		Operation:      "component_access_token",
		Err:            err,
	})
}

func (c *ComponentAgent) maybeBootstrap(ctx context.Context) {
	if !c.runtime.bootstrap {
		return
	}
	c.mu.Lock()
	if c.bootstrapped {
		c.mu.Unlock()
		return
	}
	c.bootstrapped = true
	c.mu.Unlock()

	loadCtx := context.WithoutCancel(ctx)
	go func() {
		_, _ = c.LoadAuthorizers(loadCtx)
	}()
}

func (c *ComponentAgent) fields(extra map[string]any) map[string]any {
	fields := map[string]any{"component_app_id": c.config.AppID}
	for key, value := range extra {
		fields[key] = value
	}
	return fields
}

func (c *ComponentAgent) Status() ComponentStatus {
	status := ComponentStatus{
		AppID:       c.config.AppID,
		State:       c.State(),
		HasTicket:   c.VerifyTicket() != "",
		Authorizers: []AuthorizerStatus{},
	}
	for _, agent := range c.Authorizers() {
		status.Authorizers = append(status.Authorizers, AuthorizerStatus{AppID: agent.AppID(), State: agent.State()})
	}
	return status
}
