package core

import (
	"context"
	"strings"
	"sync"
	"time"
)

type AuthorizerState string

const (
	AuthorizerPending AuthorizerState = "pending"
	AuthorizerActive  AuthorizerState = "active"
	AuthorizerStopped AuthorizerState = "stopped"
)

// AuthorizerAgent keeps the access token and JS-API ticket of one account that
// authorized a component. The ticket credential starts after the first access
// token exists.
type AuthorizerAgent struct {
	appID     string
	component *ComponentAgent
	runtime   *agentRuntime
	telemetry *telemetry

	accessToken *RefreshableCredential
	ticket      *RefreshableCredential

	mu                sync.Mutex
	state             AuthorizerState
	authorizationCode string
	refreshToken      string
	ticketStarted     bool
}

func newAuthorizerAgent(component *ComponentAgent, spec AuthorizerSpec) *AuthorizerAgent {
	agent := &AuthorizerAgent{
		appID:             spec.AppID,
		component:         component,
		runtime:           component.runtime,
		telemetry:         component.telemetry,
		state:             AuthorizerPending,
		authorizationCode: strings.TrimSpace(spec.AuthorizationCode),
		refreshToken:      strings.TrimSpace(spec.RefreshToken),
	}
	prefix := component.AppID() + ":" + spec.AppID
	agent.accessToken = NewRefreshableCredential(
		"authorizer_access_token:"+prefix,
		agent.fetchAccessToken,
		agent.runtime.credentialOptions(
			OnRenewed(agent.onAccessTokenRenewed),
			OnRenewFailed(agent.failureHandler("authorizer_access_token")),
		)...,
	)
	agent.ticket = NewRefreshableCredential(
		"authorizer_jsapi_ticket:"+prefix,
		agent.fetchTicket,
		agent.runtime.credentialOptions(
			OnRenewed(agent.onTicketRenewed),
			OnRenewFailed(agent.failureHandler("authorizer_jsapi_ticket")),
		)...,
	)
	return agent
}

func (a *AuthorizerAgent) AppID() string {
	return a.appID
}

func (a *AuthorizerAgent) ComponentAppID() string {
	return a.component.AppID()
}

func (a *AuthorizerAgent) State() AuthorizerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *AuthorizerAgent) RefreshToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshToken
}

// Start exchanges the held code or refresh token for the first access token.
// A failure leaves the agent pending with a retry scheduled.
func (a *AuthorizerAgent) Start(ctx context.Context) error {
	if a.State() == AuthorizerStopped {
		return credentialStoppedError(a.accessToken.Name())
	}
	_, err := a.accessToken.Refresh(ctx)
	return err
}

// Stop cancels both credentials. Results of fetches still in flight are
// discarded. It is idempotent.
func (a *AuthorizerAgent) Stop() {
	a.mu.Lock()
	a.state = AuthorizerStopped
	a.mu.Unlock()
	a.accessToken.Cancel()
	a.ticket.Cancel()
}

// UpdateAuthorizationCode replaces the code of a pending agent and retries the
// exchange with it.
func (a *AuthorizerAgent) UpdateAuthorizationCode(ctx context.Context, code string) {
	code = strings.TrimSpace(code)
	a.mu.Lock()
	if a.state != AuthorizerPending || code == "" {
		a.mu.Unlock()
		return
	}
	a.authorizationCode = code
	a.mu.Unlock()

	startCtx := context.WithoutCancel(ctx)
	go func() {
		_ = a.Start(startCtx)
	}()
}

func (a *AuthorizerAgent) AccessToken(ctx context.Context) (string, error) {
	return a.accessToken.EnsureFresh(ctx)
}

func (a *AuthorizerAgent) RefreshAccessToken(ctx context.Context) (string, error) {
	return a.accessToken.Refresh(ctx)
}

func (a *AuthorizerAgent) JSAPITicket(ctx context.Context) (string, error) {
	return a.ticket.EnsureFresh(ctx)
}

// JSAPIConfig signs pageURL for the client-side JS SDK.
func (a *AuthorizerAgent) JSAPIConfig(ctx context.Context, pageURL string) (JSAPIConfig, error) {
	if strings.TrimSpace(pageURL) == "" {
		return JSAPIConfig{}, badInputError("core: page url is required", a.fields(nil))
	}
	ticket, err := a.JSAPITicket(ctx)
	if err != nil {
		return JSAPIConfig{}, err
	}
	nonce := newNonce()
	timestamp := a.runtime.now().Unix()
	return JSAPIConfig{
		AppID:     a.appID,
		Timestamp: timestamp,
		NonceStr:  nonce,
		Signature: SignJSAPI(ticket, nonce, timestamp, pageURL),
	}, nil
}

func (a *AuthorizerAgent) CreateOpenAccount(ctx context.Context) (string, error) {
	token, err := a.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	return a.runtime.client.CreateOpenAccount(ctx, token, a.appID)
}

func (a *AuthorizerAgent) BindOpenAccount(ctx context.Context, openAppID string) error {
	if strings.TrimSpace(openAppID) == "" {
		return badInputError("core: open app id is required", a.fields(nil))
	}
	token, err := a.AccessToken(ctx)
	if err != nil {
		return err
	}
	return a.runtime.client.BindOpenAccount(ctx, token, a.appID, openAppID)
}

func (a *AuthorizerAgent) UnbindOpenAccount(ctx context.Context, openAppID string) error {
	if strings.TrimSpace(openAppID) == "" {
		return badInputError("core: open app id is required", a.fields(nil))
	}
	token, err := a.AccessToken(ctx)
	if err != nil {
		return err
	}
	return a.runtime.client.UnbindOpenAccount(ctx, token, a.appID, openAppID)
}

func (a *AuthorizerAgent) OpenAccount(ctx context.Context) (string, error) {
	token, err := a.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	return a.runtime.client.OpenAccount(ctx, token, a.appID)
}

func (a *AuthorizerAgent) fetchAccessToken(ctx context.Context) (Grant, error) {
	componentToken, err := a.component.AccessToken(ctx)
	if err != nil {
		return Grant{}, err
	}

	a.mu.Lock()
	code, refreshToken := a.authorizationCode, a.refreshToken
	a.mu.Unlock()

	startedAt := time.Now()
	var grant AuthorizerGrant
	operation := "refresh_authorizer_token"
	switch {
	case code != "":
		operation = "exchange_authorization_code"
		grant, err = a.runtime.client.QueryAuth(ctx, a.component.AppID(), componentToken, code)
	case refreshToken != "":
		grant, err = a.runtime.client.RefreshAuthorizerToken(ctx, a.component.AppID(), componentToken, a.appID, refreshToken)
	default:
		err = ConfigurationError("core: authorizer holds neither code nor refresh token", a.fields(nil))
	}
	a.telemetry.observeOperation(ctx, startedAt, operation, err, a.fields(nil))
	if err != nil {
		return Grant{}, err
	}

	a.mu.Lock()
	if a.state == AuthorizerStopped {
		a.mu.Unlock()
		return Grant{}, credentialStoppedError(a.accessToken.Name())
	}
	if code != "" && a.authorizationCode == code {
		a.authorizationCode = ""
	}
	if grant.RefreshToken != "" {
		a.refreshToken = grant.RefreshToken
	}
	a.mu.Unlock()
	return Grant{Value: grant.AccessToken, ExpiresIn: grant.ExpiresIn}, nil
}

func (a *AuthorizerAgent) fetchTicket(ctx context.Context) (Grant, error) {
	token, err := a.AccessToken(ctx)
	if err != nil {
		return Grant{}, err
	}
	startedAt := time.Now()
	grant, err := a.runtime.client.JSAPITicket(ctx, token)
	a.telemetry.observeOperation(ctx, startedAt, "fetch_jsapi_ticket", err, a.fields(nil))
	return grant, err
}

func (a *AuthorizerAgent) onAccessTokenRenewed(ctx context.Context, snapshot CredentialSnapshot) {
	a.mu.Lock()
	if a.state == AuthorizerStopped {
		a.mu.Unlock()
		return
	}
	a.state = AuthorizerActive
	startTicket := !a.ticketStarted
	a.ticketStarted = true
	refreshToken := a.refreshToken
	a.mu.Unlock()

	a.component.bus.Publish(ctx, AuthorizerTokenEvent{
		ComponentAppID:  a.component.AppID(),
		AuthorizerAppID: a.appID,
		AccessToken:     snapshot.Value,
		RefreshToken:    refreshToken,
		ExpiresAt:       snapshot.ExpiresAt,
	})

	if startTicket {
		ticketCtx := context.WithoutCancel(ctx)
		go func() {
			_, _ = a.ticket.EnsureFresh(ticketCtx)
		}()
	}
}

func (a *AuthorizerAgent) onTicketRenewed(ctx context.Context, snapshot CredentialSnapshot) {
	if a.State() == AuthorizerStopped {
		return
	}
	a.component.bus.Publish(ctx, AuthorizerTicketEvent{
		ComponentAppID:  a.component.AppID(),
		AuthorizerAppID: a.appID,
		Ticket:          snapshot.Value,
		ExpiresAt:       snapshot.ExpiresAt,
	})
}

func (a *AuthorizerAgent) failureHandler(operation string) func(context.Context, error) {
	return func(ctx context.Context, err error) {
		if a.State() == AuthorizerStopped {
			return
		}
		a.component.bus.Publish(ctx, ErrorEvent{
			ComponentAppID:  a.component.AppID(),
			AuthorizerAppID: a.appID,
			Operation:       operation,
			Err:             err,
		})
	}
}

func (a *AuthorizerAgent) fields(extra map[string]any) map[string]any {
	return a.component.fields(mergeFields(map[string]any{"authorizer_app_id": a.appID}, extra))
}

func mergeFields(base map[string]any, extra map[string]any) map[string]any {
	for key, value := range extra {
		base[key] = value
	}
	return base
}
