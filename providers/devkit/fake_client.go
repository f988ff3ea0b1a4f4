package devkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-wxopen/core"
)

// FakePlatformClient is an in-memory core.PlatformClient issuing numbered
// tokens. Set the *Err fields to script failures.
type FakePlatformClient struct {
	mu sync.Mutex

	ComponentTokenErr error
	QueryAuthErr      error
	RefreshErr        error
	TicketErr         error
	Authorizers       []core.AuthorizerListItem
	TokenTTL          time.Duration

	calls map[string]int
	last  map[string]string
}

func NewFakePlatformClient() *FakePlatformClient {
	return &FakePlatformClient{TokenTTL: 7200 * time.Second}
}

func (f *FakePlatformClient) record(name string, lastValue string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
		f.last = map[string]string{}
	}
	f.calls[name]++
	f.last[name] = lastValue
	return f.calls[name]
}

// Calls reports how often the named operation ran.
func (f *FakePlatformClient) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// Last reports the most relevant input of the latest named call.
func (f *FakePlatformClient) Last(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[name]
}

func (f *FakePlatformClient) ttl() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TokenTTL <= 0 {
		return 7200 * time.Second
	}
	return f.TokenTTL
}

func (f *FakePlatformClient) failure(err *error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *err
}

func (f *FakePlatformClient) ComponentAccessToken(_ context.Context, req core.ComponentTokenRequest) (core.Grant, error) {
	n := f.record("component_token", req.ComponentVerifyTicket)
	if err := f.failure(&f.ComponentTokenErr); err != nil {
		return core.Grant{}, err
	}
	return core.Grant{Value: fmt.Sprintf("component-token-%d", n), ExpiresIn: f.ttl()}, nil
}

func (f *FakePlatformClient) PreAuthCode(_ context.Context, componentAppID, _ string) (core.Grant, error) {
	n := f.record("pre_auth_code", componentAppID)
	return core.Grant{Value: fmt.Sprintf("preauth-%d", n), ExpiresIn: 1800 * time.Second}, nil
}

func (f *FakePlatformClient) QueryAuth(_ context.Context, _, _, code string) (core.AuthorizerGrant, error) {
	n := f.record("query_auth", code)
	if err := f.failure(&f.QueryAuthErr); err != nil {
		return core.AuthorizerGrant{}, err
	}
	return core.AuthorizerGrant{
		AccessToken:  fmt.Sprintf("authorizer-token-code-%d", n),
		RefreshToken: fmt.Sprintf("refresh-code-%d", n),
		ExpiresIn:    f.ttl(),
	}, nil
}

func (f *FakePlatformClient) RefreshAuthorizerToken(_ context.Context, _, _, authorizerAppID, refreshToken string) (core.AuthorizerGrant, error) {
	n := f.record("refresh_authorizer_token", refreshToken)
	if err := f.failure(&f.RefreshErr); err != nil {
		return core.AuthorizerGrant{}, err
	}
	return core.AuthorizerGrant{
		AuthorizerAppID: authorizerAppID,
		AccessToken:     fmt.Sprintf("authorizer-token-refresh-%d", n),
		RefreshToken:    fmt.Sprintf("refresh-rotated-%d", n),
		ExpiresIn:       f.ttl(),
	}, nil
}

func (f *FakePlatformClient) JSAPITicket(_ context.Context, authorizerToken string) (core.Grant, error) {
	n := f.record("jsapi_ticket", authorizerToken)
	if err := f.failure(&f.TicketErr); err != nil {
		return core.Grant{}, err
	}
	return core.Grant{Value: fmt.Sprintf("jsapi-ticket-%d", n), ExpiresIn: f.ttl()}, nil
}

func (f *FakePlatformClient) ListAuthorizers(_ context.Context, componentAppID, _ string, offset, count int) (core.AuthorizerPage, error) {
	f.record("list_authorizers", componentAppID)
	f.mu.Lock()
	defer f.mu.Unlock()
	page := core.AuthorizerPage{TotalCount: len(f.Authorizers)}
	if offset < len(f.Authorizers) {
		end := offset + count
		if end > len(f.Authorizers) {
			end = len(f.Authorizers)
		}
		page.Items = append(page.Items, f.Authorizers[offset:end]...)
	}
	return page, nil
}

func (f *FakePlatformClient) AuthorizerInfo(_ context.Context, _, _, authorizerAppID string) (core.AuthorizerInfo, error) {
	f.record("authorizer_info", authorizerAppID)
	return core.AuthorizerInfo{AuthorizerAppID: authorizerAppID, NickName: authorizerAppID}, nil
}

func (f *FakePlatformClient) AuthorizerOption(_ context.Context, _, _, authorizerAppID, optionName string) (core.AuthorizerOption, error) {
	f.record("authorizer_option", optionName)
	return core.AuthorizerOption{AuthorizerAppID: authorizerAppID, OptionName: optionName, OptionValue: "1"}, nil
}

func (f *FakePlatformClient) SetAuthorizerOption(_ context.Context, _, _ string, option core.AuthorizerOption) error {
	f.record("set_authorizer_option", option.OptionName+"="+option.OptionValue)
	return nil
}

func (f *FakePlatformClient) OAuthAccessToken(_ context.Context, _, _, _, code string) (core.OAuthToken, error) {
	f.record("oauth_access_token", code)
	return core.OAuthToken{AccessToken: "oauth-" + code, OpenID: "openid-" + code, ExpiresIn: f.ttl()}, nil
}

func (f *FakePlatformClient) UserInfo(_ context.Context, _, openID string) (core.UserInfo, error) {
	f.record("user_info", openID)
	return core.UserInfo{OpenID: openID}, nil
}

func (f *FakePlatformClient) CreateOpenAccount(_ context.Context, _, authorizerAppID string) (string, error) {
	f.record("open_create", authorizerAppID)
	return "open-" + authorizerAppID, nil
}

func (f *FakePlatformClient) BindOpenAccount(_ context.Context, _, _, openAppID string) error {
	f.record("open_bind", openAppID)
	return nil
}

func (f *FakePlatformClient) UnbindOpenAccount(_ context.Context, _, _, openAppID string) error {
	f.record("open_unbind", openAppID)
	return nil
}

func (f *FakePlatformClient) OpenAccount(_ context.Context, _, authorizerAppID string) (string, error) {
	f.record("open_get", authorizerAppID)
	return "open-" + authorizerAppID, nil
}

var _ core.PlatformClient = (*FakePlatformClient)(nil)
