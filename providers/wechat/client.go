package wechat

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-wxopen/core"
	"github.com/goliatone/go-wxopen/ratelimit"
	"github.com/goliatone/go-wxopen/transport"
)

const (
	DefaultBaseURL = "https://api.weixin.qq.com"

	EndpointComponentToken   = "/cgi-bin/component/api_component_token"
	EndpointPreAuthCode      = "/cgi-bin/component/api_create_preauthcode"
	EndpointQueryAuth        = "/cgi-bin/component/api_query_auth"
	EndpointAuthorizerToken  = "/cgi-bin/component/api_authorizer_token"
	EndpointAuthorizerList   = "/cgi-bin/component/api_get_authorizer_list"
	EndpointAuthorizerInfo   = "/cgi-bin/component/api_get_authorizer_info"
	EndpointGetOption        = "/cgi-bin/component/api_get_authorizer_option"
	EndpointSetOption        = "/cgi-bin/component/api_set_authorizer_option"
	EndpointJSAPITicket      = "/cgi-bin/ticket/getticket"
	EndpointOAuthAccessToken = "/sns/oauth2/component/access_token"
	EndpointUserInfo         = "/sns/userinfo"
	EndpointOpenCreate       = "/cgi-bin/open/create"
	EndpointOpenBind         = "/cgi-bin/open/bind"
	EndpointOpenUnbind       = "/cgi-bin/open/unbind"
	EndpointOpenGet          = "/cgi-bin/open/get"
)

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

func DefaultConfig() Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		Timeout:       10 * time.Second,
		RatePerSecond: 5,
		Burst:         10,
	}
}

// ConfigFromAPI converts the service API settings into a client config.
func ConfigFromAPI(api core.APIConfig) Config {
	return Config{
		BaseURL:       api.BaseURL,
		Timeout:       time.Duration(api.TimeoutSeconds) * time.Second,
		RatePerSecond: api.RatePerSecond,
		Burst:         api.Burst,
	}
}

type Option func(*Client)

func WithHTTPClient(doer transport.HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.httpClient = doer
		}
	}
}

func WithPolicy(policy *ratelimit.AdaptivePolicy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

func WithLogger(logger core.Logger) Option {
	return func(c *Client) {
		c.logger = glog.Ensure(logger)
	}
}

// Client implements core.PlatformClient over the open platform JSON API.
type Client struct {
	rest       *transport.RESTClient
	httpClient transport.HTTPDoer
	policy     *ratelimit.AdaptivePolicy
	logger     core.Logger
}

func New(cfg Config, opts ...Option) *Client {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	client := &Client{logger: glog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.policy == nil {
		client.policy = ratelimit.NewAdaptivePolicy(nil, cfg.RatePerSecond, cfg.Burst)
	}
	client.rest = transport.NewRESTClient(client.httpClient, cfg.BaseURL)
	client.rest.DefaultTimeout = cfg.Timeout
	return client
}

// errorEnvelope is the errcode/errmsg pair present on every failed response.
type errorEnvelope struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

type call struct {
	componentAppID string
	bucket         string
	method         string
	endpoint       string
	query          map[string]string
	body           any
}

func (c *Client) do(ctx context.Context, in call, out any) error {
	key := ratelimit.Key{ComponentAppID: in.componentAppID, Bucket: in.bucket}
	if err := c.policy.BeforeCall(ctx, key); err != nil {
		var throttled ratelimit.ThrottledError
		if goerrors.As(err, &throttled) {
			return throttled.ToServiceError()
		}
		return err
	}

	method := in.method
	if method == "" {
		method = http.MethodPost
	}
	res, err := c.rest.Do(ctx, transport.Request{
		Method:   method,
		Endpoint: in.endpoint,
		Query:    in.query,
		JSON:     in.body,
	})
	if err != nil {
		c.logger.Warn("wechat api request failed", "endpoint", in.endpoint, "error", err.Error())
		if core.IsNetworkError(err) || core.IsDecodeError(err) {
			return err
		}
		return core.NetworkError(err, in.endpoint)
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return core.DecodeError(err, "wechat: decode "+in.endpoint+" response", map[string]any{
			"endpoint":    in.endpoint,
			"status_code": res.StatusCode,
		})
	}
	if policyErr := c.policy.AfterCall(ctx, key, envelope.ErrCode); policyErr != nil {
		c.logger.Warn("wechat rate limit state update failed", "endpoint", in.endpoint, "error", policyErr.Error())
	}
	if envelope.ErrCode != 0 {
		c.logger.Warn("wechat api returned errcode",
			"endpoint", in.endpoint,
			"errcode", envelope.ErrCode,
			"errmsg", envelope.ErrMsg,
		)
		return core.RemoteAPIError(in.endpoint, envelope.ErrCode, envelope.ErrMsg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return core.DecodeError(err, "wechat: decode "+in.endpoint+" response", map[string]any{
			"endpoint": in.endpoint,
		})
	}
	return nil
}

func seconds(value int64) time.Duration {
	return time.Duration(value) * time.Second
}

func (c *Client) ComponentAccessToken(ctx context.Context, req core.ComponentTokenRequest) (core.Grant, error) {
	var out struct {
		ComponentAccessToken string `json:"component_access_token"`
		ExpiresIn            int64  `json:"expires_in"`
	}
	err := c.do(ctx, call{
		componentAppID: req.ComponentAppID,
		bucket:         "component_token",
		endpoint:       EndpointComponentToken,
		body: map[string]string{
			"component_appid":         req.ComponentAppID,
			"component_appsecret":     req.ComponentAppSecret,
			"component_verify_ticket": req.ComponentVerifyTicket,
		},
	}, &out)
	if err != nil {
		return core.Grant{}, err
	}
	return core.Grant{Value: out.ComponentAccessToken, ExpiresIn: seconds(out.ExpiresIn)}, nil
}

func (c *Client) PreAuthCode(ctx context.Context, componentAppID, componentToken string) (core.Grant, error) {
	var out struct {
		PreAuthCode string `json:"pre_auth_code"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	err := c.do(ctx, call{
		componentAppID: componentAppID,
		endpoint:       EndpointPreAuthCode,
		query:          map[string]string{"component_access_token": componentToken},
		body:           map[string]string{"component_appid": componentAppID},
	}, &out)
	if err != nil {
		return core.Grant{}, err
	}
	return core.Grant{Value: out.PreAuthCode, ExpiresIn: seconds(out.ExpiresIn)}, nil
}

type funcScope struct {
	FuncScopeCategory struct {
		ID int `json:"id"`
	} `json:"funcscope_category"`
}

func funcIDs(scopes []funcScope) []int {
	if len(scopes) == 0 {
		return nil
	}
	ids := make([]int, 0, len(scopes))
	for _, scope := range scopes {
		ids = append(ids, scope.FuncScopeCategory.ID)
	}
	return ids
}

type authorizationInfo struct {
	AuthorizerAppID        string      `json:"authorizer_appid"`
	AuthorizerAccessToken  string      `json:"authorizer_access_token"`
	AuthorizerRefreshToken string      `json:"authorizer_refresh_token"`
	ExpiresIn              int64       `json:"expires_in"`
	FuncInfo               []funcScope `json:"func_info"`
}

func (c *Client) QueryAuth(ctx context.Context, componentAppID, componentToken, authorizationCode string) (core.AuthorizerGrant, error) {
	var out struct {
		AuthorizationInfo authorizationInfo `json:"authorization_info"`
	}
	err := c.do(ctx, call{
		componentAppID: componentAppID,
		endpoint:       EndpointQueryAuth,
		query:          map[string]string{"component_access_token": componentToken},
		body: map[string]string{
			"component_appid":    componentAppID,
			"authorization_code": authorizationCode,
		},
	}, &out)
	if err != nil {
		return core.AuthorizerGrant{}, err
	}
	info := out.AuthorizationInfo
	return core.AuthorizerGrant{
		AuthorizerAppID: info.AuthorizerAppID,
		AccessToken:     info.AuthorizerAccessToken,
		RefreshToken:    info.AuthorizerRefreshToken,
		ExpiresIn:       seconds(info.ExpiresIn),
		FuncInfo:        funcIDs(info.FuncInfo),
	}, nil
}

func (c *Client) RefreshAuthorizerToken(
	ctx context.Context,
	componentAppID, componentToken, authorizerAppID, refreshToken string,
) (core.AuthorizerGrant, error) {
	var out struct {
		AuthorizerAccessToken  string `json:"authorizer_access_token"`
		AuthorizerRefreshToken string `json:"authorizer_refresh_token"`
		ExpiresIn              int64  `json:"expires_in"`
	}
	err := c.do(ctx, call{
		componentAppID: componentAppID,
		endpoint:       EndpointAuthorizerToken,
		query:          map[string]string{"component_access_token": componentToken},
		body: map[string]string{
			"component_appid":          componentAppID,
			"authorizer_appid":         authorizerAppID,
			"authorizer_refresh_token": refreshToken,
		},
	}, &out)
	if err != nil {
		return core.AuthorizerGrant{}, err
	}
	rotated := out.AuthorizerRefreshToken
	if rotated == "" {
		rotated = refreshToken
	}
	return core.AuthorizerGrant{
		AuthorizerAppID: authorizerAppID,
		AccessToken:     out.AuthorizerAccessToken,
		RefreshToken:    rotated,
		ExpiresIn:       seconds(out.ExpiresIn),
	}, nil
}

func (c *Client) JSAPITicket(ctx context.Context, authorizerToken string) (core.Grant, error) {
	var out struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int64  `json:"expires_in"`
	}
	err := c.do(ctx, call{
		bucket:   "jsapi_ticket",
		method:   http.MethodGet,
		endpoint: EndpointJSAPITicket,
		query:    map[string]string{"access_token": authorizerToken, "type": "jsapi"},
	}, &out)
	if err != nil {
		return core.Grant{}, err
	}
	return core.Grant{Value: out.Ticket, ExpiresIn: seconds(out.ExpiresIn)}, nil
}

func (c *Client) ListAuthorizers(ctx context.Context, componentAppID, componentToken string, offset, count int) (core.AuthorizerPage, error) {
	var out struct {
		TotalCount int `json:"total_count"`
		List       []struct {
			AuthorizerAppID string `json:"authorizer_appid"`
			RefreshToken    string `json:"refresh_token"`
			AuthTime        int64  `json:"auth_time"`
		} `json:"list"`
	}
	err := c.do(ctx, call{
		componentAppID: componentAppID,
		endpoint:       EndpointAuthorizerList,
		query:          map[string]string{"component_access_token": componentToken},
		body: map[string]any{
			"component_appid": componentAppID,
			"offset":          offset,
			"count":           count,
		},
	}, &out)
	if err != nil {
		return core.AuthorizerPage{}, err
	}
	page := core.AuthorizerPage{TotalCount: out.TotalCount, Items: make([]core.AuthorizerListItem, 0, len(out.List))}
	for _, item := range out.List {
		page.Items = append(page.Items, core.AuthorizerListItem{
			AuthorizerAppID: item.AuthorizerAppID,
			RefreshToken:    item.RefreshToken,
			AuthTime:        time.Unix(item.AuthTime, 0).UTC(),
		})
	}
	return page, nil
}

func (c *Client) AuthorizerInfo(ctx context.Context, componentAppID, componentToken, authorizerAppID string) (core.AuthorizerInfo, error) {
	var raw map[string]any
	var out struct {
		AuthorizerInfo struct {
			NickName        string `json:"nick_name"`
			HeadImg         string `json:"head_img"`
			UserName        string `json:"user_name"`
			PrincipalName   string `json:"principal_name"`
			Alias           string `json:"alias"`
			QRCodeURL       string `json:"qrcode_url"`
			Signature       string `json:"signature"`
			ServiceTypeInfo struct {
				ID int `json:"id"`
			} `json:"service_type_info"`
			VerifyTypeInfo struct {
				ID int `json:"id"`
			} `json:"verify_type_info"`
		} `json:"authorizer_info"`
		AuthorizationInfo authorizationInfo `json:"authorization_info"`
	}
	err := c.do(ctx, call{
		componentAppID: componentAppID,
		endpoint:       EndpointAuthorizerInfo,
		query:          map[string]string{"component_access_token": componentToken},
		body: map[string]string{
			"component_appid":  componentAppID,
			"authorizer_appid": authorizerAppID,
		},
	}, &rawCapture{raw: &raw, typed: &out})
	if err != nil {
		return core.AuthorizerInfo{}, err
	}
	info := out.AuthorizerInfo
	return core.AuthorizerInfo{
		AuthorizerAppID: authorizerAppID,
		NickName:        info.NickName,
		HeadImg:         info.HeadImg,
		UserName:        info.UserName,
		PrincipalName:   info.PrincipalName,
		Alias:           info.Alias,
		QRCodeURL:       info.QRCodeURL,
		Signature:       info.Signature,
		ServiceType:     info.ServiceTypeInfo.ID,
		VerifyType:      info.VerifyTypeInfo.ID,
		FuncInfo:        funcIDs(out.AuthorizationInfo.FuncInfo),
		Raw:             raw,
	}, nil
}

// rawCapture decodes a response both into a typed struct and a generic map.
type rawCapture struct {
	raw   *map[string]any
	typed any
}

func (r *rawCapture) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, r.raw); err != nil {
		return err
	}
	return json.Unmarshal(data, r.typed)
}

func (c *Client) AuthorizerOption(
	ctx context.Context,
	componentAppID, componentToken, authorizerAppID, optionName string,
) (core.AuthorizerOption, error) {
	var out struct {
		AuthorizerAppID string `json:"authorizer_appid"`
		OptionName      string `json:"option_name"`
		OptionValue     string `json:"option_value"`
	}
	err := c.do(ctx, call{
		componentAppID: componentAppID,
		endpoint:       EndpointGetOption,
		query:          map[string]string{"component_access_token": componentToken},
		body: map[string]string{
			"component_appid":  componentAppID,
			"authorizer_appid": authorizerAppID,
			"option_name":      optionName,
		},
	}, &out)
	if err != nil {
		return core.AuthorizerOption{}, err
	}
	if out.AuthorizerAppID == "" {
		out.AuthorizerAppID = authorizerAppID
	}
	return core.AuthorizerOption{
		AuthorizerAppID: out.AuthorizerAppID,
		OptionName:      out.OptionName,
		OptionValue:     out.OptionValue,
	}, nil
}

func (c *Client) SetAuthorizerOption(ctx context.Context, componentAppID, componentToken string, option core.AuthorizerOption) error {
	return c.do(ctx, call{
		componentAppID: componentAppID,
		endpoint:       EndpointSetOption,
		query:          map[string]string{"component_access_token": componentToken},
		body: map[string]string{
			"component_appid":  componentAppID,
			"authorizer_appid": option.AuthorizerAppID,
			"option_name":      option.OptionName,
			"option_value":     option.OptionValue,
		},
	}, nil)
}

func (c *Client) OAuthAccessToken(
	ctx context.Context,
	componentAppID, componentToken, authorizerAppID, code string,
) (core.OAuthToken, error) {
	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		OpenID       string `json:"openid"`
		UnionID      string `json:"unionid"`
		Scope        string `json:"scope"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	err := c.do(ctx, call{
		componentAppID: componentAppID,
		bucket:         "oauth",
		method:         http.MethodGet,
		endpoint:       EndpointOAuthAccessToken,
		query: map[string]string{
			"appid":                  authorizerAppID,
			"code":                   code,
			"grant_type":             "authorization_code",
			"component_appid":        componentAppID,
			"component_access_token": componentToken,
		},
	}, &out)
	if err != nil {
		return core.OAuthToken{}, err
	}
	return core.OAuthToken{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		OpenID:       out.OpenID,
		UnionID:      out.UnionID,
		Scope:        out.Scope,
		ExpiresIn:    seconds(out.ExpiresIn),
	}, nil
}

func (c *Client) UserInfo(ctx context.Context, accessToken, openID string) (core.UserInfo, error) {
	var out struct {
		OpenID     string   `json:"openid"`
		UnionID    string   `json:"unionid"`
		Nickname   string   `json:"nickname"`
		Sex        int      `json:"sex"`
		Province   string   `json:"province"`
		City       string   `json:"city"`
		Country    string   `json:"country"`
		HeadImgURL string   `json:"headimgurl"`
		Privilege  []string `json:"privilege"`
	}
	err := c.do(ctx, call{
		bucket:   "oauth",
		method:   http.MethodGet,
		endpoint: EndpointUserInfo,
		query: map[string]string{
			"access_token": accessToken,
			"openid":       openID,
			"lang":         "zh_CN",
		},
	}, &out)
	if err != nil {
		return core.UserInfo{}, err
	}
	return core.UserInfo{
		OpenID:     out.OpenID,
		UnionID:    out.UnionID,
		Nickname:   out.Nickname,
		Sex:        out.Sex,
		Province:   out.Province,
		City:       out.City,
		Country:    out.Country,
		HeadImgURL: out.HeadImgURL,
		Privilege:  out.Privilege,
	}, nil
}

type openAccountResponse struct {
	OpenAppID string `json:"open_appid"`
}

func (c *Client) openAccountCall(ctx context.Context, endpoint, authorizerToken string, body map[string]string, out any) error {
	return c.do(ctx, call{
		bucket:   "open_account",
		endpoint: endpoint,
		query:    map[string]string{"access_token": authorizerToken},
		body:     body,
	}, out)
}

func (c *Client) CreateOpenAccount(ctx context.Context, authorizerToken, authorizerAppID string) (string, error) {
	var out openAccountResponse
	if err := c.openAccountCall(ctx, EndpointOpenCreate, authorizerToken, map[string]string{"appid": authorizerAppID}, &out); err != nil {
		return "", err
	}
	return out.OpenAppID, nil
}

func (c *Client) BindOpenAccount(ctx context.Context, authorizerToken, authorizerAppID, openAppID string) error {
	return c.openAccountCall(ctx, EndpointOpenBind, authorizerToken, map[string]string{
		"appid":      authorizerAppID,
		"open_appid": openAppID,
	}, nil)
}

func (c *Client) UnbindOpenAccount(ctx context.Context, authorizerToken, authorizerAppID, openAppID string) error {
	return c.openAccountCall(ctx, EndpointOpenUnbind, authorizerToken, map[string]string{
		"appid":      authorizerAppID,
		"open_appid": openAppID,
	}, nil)
}

func (c *Client) OpenAccount(ctx context.Context, authorizerToken, authorizerAppID string) (string, error) {
	var out openAccountResponse
	if err := c.openAccountCall(ctx, EndpointOpenGet, authorizerToken, map[string]string{"appid": authorizerAppID}, &out); err != nil {
		return "", err
	}
	return out.OpenAppID, nil
}

var _ core.PlatformClient = (*Client)(nil)
