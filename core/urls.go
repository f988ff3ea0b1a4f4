package core

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	OAuthAuthorizeEndpoint     = "https://open.weixin.qq.com/connect/oauth2/authorize"
	ComponentLoginPageEndpoint = "https://mp.weixin.qq.com/cgi-bin/componentloginpage"

	ScopeBase     = "snsapi_base"
	ScopeUserInfo = "snsapi_userinfo"
)

type OAuthURLRequest struct {
	AuthorizerAppID string
	RedirectURI     string
	Scope           string
	State           string
}

// OAuthURL builds the web authorization URL on behalf of an authorizer. The
// query keys keep the fixed order the platform documents.
func OAuthURL(componentAppID string, req OAuthURLRequest) string {
	scope := strings.TrimSpace(req.Scope)
	if scope == "" {
		scope = ScopeBase
	}
	var b strings.Builder
	b.WriteString(OAuthAuthorizeEndpoint)
	b.WriteString("?appid=")
	b.WriteString(req.AuthorizerAppID)
	b.WriteString("&redirect_uri=")
	b.WriteString(url.QueryEscape(req.RedirectURI))
	b.WriteString("&response_type=code&scope=")
	b.WriteString(scope)
	b.WriteString("&state=")
	b.WriteString(req.State)
	b.WriteString("&component_appid=")
	b.WriteString(componentAppID)
	b.WriteString("#wechat_redirect")
	return b.String()
}

// AuthorizationURL builds the page an account administrator visits to grant
// the component access.
func AuthorizationURL(componentAppID, preAuthCode, redirectURI string) string {
	var b strings.Builder
	b.WriteString(ComponentLoginPageEndpoint)
	b.WriteString("?component_appid=")
	b.WriteString(componentAppID)
	b.WriteString("&pre_auth_code=")
	b.WriteString(preAuthCode)
	b.WriteString("&redirect_uri=")
	b.WriteString(url.QueryEscape(redirectURI))
	return b.String()
}

type JSAPIConfig struct {
	AppID     string `json:"appId"`
	Timestamp int64  `json:"timestamp"`
	NonceStr  string `json:"nonceStr"`
	Signature string `json:"signature"`
}

// SignJSAPI signs a page URL with a JS-API ticket. The URL fragment is not
// part of the signature.
func SignJSAPI(ticket, nonce string, timestamp int64, pageURL string) string {
	if idx := strings.Index(pageURL, "#"); idx >= 0 {
		pageURL = pageURL[:idx]
	}
	pairs := []string{
		"noncestr=" + nonce,
		"timestamp=" + strconv.FormatInt(timestamp, 10),
		"url=" + pageURL,
		"jsapi_ticket=" + ticket,
	}
	sort.Strings(pairs)
	sum := sha1.Sum([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(sum[:])
}

func newNonce() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
