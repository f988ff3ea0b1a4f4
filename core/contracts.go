package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type ComponentTokenRequest struct {
	ComponentAppID        string
	ComponentAppSecret    string
	ComponentVerifyTicket string
}

type AuthorizerGrant struct {
	AuthorizerAppID string
	AccessToken     string
	RefreshToken    string
	ExpiresIn       time.Duration
	FuncInfo        []int
}

type AuthorizerListItem struct {
	AuthorizerAppID string
	RefreshToken    string
	AuthTime        time.Time
}

type AuthorizerPage struct {
	TotalCount int
	Items      []AuthorizerListItem
}

type AuthorizerInfo struct {
	AuthorizerAppID string
	NickName        string
	HeadImg         string
	UserName        string
	PrincipalName   string
	Alias           string
	QRCodeURL       string
	Signature       string
	ServiceType     int
	VerifyType      int
	FuncInfo        []int
	Raw             map[string]any
}

type AuthorizerOption struct {
	AuthorizerAppID string
	OptionName      string
	OptionValue     string
}

type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	OpenID       string
	UnionID      string
	Scope        string
	ExpiresIn    time.Duration
}

type UserInfo struct {
	OpenID     string
	UnionID    string
	Nickname   string
	Sex        int
	Province   string
	City       string
	Country    string
	HeadImgURL string
	Privilege  []string
}

// PlatformClient performs the authenticated calls against the open platform.
// Implementations map a non-zero errcode to RemoteAPIError and transport
// failures to NetworkError.
type PlatformClient interface {
	ComponentAccessToken(ctx context.Context, req ComponentTokenRequest) (Grant, error)
	PreAuthCode(ctx context.Context, componentAppID, componentToken string) (Grant, error)
	QueryAuth(ctx context.Context, componentAppID, componentToken, authorizationCode string) (AuthorizerGrant, error)
	RefreshAuthorizerToken(ctx context.Context, componentAppID, componentToken, authorizerAppID, refreshToken string) (AuthorizerGrant, error)
	JSAPITicket(ctx context.Context, authorizerToken string) (Grant, error)
	ListAuthorizers(ctx context.Context, componentAppID, componentToken string, offset, count int) (AuthorizerPage, error)
	AuthorizerInfo(ctx context.Context, componentAppID, componentToken, authorizerAppID string) (AuthorizerInfo, error)
	AuthorizerOption(ctx context.Context, componentAppID, componentToken, authorizerAppID, optionName string) (AuthorizerOption, error)
	SetAuthorizerOption(ctx context.Context, componentAppID, componentToken string, option AuthorizerOption) error
	OAuthAccessToken(ctx context.Context, componentAppID, componentToken, authorizerAppID, code string) (OAuthToken, error)
	UserInfo(ctx context.Context, accessToken, openID string) (UserInfo, error)
	CreateOpenAccount(ctx context.Context, authorizerToken, authorizerAppID string) (string, error)
	BindOpenAccount(ctx context.Context, authorizerToken, authorizerAppID, openAppID string) error
	UnbindOpenAccount(ctx context.Context, authorizerToken, authorizerAppID, openAppID string) error
	OpenAccount(ctx context.Context, authorizerToken, authorizerAppID string) (string, error)
}

// MessageCrypter decodes and encodes the encrypted notification payloads of
// one component.
type MessageCrypter interface {
	Decrypt(encrypted string) ([]byte, error)
	Encrypt(message []byte) (string, error)
	Signature(timestamp, nonce, encrypted string) string
}

type CrypterFactory func(component ComponentConfig) (MessageCrypter, error)

type StoredComponent struct {
	ComponentAppID       string
	VerifyTicket         string
	AccessToken          string
	AccessTokenExpiresAt time.Time
}

type StoredAuthorizer struct {
	ComponentAppID       string
	AuthorizerAppID      string
	AccessToken          string
	RefreshToken         string
	AccessTokenExpiresAt time.Time
}

// CredentialStore persists credentials emitted on the event bus and restores
// them at startup. The manager itself keeps everything in memory.
type CredentialStore interface {
	SaveVerifyTicket(ctx context.Context, componentAppID, ticket string, receivedAt time.Time) error
	SaveComponentToken(ctx context.Context, componentAppID, token string, expiresAt time.Time) error
	SaveAuthorizer(ctx context.Context, record StoredAuthorizer) error
	DeleteAuthorizer(ctx context.Context, componentAppID, authorizerAppID string) error
	LoadComponent(ctx context.Context, componentAppID string) (StoredComponent, bool, error)
	ListAuthorizers(ctx context.Context, componentAppID string) ([]StoredAuthorizer, error)
}
