package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-wxopen/core"
)

type TokenReader interface {
	ComponentAccessToken(ctx context.Context, componentAppID string) (string, error)
	AuthorizerAccessToken(ctx context.Context, componentAppID, authorizerAppID string) (string, error)
}

type JSAPIConfigReader interface {
	JSAPIConfig(ctx context.Context, componentAppID, authorizerAppID, pageURL string) (core.JSAPIConfig, error)
}

type AuthorizationURLReader interface {
	AuthorizationURL(ctx context.Context, componentAppID, redirectURI string) (string, error)
}

type StatusReader interface {
	ComponentStatus(componentAppID string) (core.ComponentStatus, error)
	ComponentStatuses() []core.ComponentStatus
}

type ComponentAccessTokenQuery struct {
	reader TokenReader
}

func NewComponentAccessTokenQuery(reader TokenReader) *ComponentAccessTokenQuery {
	return &ComponentAccessTokenQuery{reader: reader}
}

func (q *ComponentAccessTokenQuery) Query(ctx context.Context, msg ComponentAccessTokenMessage) (string, error) {
	if q == nil || q.reader == nil {
		return "", queryDependencyError("query: token reader is required")
	}
	if err := msg.Validate(); err != nil {
		return "", err
	}
	return q.reader.ComponentAccessToken(ctx, msg.ComponentAppID)
}

type AuthorizerAccessTokenQuery struct {
	reader TokenReader
}

func NewAuthorizerAccessTokenQuery(reader TokenReader) *AuthorizerAccessTokenQuery {
	return &AuthorizerAccessTokenQuery{reader: reader}
}

func (q *AuthorizerAccessTokenQuery) Query(ctx context.Context, msg AuthorizerAccessTokenMessage) (string, error) {
	if q == nil || q.reader == nil {
		return "", queryDependencyError("query: token reader is required")
	}
	if err := msg.Validate(); err != nil {
		return "", err
	}
	return q.reader.AuthorizerAccessToken(ctx, msg.ComponentAppID, msg.AuthorizerAppID)
}

type JSAPIConfigQuery struct {
	reader JSAPIConfigReader
}

func NewJSAPIConfigQuery(reader JSAPIConfigReader) *JSAPIConfigQuery {
	return &JSAPIConfigQuery{reader: reader}
}

func (q *JSAPIConfigQuery) Query(ctx context.Context, msg JSAPIConfigMessage) (core.JSAPIConfig, error) {
	if q == nil || q.reader == nil {
		return core.JSAPIConfig{}, queryDependencyError("query: jsapi config reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.JSAPIConfig{}, err
	}
	return q.reader.JSAPIConfig(ctx, msg.ComponentAppID, msg.AuthorizerAppID, msg.PageURL)
}

type AuthorizationURLQuery struct {
	reader AuthorizationURLReader
}

func NewAuthorizationURLQuery(reader AuthorizationURLReader) *AuthorizationURLQuery {
	return &AuthorizationURLQuery{reader: reader}
}

func (q *AuthorizationURLQuery) Query(ctx context.Context, msg AuthorizationURLMessage) (string, error) {
	if q == nil || q.reader == nil {
		return "", queryDependencyError("query: authorization url reader is required")
	}
	if err := msg.Validate(); err != nil {
		return "", err
	}
	return q.reader.AuthorizationURL(ctx, msg.ComponentAppID, msg.RedirectURI)
}

type ComponentStatusQuery struct {
	reader StatusReader
}

func NewComponentStatusQuery(reader StatusReader) *ComponentStatusQuery {
	return &ComponentStatusQuery{reader: reader}
}

func (q *ComponentStatusQuery) Query(_ context.Context, msg ComponentStatusMessage) ([]core.ComponentStatus, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: status reader is required")
	}
	componentAppID := strings.TrimSpace(msg.ComponentAppID)
	if componentAppID == "" {
		return q.reader.ComponentStatuses(), nil
	}
	status, err := q.reader.ComponentStatus(componentAppID)
	if err != nil {
		return nil, err
	}
	return []core.ComponentStatus{status}, nil
}
