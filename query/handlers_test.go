package query

import (
	"context"
	"net/http"
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-wxopen/core"
)

type stubReader struct {
	token    string
	statuses []core.ComponentStatus
	calls    []string
}

func (s *stubReader) ComponentAccessToken(_ context.Context, componentAppID string) (string, error) {
	s.calls = append(s.calls, "component:"+componentAppID)
	return s.token, nil
}

func (s *stubReader) AuthorizerAccessToken(_ context.Context, componentAppID, authorizerAppID string) (string, error) {
	s.calls = append(s.calls, "authorizer:"+componentAppID+"/"+authorizerAppID)
	return s.token, nil
}

func (s *stubReader) JSAPIConfig(_ context.Context, _, authorizerAppID, pageURL string) (core.JSAPIConfig, error) {
	s.calls = append(s.calls, "jsapi:"+pageURL)
	return core.JSAPIConfig{AppID: authorizerAppID, Signature: "sig"}, nil
}

func (s *stubReader) AuthorizationURL(_ context.Context, componentAppID, redirectURI string) (string, error) {
	return "https://mp.weixin.qq.com/cgi-bin/componentloginpage?component_appid=" + componentAppID + "&redirect_uri=" + redirectURI, nil
}

func (s *stubReader) ComponentStatus(componentAppID string) (core.ComponentStatus, error) {
	for _, status := range s.statuses {
		if status.AppID == componentAppID {
			return status, nil
		}
	}
	return core.ComponentStatus{}, core.UnknownTenantError(componentAppID)
}

func (s *stubReader) ComponentStatuses() []core.ComponentStatus {
	return s.statuses
}

func TestTokenQueries_ForwardToReader(t *testing.T) {
	reader := &stubReader{token: "token-1"}
	ctx := context.Background()

	token, err := NewComponentAccessTokenQuery(reader).Query(ctx, ComponentAccessTokenMessage{ComponentAppID: "wxcomponent"})
	if err != nil || token != "token-1" {
		t.Fatalf("component token: %q %v", token, err)
	}
	token, err = NewAuthorizerAccessTokenQuery(reader).Query(ctx, AuthorizerAccessTokenMessage{
		ComponentAppID:  "wxcomponent",
		AuthorizerAppID: "wxauth",
	})
	if err != nil || token != "token-1" {
		t.Fatalf("authorizer token: %q %v", token, err)
	}
	if len(reader.calls) != 2 || reader.calls[1] != "authorizer:wxcomponent/wxauth" {
		t.Fatalf("unexpected reader calls %v", reader.calls)
	}
}

func TestJSAPIConfigQuery_RequiresPageURL(t *testing.T) {
	reader := &stubReader{}
	_, err := NewJSAPIConfigQuery(reader).Query(context.Background(), JSAPIConfigMessage{
		ComponentAppID:  "wxcomponent",
		AuthorizerAppID: "wxauth",
	})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Code != http.StatusBadRequest || rich.TextCode != core.ErrorBadInput {
		t.Fatalf("unexpected envelope %d/%q", rich.Code, rich.TextCode)
	}
	if fields := rich.AllValidationErrors(); len(fields) == 0 || fields[0].Field != "page_url" {
		t.Fatalf("expected page_url validation field, got %+v", fields)
	}
	if len(reader.calls) != 0 {
		t.Fatalf("expected reader not to be called, got %v", reader.calls)
	}

	cfg, err := NewJSAPIConfigQuery(reader).Query(context.Background(), JSAPIConfigMessage{
		ComponentAppID:  "wxcomponent",
		AuthorizerAppID: "wxauth",
		PageURL:         "https://example.com/page",
	})
	if err != nil {
		t.Fatalf("jsapi config: %v", err)
	}
	if cfg.AppID != "wxauth" || cfg.Signature != "sig" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestAuthorizationURLQuery(t *testing.T) {
	target, err := NewAuthorizationURLQuery(&stubReader{}).Query(context.Background(), AuthorizationURLMessage{
		ComponentAppID: "wxcomponent",
		RedirectURI:    "https://example.com/cb",
	})
	if err != nil {
		t.Fatalf("authorization url: %v", err)
	}
	if !strings.Contains(target, "component_appid=wxcomponent") {
		t.Fatalf("unexpected url %q", target)
	}
}

func TestComponentStatusQuery_SelectsOneOrAll(t *testing.T) {
	reader := &stubReader{statuses: []core.ComponentStatus{
		{AppID: "wxa", State: core.ComponentActive},
		{AppID: "wxb", State: core.ComponentAwaitingVerifyTicket},
	}}
	q := NewComponentStatusQuery(reader)

	all, err := q.Query(context.Background(), ComponentStatusMessage{})
	if err != nil || len(all) != 2 {
		t.Fatalf("expected all statuses, got %+v %v", all, err)
	}
	one, err := q.Query(context.Background(), ComponentStatusMessage{ComponentAppID: "wxb"})
	if err != nil || len(one) != 1 || one[0].State != core.ComponentAwaitingVerifyTicket {
		t.Fatalf("expected wxb status, got %+v %v", one, err)
	}
	if _, err := q.Query(context.Background(), ComponentStatusMessage{ComponentAppID: "wxmissing"}); !core.IsUnknownTenant(err) {
		t.Fatalf("expected unknown tenant, got %v", err)
	}
}
