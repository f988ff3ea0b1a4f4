package query

import "strings"

type ComponentAccessTokenMessage struct {
	ComponentAppID string
}

func (ComponentAccessTokenMessage) Type() string { return "wxopen.query.component.access_token" }

func (m ComponentAccessTokenMessage) Validate() error {
	return requireField("component_app_id", m.ComponentAppID)
}

type AuthorizerAccessTokenMessage struct {
	ComponentAppID  string
	AuthorizerAppID string
}

func (AuthorizerAccessTokenMessage) Type() string { return "wxopen.query.authorizer.access_token" }

func (m AuthorizerAccessTokenMessage) Validate() error {
	if err := requireField("component_app_id", m.ComponentAppID); err != nil {
		return err
	}
	return requireField("authorizer_app_id", m.AuthorizerAppID)
}

type JSAPIConfigMessage struct {
	ComponentAppID  string
	AuthorizerAppID string
	PageURL         string
}

func (JSAPIConfigMessage) Type() string { return "wxopen.query.authorizer.jsapi_config" }

func (m JSAPIConfigMessage) Validate() error {
	if err := requireField("component_app_id", m.ComponentAppID); err != nil {
		return err
	}
	if err := requireField("authorizer_app_id", m.AuthorizerAppID); err != nil {
		return err
	}
	return requireField("page_url", m.PageURL)
}

type AuthorizationURLMessage struct {
	ComponentAppID string
	RedirectURI    string
}

func (AuthorizationURLMessage) Type() string { return "wxopen.query.component.authorization_url" }

func (m AuthorizationURLMessage) Validate() error {
	if err := requireField("component_app_id", m.ComponentAppID); err != nil {
		return err
	}
	return requireField("redirect_uri", m.RedirectURI)
}

// ComponentStatusMessage selects one component, or all of them when
// ComponentAppID is blank.
type ComponentStatusMessage struct {
	ComponentAppID string
}

func (ComponentStatusMessage) Type() string { return "wxopen.query.component.status" }

func (ComponentStatusMessage) Validate() error { return nil }

func requireField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return queryValidationError(field, field+" is required")
	}
	return nil
}
