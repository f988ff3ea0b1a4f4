package command

import (
	"strings"

	"github.com/goliatone/go-wxopen/core"
)

const (
	TypeAddAuthorizer          = "wxopen.command.authorizer.add"
	TypeRemoveAuthorizer       = "wxopen.command.authorizer.remove"
	TypeRefreshAuthorizerToken = "wxopen.command.authorizer.refresh"
	TypeRefreshComponentToken  = "wxopen.command.component.refresh"
	TypeHandleNotification     = "wxopen.command.notification.handle"
)

type AddAuthorizerMessage struct {
	ComponentAppID    string
	AuthorizerAppID   string
	AuthorizationCode string
	RefreshToken      string
}

func (AddAuthorizerMessage) Type() string { return TypeAddAuthorizer }

func (m AddAuthorizerMessage) Validate() error {
	if err := requireField("component_app_id", m.ComponentAppID); err != nil {
		return err
	}
	if err := requireField("authorizer_app_id", m.AuthorizerAppID); err != nil {
		return err
	}
	if strings.TrimSpace(m.AuthorizationCode) == "" && strings.TrimSpace(m.RefreshToken) == "" {
		return commandValidationError("authorization_code", "authorization code or refresh token is required")
	}
	return nil
}

type RemoveAuthorizerMessage struct {
	ComponentAppID  string
	AuthorizerAppID string
}

func (RemoveAuthorizerMessage) Type() string { return TypeRemoveAuthorizer }

func (m RemoveAuthorizerMessage) Validate() error {
	if err := requireField("component_app_id", m.ComponentAppID); err != nil {
		return err
	}
	return requireField("authorizer_app_id", m.AuthorizerAppID)
}

type RefreshComponentTokenMessage struct {
	ComponentAppID string
}

func (RefreshComponentTokenMessage) Type() string { return TypeRefreshComponentToken }

func (m RefreshComponentTokenMessage) Validate() error {
	return requireField("component_app_id", m.ComponentAppID)
}

type RefreshAuthorizerTokenMessage struct {
	ComponentAppID  string
	AuthorizerAppID string
}

func (RefreshAuthorizerTokenMessage) Type() string { return TypeRefreshAuthorizerToken }

func (m RefreshAuthorizerTokenMessage) Validate() error {
	if err := requireField("component_app_id", m.ComponentAppID); err != nil {
		return err
	}
	return requireField("authorizer_app_id", m.AuthorizerAppID)
}

// HandleNotificationMessage carries an already decrypted notification, for
// example one replayed from a queue.
type HandleNotificationMessage struct {
	ComponentAppID string
	Notification   core.Notification
}

func (HandleNotificationMessage) Type() string { return TypeHandleNotification }

func (m HandleNotificationMessage) Validate() error {
	if err := requireField("component_app_id", m.ComponentAppID); err != nil {
		return err
	}
	if err := requireField("info_type", string(m.Notification.InfoType)); err != nil {
		return err
	}
	return commandWrapValidation(m.Notification.Validate(), "command: invalid notification")
}

func requireField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return commandValidationError(field, field+" is required")
	}
	return nil
}
