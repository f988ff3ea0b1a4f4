package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-wxopen/core"
)

// MutatingService is the part of core.Service the commands drive.
type MutatingService interface {
	AddAuthorizer(ctx context.Context, componentAppID string, spec core.AuthorizerSpec) (*core.AuthorizerAgent, error)
	RemoveAuthorizer(ctx context.Context, componentAppID, authorizerAppID string) (bool, error)
	RefreshComponentAccessToken(ctx context.Context, componentAppID string) (string, error)
	RefreshAuthorizerAccessToken(ctx context.Context, componentAppID, authorizerAppID string) (string, error)
	HandleNotification(ctx context.Context, componentAppID string, n core.Notification) error
}

type AddAuthorizerResult struct {
	ComponentAppID  string
	AuthorizerAppID string
	State           core.AuthorizerState
}

type RemoveAuthorizerResult struct {
	Removed bool
}

type AddAuthorizerCommand struct {
	service MutatingService
}

func NewAddAuthorizerCommand(service MutatingService) *AddAuthorizerCommand {
	return &AddAuthorizerCommand{service: service}
}

func (c *AddAuthorizerCommand) Execute(ctx context.Context, msg AddAuthorizerMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: authorizer service is required")
	}
	agent, err := c.service.AddAuthorizer(ctx, msg.ComponentAppID, core.AuthorizerSpec{
		AppID:             msg.AuthorizerAppID,
		AuthorizationCode: msg.AuthorizationCode,
		RefreshToken:      msg.RefreshToken,
	})
	if err != nil {
		return err
	}
	storeResult(ctx, AddAuthorizerResult{
		ComponentAppID:  agent.ComponentAppID(),
		AuthorizerAppID: agent.AppID(),
		State:           agent.State(),
	})
	return nil
}

type RemoveAuthorizerCommand struct {
	service MutatingService
}

func NewRemoveAuthorizerCommand(service MutatingService) *RemoveAuthorizerCommand {
	return &RemoveAuthorizerCommand{service: service}
}

func (c *RemoveAuthorizerCommand) Execute(ctx context.Context, msg RemoveAuthorizerMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: authorizer service is required")
	}
	removed, err := c.service.RemoveAuthorizer(ctx, msg.ComponentAppID, msg.AuthorizerAppID)
	if err != nil {
		return err
	}
	storeResult(ctx, RemoveAuthorizerResult{Removed: removed})
	return nil
}

type RefreshComponentTokenCommand struct {
	service MutatingService
}

func NewRefreshComponentTokenCommand(service MutatingService) *RefreshComponentTokenCommand {
	return &RefreshComponentTokenCommand{service: service}
}

func (c *RefreshComponentTokenCommand) Execute(ctx context.Context, msg RefreshComponentTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	_, err := c.service.RefreshComponentAccessToken(ctx, msg.ComponentAppID)
	return err
}

type RefreshAuthorizerTokenCommand struct {
	service MutatingService
}

func NewRefreshAuthorizerTokenCommand(service MutatingService) *RefreshAuthorizerTokenCommand {
	return &RefreshAuthorizerTokenCommand{service: service}
}

func (c *RefreshAuthorizerTokenCommand) Execute(ctx context.Context, msg RefreshAuthorizerTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	_, err := c.service.RefreshAuthorizerAccessToken(ctx, msg.ComponentAppID, msg.AuthorizerAppID)
	return err
}

type HandleNotificationCommand struct {
	service MutatingService
}

func NewHandleNotificationCommand(service MutatingService) *HandleNotificationCommand {
	return &HandleNotificationCommand{service: service}
}

func (c *HandleNotificationCommand) Execute(ctx context.Context, msg HandleNotificationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: notification service is required")
	}
	return c.service.HandleNotification(ctx, msg.ComponentAppID, msg.Notification)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
