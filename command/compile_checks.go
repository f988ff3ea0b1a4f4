package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-wxopen/core"
)

var (
	_ gocmd.Commander[AddAuthorizerMessage]          = (*AddAuthorizerCommand)(nil)
	_ gocmd.Commander[RemoveAuthorizerMessage]       = (*RemoveAuthorizerCommand)(nil)
	_ gocmd.Commander[RefreshComponentTokenMessage]  = (*RefreshComponentTokenCommand)(nil)
	_ gocmd.Commander[RefreshAuthorizerTokenMessage] = (*RefreshAuthorizerTokenCommand)(nil)
	_ gocmd.Commander[HandleNotificationMessage]     = (*HandleNotificationCommand)(nil)
	_ MutatingService                                = (*core.Service)(nil)
)
