package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-wxopen/core"
)

var (
	_ gocmd.Querier[ComponentAccessTokenMessage, string]            = (*ComponentAccessTokenQuery)(nil)
	_ gocmd.Querier[AuthorizerAccessTokenMessage, string]           = (*AuthorizerAccessTokenQuery)(nil)
	_ gocmd.Querier[JSAPIConfigMessage, core.JSAPIConfig]           = (*JSAPIConfigQuery)(nil)
	_ gocmd.Querier[AuthorizationURLMessage, string]                = (*AuthorizationURLQuery)(nil)
	_ gocmd.Querier[ComponentStatusMessage, []core.ComponentStatus] = (*ComponentStatusQuery)(nil)
	_ TokenReader                                                   = (*core.Service)(nil)
	_ JSAPIConfigReader                                             = (*core.Service)(nil)
	_ AuthorizationURLReader                                        = (*core.Service)(nil)
	_ StatusReader                                                  = (*core.Service)(nil)
)
