package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ Scheduler = SystemScheduler{}
	_ Event     = AuthorizationEvent{}
	_ Event     = ComponentTokenEvent{}
	_ Event     = AuthorizerTokenEvent{}
	_ Event     = AuthorizerTicketEvent{}
	_ Event     = AuthorizersLoadedEvent{}
	_ Event     = ErrorEvent{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
