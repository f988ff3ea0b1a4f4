package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// AttachCredentialStore persists credential events as they are published and
// returns a function that detaches the store.
func AttachCredentialStore(bus *EventBus, store CredentialStore, logger Logger) func() {
	if bus == nil || store == nil {
		return func() {}
	}
	logger = glog.Ensure(logger)
	report := func(ctx context.Context, operation string, componentAppID string, err error) {
		if err == nil {
			return
		}
		logger.Error("credential store "+operation+" failed",
			"component_app_id", componentAppID,
			"error", err.Error(),
		)
		bus.Publish(ctx, ErrorEvent{ComponentAppID: componentAppID, Operation: "store_" + operation, Err: err})
	}

	unsubscribers := []func(){
		On(bus, func(ctx context.Context, event AuthorizationEvent) {
			switch event.Kind {
			case InfoTypeVerifyTicket:
				receivedAt := event.CreateTime
				if receivedAt.IsZero() {
					receivedAt = time.Now().UTC()
				}
				report(ctx, "save_verify_ticket", event.ComponentAppID,
					store.SaveVerifyTicket(ctx, event.ComponentAppID, event.VerifyTicket, receivedAt))
			case InfoTypeUnauthorized:
				report(ctx, "delete_authorizer", event.ComponentAppID,
					store.DeleteAuthorizer(ctx, event.ComponentAppID, event.AuthorizerAppID))
			}
		}),
		On(bus, func(ctx context.Context, event ComponentTokenEvent) {
			report(ctx, "save_component_token", event.ComponentAppID,
				store.SaveComponentToken(ctx, event.ComponentAppID, event.AccessToken, event.ExpiresAt))
		}),
		On(bus, func(ctx context.Context, event AuthorizerTokenEvent) {
			report(ctx, "save_authorizer", event.ComponentAppID, store.SaveAuthorizer(ctx, StoredAuthorizer{
				ComponentAppID:       event.ComponentAppID,
				AuthorizerAppID:      event.AuthorizerAppID,
				AccessToken:          event.AccessToken,
				RefreshToken:         event.RefreshToken,
				AccessTokenExpiresAt: event.ExpiresAt,
			}))
		}),
	}
	return func() {
		for _, unsubscribe := range unsubscribers {
			unsubscribe()
		}
	}
}
