package wxopen

import (
	"context"
	"testing"

	wxcommand "github.com/goliatone/go-wxopen/command"
	"github.com/goliatone/go-wxopen/core"
	"github.com/goliatone/go-wxopen/providers/devkit"
	wxquery "github.com/goliatone/go-wxopen/query"
)

func TestNewFacade_RequiresService(t *testing.T) {
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected missing service error")
	}
	var facade *Facade
	if facade.Commands().AddAuthorizer != nil || facade.Service() != nil {
		t.Fatalf("expected nil facade to expose empty handlers")
	}
}

func TestSetup_WiresFacadeAndWebhooks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Authorizers.SkipBootstrap = true
	cfg.Webhook.VerifySignature = true
	cfg.Components = []ComponentConfig{{
		AppID:          "wxcomponent",
		AppSecret:      "secret",
		Token:          "token",
		EncodingAESKey: "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFG",
	}}
	client := devkit.NewFakePlatformClient()
	runtime, err := Setup(cfg, WithClient(client))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(runtime.Service.Stop)
	if runtime.Router == nil || runtime.Handler == nil {
		t.Fatalf("expected webhook router and handler")
	}
	component, err := runtime.Service.Component("wxcomponent")
	if err != nil {
		t.Fatalf("component: %v", err)
	}
	if component.Crypter() == nil {
		t.Fatalf("expected message crypter from the setup factory")
	}

	ctx := context.Background()
	if err := runtime.Service.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	commands := runtime.Facade.Commands()
	if err := commands.HandleNotification.Execute(ctx, wxcommand.HandleNotificationMessage{
		ComponentAppID: "wxcomponent",
		Notification: core.Notification{
			AppID:                 "wxcomponent",
			InfoType:              core.InfoTypeVerifyTicket,
			ComponentVerifyTicket: "ticket-facade",
		},
	}); err != nil {
		t.Fatalf("handle notification: %v", err)
	}
	token, err := runtime.Facade.Queries().ComponentAccessToken.Query(ctx, wxquery.ComponentAccessTokenMessage{ComponentAppID: "wxcomponent"})
	if err != nil {
		t.Fatalf("component token: %v", err)
	}
	if token == "" || client.Last("component_token") != "ticket-facade" {
		t.Fatalf("expected token fetched with the facade ticket, got %q / %q", token, client.Last("component_token"))
	}
}

func TestSetup_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Components = []ComponentConfig{{AppID: "wxcomponent"}}
	if _, err := Setup(cfg, WithClient(devkit.NewFakePlatformClient())); err == nil {
		t.Fatalf("expected invalid component config to fail setup")
	}
}

func TestMessageCrypterFactory_RoundTrip(t *testing.T) {
	crypter, err := MessageCrypterFactory()(core.ComponentConfig{
		AppID:          "wxcomponent",
		Token:          "token",
		EncodingAESKey: "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFG",
	})
	if err != nil {
		t.Fatalf("crypter: %v", err)
	}
	encrypted, err := crypter.Encrypt([]byte("<xml/>"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	plaintext, err := crypter.Decrypt(encrypted)
	if err != nil || string(plaintext) != "<xml/>" {
		t.Fatalf("round trip: %q %v", plaintext, err)
	}
	if _, err := MessageCrypterFactory()(core.ComponentConfig{AppID: "wx", EncodingAESKey: "short"}); err == nil {
		t.Fatalf("expected short key to fail")
	}
}
