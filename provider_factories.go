package wxopen

import (
	"github.com/goliatone/go-wxopen/core"
	"github.com/goliatone/go-wxopen/providers/wechat"
	"github.com/goliatone/go-wxopen/ratelimit"
	"github.com/goliatone/go-wxopen/security"
	"github.com/goliatone/go-wxopen/transport"
)

// NewPlatformClient builds the open platform API client from the service API
// settings. A nil store keeps throttle state in memory.
func NewPlatformClient(api core.APIConfig, store ratelimit.StateStore, doer transport.HTTPDoer, logger core.Logger) *wechat.Client {
	cfg := wechat.ConfigFromAPI(api)
	return wechat.New(cfg,
		wechat.WithHTTPClient(doer),
		wechat.WithPolicy(ratelimit.NewAdaptivePolicy(store, cfg.RatePerSecond, cfg.Burst)),
		wechat.WithLogger(logger),
	)
}

// MessageCrypterFactory builds the platform message crypter for a component.
func MessageCrypterFactory() core.CrypterFactory {
	return func(component core.ComponentConfig) (core.MessageCrypter, error) {
		crypter, err := security.NewMessageCrypter(component.Token, component.EncodingAESKey, component.AppID)
		if err != nil {
			return nil, err
		}
		return crypter, nil
	}
}
