package core

import (
	"fmt"
	"strings"
	"time"
)

type ComponentConfig struct {
	AppID          string `koanf:"app_id" mapstructure:"app_id"`
	AppSecret      string `koanf:"app_secret" mapstructure:"app_secret"`
	Token          string `koanf:"token" mapstructure:"token"`
	EncodingAESKey string `koanf:"encoding_aes_key" mapstructure:"encoding_aes_key"`
	Host           string `koanf:"host" mapstructure:"host"`
}

func (c ComponentConfig) Validate() error {
	if strings.TrimSpace(c.AppID) == "" {
		return fmt.Errorf("core: component app_id is required")
	}
	if strings.TrimSpace(c.AppSecret) == "" {
		return fmt.Errorf("core: component %s app_secret is required", c.AppID)
	}
	if key := strings.TrimSpace(c.EncodingAESKey); key != "" && len(key) != 43 {
		return fmt.Errorf("core: component %s encoding_aes_key must be 43 characters", c.AppID)
	}
	return nil
}

type RenewalConfig struct {
	MarginSeconds     int `koanf:"margin_seconds" mapstructure:"margin_seconds"`
	RetryDelaySeconds int `koanf:"retry_delay_seconds" mapstructure:"retry_delay_seconds"`
}

func (c RenewalConfig) Margin() time.Duration {
	return time.Duration(c.MarginSeconds) * time.Second
}

func (c RenewalConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// AuthorizersConfig controls loading the authorizer list when a component
// gets its first access token.
type AuthorizersConfig struct {
	SkipBootstrap bool `koanf:"skip_bootstrap" mapstructure:"skip_bootstrap"`
	PageSize      int  `koanf:"page_size" mapstructure:"page_size"`
}

type WebhookConfig struct {
	MaxBodyBytes        int64 `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
	DedupeWindowSeconds int   `koanf:"dedupe_window_seconds" mapstructure:"dedupe_window_seconds"`
	VerifySignature     bool  `koanf:"verify_signature" mapstructure:"verify_signature"`
}

type APIConfig struct {
	BaseURL        string  `koanf:"base_url" mapstructure:"base_url"`
	TimeoutSeconds int     `koanf:"timeout_seconds" mapstructure:"timeout_seconds"`
	RatePerSecond  float64 `koanf:"rate_per_second" mapstructure:"rate_per_second"`
	Burst          int     `koanf:"burst" mapstructure:"burst"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name"`
	Renewal     RenewalConfig     `koanf:"renewal" mapstructure:"renewal"`
	Authorizers AuthorizersConfig `koanf:"authorizers" mapstructure:"authorizers"`
	Webhook     WebhookConfig     `koanf:"webhook" mapstructure:"webhook"`
	API         APIConfig         `koanf:"api" mapstructure:"api"`
	Components  []ComponentConfig `koanf:"components" mapstructure:"components"`
}

const maxAuthorizerPageSize = 500

func DefaultConfig() Config {
	return Config{
		ServiceName: "wxopen",
		Renewal: RenewalConfig{
			MarginSeconds:     int(DefaultRenewalMargin / time.Second),
			RetryDelaySeconds: int(DefaultRetryDelay / time.Second),
		},
		Authorizers: AuthorizersConfig{
			PageSize: maxAuthorizerPageSize,
		},
		Webhook: WebhookConfig{
			MaxBodyBytes:        1 << 20,
			DedupeWindowSeconds: 15,
		},
		API: APIConfig{
			BaseURL:        "https://api.weixin.qq.com",
			TimeoutSeconds: 10,
			RatePerSecond:  5,
			Burst:          10,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Renewal.MarginSeconds <= 0 {
		return fmt.Errorf("core: renewal.margin_seconds must be positive")
	}
	if c.Renewal.RetryDelaySeconds <= 0 {
		return fmt.Errorf("core: renewal.retry_delay_seconds must be positive")
	}
	if c.Authorizers.PageSize <= 0 || c.Authorizers.PageSize > maxAuthorizerPageSize {
		return fmt.Errorf("core: authorizers.page_size must be between 1 and %d", maxAuthorizerPageSize)
	}
	seen := map[string]struct{}{}
	for _, component := range c.Components {
		if err := component.Validate(); err != nil {
			return err
		}
		appID := strings.TrimSpace(component.AppID)
		if _, ok := seen[appID]; ok {
			return fmt.Errorf("core: component %s is configured twice", appID)
		}
		seen[appID] = struct{}{}
	}
	return nil
}
