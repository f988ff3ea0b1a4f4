package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-wxopen/core"
)

// processConfig holds the settings that live outside core.Config.
type processConfig struct {
	HTTPAddr        string
	DatabaseDriver  string
	DatabaseURL     string
	TokenKey        string
	LogLevel        string
	ShutdownTimeout time.Duration
}

func loadProcessConfig() processConfig {
	return processConfig{
		HTTPAddr:        envOr("HTTP_ADDR", ":8080"),
		DatabaseDriver:  strings.ToLower(envOr("DATABASE_DRIVER", "sqlite3")),
		DatabaseURL:     envOr("DATABASE_URL", "file:wxopen.db?cache=shared&_fk=1"),
		TokenKey:        os.Getenv("WXOPEN_TOKEN_KEY"),
		LogLevel:        strings.ToLower(envOr("LOG_LEVEL", "info")),
		ShutdownTimeout: time.Duration(envInt("SHUTDOWN_TIMEOUT_SECONDS", 15)) * time.Second,
	}
}

// envConfigLoader maps WXOPEN_* variables onto the raw config tree read by
// core.CfgxConfigProvider. A single component is configured through
// WXOPEN_APP_ID and friends.
type envConfigLoader struct {
	lookup func(string) (string, bool)
}

func (l envConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	lookup := l.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	raw := map[string]any{}
	setString := func(section map[string]any, key, env string) {
		if value, ok := lookup(env); ok && strings.TrimSpace(value) != "" {
			section[key] = strings.TrimSpace(value)
		}
	}
	setInt := func(section map[string]any, key, env string) {
		if value, ok := lookup(env); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				section[key] = n
			}
		}
	}
	setFloat := func(section map[string]any, key, env string) {
		if value, ok := lookup(env); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
				section[key] = f
			}
		}
	}
	setBool := func(section map[string]any, key, env string) {
		if value, ok := lookup(env); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
				section[key] = b
			}
		}
	}

	setString(raw, "service_name", "WXOPEN_SERVICE_NAME")

	renewal := map[string]any{}
	setInt(renewal, "margin_seconds", "WXOPEN_RENEWAL_MARGIN_SECONDS")
	setInt(renewal, "retry_delay_seconds", "WXOPEN_RENEWAL_RETRY_DELAY_SECONDS")

	authorizers := map[string]any{}
	setBool(authorizers, "skip_bootstrap", "WXOPEN_SKIP_AUTHORIZER_BOOTSTRAP")
	setInt(authorizers, "page_size", "WXOPEN_AUTHORIZER_PAGE_SIZE")

	webhook := map[string]any{}
	setInt(webhook, "max_body_bytes", "WXOPEN_WEBHOOK_MAX_BODY_BYTES")
	setInt(webhook, "dedupe_window_seconds", "WXOPEN_WEBHOOK_DEDUPE_WINDOW_SECONDS")
	setBool(webhook, "verify_signature", "WXOPEN_WEBHOOK_VERIFY_SIGNATURE")

	api := map[string]any{}
	setString(api, "base_url", "WXOPEN_API_BASE_URL")
	setInt(api, "timeout_seconds", "WXOPEN_API_TIMEOUT_SECONDS")
	setFloat(api, "rate_per_second", "WXOPEN_API_RATE_PER_SECOND")
	setInt(api, "burst", "WXOPEN_API_BURST")

	for key, section := range map[string]map[string]any{
		"renewal":     renewal,
		"authorizers": authorizers,
		"webhook":     webhook,
		"api":         api,
	} {
		if len(section) > 0 {
			raw[key] = section
		}
	}

	component := map[string]any{}
	setString(component, "app_id", "WXOPEN_APP_ID")
	setString(component, "app_secret", "WXOPEN_APP_SECRET")
	setString(component, "token", "WXOPEN_TOKEN")
	setString(component, "encoding_aes_key", "WXOPEN_ENCODING_AES_KEY")
	setString(component, "host", "WXOPEN_HOST")
	if _, ok := component["app_id"]; ok {
		raw["components"] = []any{component}
	}
	return raw, nil
}

var _ core.RawConfigLoader = envConfigLoader{}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
