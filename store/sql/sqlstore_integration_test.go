package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-wxopen/core"
	wxmigrations "github.com/goliatone/go-wxopen/migrations"
	"github.com/goliatone/go-wxopen/providers/devkit"
	"github.com/goliatone/go-wxopen/ratelimit"
	"github.com/goliatone/go-wxopen/security"
	sqlstore "github.com/goliatone/go-wxopen/store/sql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-wxopen-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"wxopen_components", "wxopen_authorizers", "wxopen_rate_limit_states"} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestCredentialStore_Conformance(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	if err := devkit.ValidateCredentialStoreConformance(context.Background(), factory.CredentialStore(), "wxcomponent"); err != nil {
		t.Fatalf("conformance: %v", err)
	}
}

func TestCredentialStore_SealsTokensAtRest(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	cipher, err := security.NewTokenCipher([]byte("at-rest-key"))
	if err != nil {
		t.Fatalf("new token cipher: %v", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromDB(client.DB(), sqlstore.WithTokenSealer(cipher))
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.CredentialStore()
	if err := devkit.ValidateCredentialStoreConformance(ctx, store, "wxsealed"); err != nil {
		t.Fatalf("conformance with sealing: %v", err)
	}

	var raw string
	if err := client.DB().NewRaw(
		"SELECT refresh_token FROM wxopen_authorizers WHERE component_app_id = ? AND authorizer_app_id = ?",
		"wxsealed", "wxauth-b",
	).Scan(ctx, &raw); err != nil {
		t.Fatalf("read raw refresh token: %v", err)
	}
	if raw == "refresh-wxauth-b" || !strings.HasPrefix(raw, "wxopen.v1:") {
		t.Fatalf("expected sealed refresh token at rest, got %q", raw)
	}

	var rawToken string
	if err := client.DB().NewRaw(
		"SELECT access_token FROM wxopen_components WHERE component_app_id = ?", "wxsealed",
	).Scan(ctx, &rawToken); err != nil {
		t.Fatalf("read raw component token: %v", err)
	}
	if rawToken == "component-token" {
		t.Fatalf("expected sealed component token at rest")
	}
}

func TestCredentialStore_RestoresIntoService(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.CredentialStore()
	if err := store.SaveVerifyTicket(ctx, "wxcomponent", "ticket-1", time.Now()); err != nil {
		t.Fatalf("save ticket: %v", err)
	}
	if err := store.SaveAuthorizer(ctx, core.StoredAuthorizer{
		ComponentAppID:  "wxcomponent",
		AuthorizerAppID: "wxauth",
		RefreshToken:    "refresh-stored",
	}); err != nil {
		t.Fatalf("save authorizer: %v", err)
	}

	cfg := core.DefaultConfig()
	cfg.Authorizers.SkipBootstrap = true
	cfg.Components = []core.ComponentConfig{{AppID: "wxcomponent", AppSecret: "secret"}}
	fake := devkit.NewFakePlatformClient()
	svc, err := core.NewService(cfg, core.WithPlatformClient(fake), core.WithCredentialStore(store))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	agent, err := svc.Authorizer("wxcomponent", "wxauth")
	if err != nil {
		t.Fatalf("restored authorizer: %v", err)
	}
	token, err := agent.AccessToken(ctx)
	if err != nil {
		t.Fatalf("authorizer token: %v", err)
	}
	if !strings.HasPrefix(token, "authorizer-token-refresh-") {
		t.Fatalf("expected token from stored refresh token, got %q", token)
	}
	if fake.Last("refresh_authorizer_token") != "refresh-stored" {
		t.Fatalf("expected refresh with stored token, got %q", fake.Last("refresh_authorizer_token"))
	}
}

func TestRateLimitStateStore_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	cacheService, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithRateLimitCache(cacheService))
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.RateLimitStateStore()

	key := ratelimit.Key{ComponentAppID: "wxcomponent", Bucket: "api"}
	if _, err := store.Get(ctx, key); !errors.Is(err, ratelimit.ErrStateNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	policy := ratelimit.NewAdaptivePolicy(store, 0, 0)
	policy.Now = func() time.Time { return now }
	if err := policy.AfterCall(ctx, key, ratelimit.ErrCodeDailyQuota); err != nil {
		t.Fatalf("after call: %v", err)
	}
	state, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Attempts != 1 || state.LastErrCode != ratelimit.ErrCodeDailyQuota || state.ThrottledUntil == nil {
		t.Fatalf("unexpected state %+v", state)
	}
	if err := policy.BeforeCall(ctx, key); err == nil {
		t.Fatalf("expected throttled call")
	}

	if err := policy.AfterCall(ctx, key, 0); err != nil {
		t.Fatalf("reset: %v", err)
	}
	state, err = store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get after reset: %v", err)
	}
	if state.Attempts != 0 || state.ThrottledUntil != nil {
		t.Fatalf("expected cleared state, got %+v", state)
	}
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf("file:wxopen-test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	client, err := persistence.New(testPersistenceConfig{driver: "sqlite3", server: dsn}, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = wxmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != wxmigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, wxmigrations.WithValidationTargets(wxmigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
