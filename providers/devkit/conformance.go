package devkit

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-wxopen/core"
)

// ValidateCredentialStoreConformance runs a save/load/list/delete round trip
// against store using componentAppID as an isolated namespace.
func ValidateCredentialStoreConformance(ctx context.Context, store core.CredentialStore, componentAppID string) error {
	if store == nil {
		return fmt.Errorf("devkit: credential store is required")
	}
	if _, ok, err := store.LoadComponent(ctx, componentAppID); err != nil {
		return fmt.Errorf("devkit: load missing component: %w", err)
	} else if ok {
		return fmt.Errorf("devkit: expected no stored component for %q", componentAppID)
	}

	receivedAt := time.Unix(1_700_000_000, 0).UTC()
	if err := store.SaveVerifyTicket(ctx, componentAppID, "ticket-1", receivedAt); err != nil {
		return fmt.Errorf("devkit: save verify ticket: %w", err)
	}
	if err := store.SaveVerifyTicket(ctx, componentAppID, "ticket-2", receivedAt.Add(10*time.Minute)); err != nil {
		return fmt.Errorf("devkit: rotate verify ticket: %w", err)
	}
	expiresAt := receivedAt.Add(2 * time.Hour)
	if err := store.SaveComponentToken(ctx, componentAppID, "component-token", expiresAt); err != nil {
		return fmt.Errorf("devkit: save component token: %w", err)
	}
	stored, ok, err := store.LoadComponent(ctx, componentAppID)
	if err != nil || !ok {
		return fmt.Errorf("devkit: load component: ok=%v err=%v", ok, err)
	}
	if stored.VerifyTicket != "ticket-2" || stored.AccessToken != "component-token" {
		return fmt.Errorf("devkit: unexpected stored component %+v", stored)
	}
	if !stored.AccessTokenExpiresAt.Equal(expiresAt) {
		return fmt.Errorf("devkit: expected token expiry %s, got %s", expiresAt, stored.AccessTokenExpiresAt)
	}

	for _, id := range []string{"wxauth-a", "wxauth-b"} {
		if err := store.SaveAuthorizer(ctx, core.StoredAuthorizer{
			ComponentAppID:       componentAppID,
			AuthorizerAppID:      id,
			AccessToken:          "access-" + id,
			RefreshToken:         "refresh-" + id,
			AccessTokenExpiresAt: expiresAt,
		}); err != nil {
			return fmt.Errorf("devkit: save authorizer %s: %w", id, err)
		}
	}
	if err := store.SaveAuthorizer(ctx, core.StoredAuthorizer{
		ComponentAppID:       componentAppID,
		AuthorizerAppID:      "wxauth-a",
		AccessToken:          "access-a-2",
		RefreshToken:         "refresh-a-2",
		AccessTokenExpiresAt: expiresAt,
	}); err != nil {
		return fmt.Errorf("devkit: update authorizer: %w", err)
	}
	records, err := store.ListAuthorizers(ctx, componentAppID)
	if err != nil {
		return fmt.Errorf("devkit: list authorizers: %w", err)
	}
	if len(records) != 2 {
		return fmt.Errorf("devkit: expected 2 authorizers, got %d", len(records))
	}
	byID := map[string]core.StoredAuthorizer{}
	for _, record := range records {
		byID[record.AuthorizerAppID] = record
	}
	if byID["wxauth-a"].RefreshToken != "refresh-a-2" {
		return fmt.Errorf("devkit: expected updated refresh token, got %q", byID["wxauth-a"].RefreshToken)
	}

	if err := store.DeleteAuthorizer(ctx, componentAppID, "wxauth-a"); err != nil {
		return fmt.Errorf("devkit: delete authorizer: %w", err)
	}
	if err := store.DeleteAuthorizer(ctx, componentAppID, "wxauth-a"); err != nil {
		return fmt.Errorf("devkit: delete missing authorizer: %w", err)
	}
	records, err = store.ListAuthorizers(ctx, componentAppID)
	if err != nil {
		return fmt.Errorf("devkit: list after delete: %w", err)
	}
	if len(records) != 1 || records[0].AuthorizerAppID != "wxauth-b" {
		return fmt.Errorf("devkit: unexpected authorizers after delete %+v", records)
	}
	return nil
}
