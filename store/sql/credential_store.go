package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-wxopen/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenSealer protects token columns at rest. security.TokenCipher implements
// it.
type TokenSealer interface {
	Seal(ctx context.Context, plaintext string) (string, error)
	Open(ctx context.Context, sealed string) (string, error)
}

type plainSealer struct{}

func (plainSealer) Seal(_ context.Context, plaintext string) (string, error) { return plaintext, nil }
func (plainSealer) Open(_ context.Context, sealed string) (string, error)    { return sealed, nil }

// CredentialStore keeps verify tickets, component tokens and authorizer
// tokens in SQL.
type CredentialStore struct {
	db             *bun.DB
	componentRepo  repository.Repository[*componentRecord]
	authorizerRepo repository.Repository[*authorizerRecord]
	sealer         TokenSealer
}

func NewCredentialStore(db *bun.DB, sealer TokenSealer) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	componentRepo := repository.NewRepository[*componentRecord](db, componentHandlers())
	if validator, ok := componentRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid component repository wiring: %w", err)
		}
	}
	authorizerRepo := repository.NewRepository[*authorizerRecord](db, authorizerHandlers())
	if validator, ok := authorizerRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid authorizer repository wiring: %w", err)
		}
	}
	if sealer == nil {
		sealer = plainSealer{}
	}
	return &CredentialStore{
		db:             db,
		componentRepo:  componentRepo,
		authorizerRepo: authorizerRepo,
		sealer:         sealer,
	}, nil
}

func (s *CredentialStore) SaveVerifyTicket(ctx context.Context, componentAppID, ticket string, receivedAt time.Time) error {
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	receivedAt = receivedAt.UTC()
	return s.upsertComponent(ctx, componentAppID, func(record *componentRecord) error {
		record.VerifyTicket = strings.TrimSpace(ticket)
		record.VerifyTicketReceivedAt = &receivedAt
		return nil
	})
}

func (s *CredentialStore) SaveComponentToken(ctx context.Context, componentAppID, token string, expiresAt time.Time) error {
	sealed, err := s.sealer.Seal(ctx, token)
	if err != nil {
		return fmt.Errorf("sqlstore: seal component token: %w", err)
	}
	return s.upsertComponent(ctx, componentAppID, func(record *componentRecord) error {
		record.AccessToken = sealed
		record.AccessTokenExpiresAt = timePointer(expiresAt)
		return nil
	})
}

func (s *CredentialStore) LoadComponent(ctx context.Context, componentAppID string) (core.StoredComponent, bool, error) {
	if s == nil || s.componentRepo == nil {
		return core.StoredComponent{}, false, fmt.Errorf("sqlstore: credential store is not configured")
	}
	records, _, err := s.componentRepo.List(ctx,
		repository.SelectBy("component_app_id", "=", strings.TrimSpace(componentAppID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.StoredComponent{}, false, err
	}
	if len(records) == 0 {
		return core.StoredComponent{}, false, nil
	}
	record := records[0]
	token, err := s.sealer.Open(ctx, record.AccessToken)
	if err != nil {
		return core.StoredComponent{}, false, fmt.Errorf("sqlstore: open component token: %w", err)
	}
	stored := core.StoredComponent{
		ComponentAppID: record.ComponentAppID,
		VerifyTicket:   record.VerifyTicket,
		AccessToken:    token,
	}
	if record.AccessTokenExpiresAt != nil {
		stored.AccessTokenExpiresAt = record.AccessTokenExpiresAt.UTC()
	}
	return stored, true, nil
}

func (s *CredentialStore) SaveAuthorizer(ctx context.Context, in core.StoredAuthorizer) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	componentAppID := strings.TrimSpace(in.ComponentAppID)
	authorizerAppID := strings.TrimSpace(in.AuthorizerAppID)
	if componentAppID == "" || authorizerAppID == "" {
		return fmt.Errorf("sqlstore: component and authorizer app ids are required")
	}
	accessToken, err := s.sealer.Seal(ctx, in.AccessToken)
	if err != nil {
		return fmt.Errorf("sqlstore: seal authorizer token: %w", err)
	}
	refreshToken, err := s.sealer.Seal(ctx, in.RefreshToken)
	if err != nil {
		return fmt.Errorf("sqlstore: seal refresh token: %w", err)
	}
	now := time.Now().UTC()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &authorizerRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.component_app_id = ?", componentAppID).
			Where("?TableAlias.authorizer_app_id = ?", authorizerAppID).
			Limit(1).
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		created := errors.Is(err, sql.ErrNoRows)
		if created {
			record = &authorizerRecord{
				ID:              uuid.NewString(),
				ComponentAppID:  componentAppID,
				AuthorizerAppID: authorizerAppID,
				CreatedAt:       now,
			}
		}
		record.AccessToken = accessToken
		record.RefreshToken = refreshToken
		record.AccessTokenExpiresAt = timePointer(in.AccessTokenExpiresAt)
		record.UpdatedAt = now

		if created {
			_, createErr := s.authorizerRepo.CreateTx(ctx, tx, record)
			return createErr
		}
		_, updateErr := tx.NewUpdate().
			Model(record).
			Column("access_token", "refresh_token", "access_token_expires_at", "updated_at").
			Where("id = ?", record.ID).
			Exec(ctx)
		return updateErr
	})
}

func (s *CredentialStore) DeleteAuthorizer(ctx context.Context, componentAppID, authorizerAppID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*authorizerRecord)(nil)).
		Where("component_app_id = ?", strings.TrimSpace(componentAppID)).
		Where("authorizer_app_id = ?", strings.TrimSpace(authorizerAppID)).
		Exec(ctx)
	return err
}

func (s *CredentialStore) ListAuthorizers(ctx context.Context, componentAppID string) ([]core.StoredAuthorizer, error) {
	if s == nil || s.authorizerRepo == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	records, _, err := s.authorizerRepo.List(ctx,
		repository.SelectBy("component_app_id", "=", strings.TrimSpace(componentAppID)),
		repository.OrderBy("authorizer_app_id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.StoredAuthorizer, 0, len(records))
	for _, record := range records {
		stored, err := s.authorizerToDomain(ctx, record)
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

func (s *CredentialStore) upsertComponent(ctx context.Context, componentAppID string, apply func(*componentRecord) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	componentAppID = strings.TrimSpace(componentAppID)
	if componentAppID == "" {
		return fmt.Errorf("sqlstore: component app id is required")
	}
	now := time.Now().UTC()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &componentRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.component_app_id = ?", componentAppID).
			Limit(1).
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		created := errors.Is(err, sql.ErrNoRows)
		if created {
			record = &componentRecord{
				ID:             uuid.NewString(),
				ComponentAppID: componentAppID,
				CreatedAt:      now,
			}
		}
		if err := apply(record); err != nil {
			return err
		}
		record.UpdatedAt = now

		if created {
			_, createErr := s.componentRepo.CreateTx(ctx, tx, record)
			return createErr
		}
		_, updateErr := tx.NewUpdate().
			Model(record).
			WherePK().
			Exec(ctx)
		return updateErr
	})
}

func (s *CredentialStore) authorizerToDomain(ctx context.Context, record *authorizerRecord) (core.StoredAuthorizer, error) {
	accessToken, err := s.sealer.Open(ctx, record.AccessToken)
	if err != nil {
		return core.StoredAuthorizer{}, fmt.Errorf("sqlstore: open authorizer token: %w", err)
	}
	refreshToken, err := s.sealer.Open(ctx, record.RefreshToken)
	if err != nil {
		return core.StoredAuthorizer{}, fmt.Errorf("sqlstore: open refresh token: %w", err)
	}
	stored := core.StoredAuthorizer{
		ComponentAppID:  record.ComponentAppID,
		AuthorizerAppID: record.AuthorizerAppID,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
	}
	if record.AccessTokenExpiresAt != nil {
		stored.AccessTokenExpiresAt = record.AccessTokenExpiresAt.UTC()
	}
	return stored, nil
}

func timePointer(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}
