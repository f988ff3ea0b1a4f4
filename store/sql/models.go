package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type componentRecord struct {
	bun.BaseModel `bun:"table:wxopen_components,alias:wc"`

	ID                     string     `bun:"id,pk"`
	ComponentAppID         string     `bun:"component_app_id,notnull"`
	VerifyTicket           string     `bun:"verify_ticket,notnull"`
	VerifyTicketReceivedAt *time.Time `bun:"verify_ticket_received_at,nullzero"`
	AccessToken            string     `bun:"access_token,notnull"`
	AccessTokenExpiresAt   *time.Time `bun:"access_token_expires_at,nullzero"`
	CreatedAt              time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt              time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type authorizerRecord struct {
	bun.BaseModel `bun:"table:wxopen_authorizers,alias:wa"`

	ID                   string     `bun:"id,pk"`
	ComponentAppID       string     `bun:"component_app_id,notnull"`
	AuthorizerAppID      string     `bun:"authorizer_app_id,notnull"`
	AccessToken          string     `bun:"access_token,notnull"`
	RefreshToken         string     `bun:"refresh_token,notnull"`
	AccessTokenExpiresAt *time.Time `bun:"access_token_expires_at,nullzero"`
	CreatedAt            time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt            time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:wxopen_rate_limit_states,alias:wrl"`

	ID             string     `bun:"id,pk"`
	ComponentAppID string     `bun:"component_app_id,notnull"`
	Bucket         string     `bun:"bucket,notnull"`
	ThrottledUntil *time.Time `bun:"throttled_until,nullzero"`
	Attempts       int        `bun:"attempts,notnull"`
	LastErrCode    int        `bun:"last_err_code,notnull"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
