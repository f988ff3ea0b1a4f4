package sqlstore

import (
	"github.com/goliatone/go-wxopen/core"
	"github.com/goliatone/go-wxopen/ratelimit"
)

var (
	_ core.CredentialStore = (*CredentialStore)(nil)
	_ ratelimit.StateStore = (*RateLimitStateStore)(nil)
	_ ratelimit.StateStore = (*CachedRateLimitStateStore)(nil)
	_ TokenSealer          = plainSealer{}
)
