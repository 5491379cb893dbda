package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the account that owns one or more credentials
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Credential binds one provider identity to a user.
// Secret holds the bcrypt hash for ProviderEmail and the provider
// subject id for ProviderApple and ProviderGoogle.
type Credential struct {
	bun.BaseModel `bun:"table:credentials,alias:cred"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	Provider      Provider   `bun:"provider,notnull" json:"provider,omitempty"`
	Secret        string     `bun:"secret,notnull" json:"-"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	JoinedAt      time.Time  `bun:"joined_at,notnull" json:"joined_at"`
	UnjoinedAt    *time.Time `bun:"unjoined_at,nullzero" json:"unjoined_at,omitempty"`
}

// Active reports whether the credential has not been unjoined.
func (c *Credential) Active() bool {
	return c != nil && c.UnjoinedAt == nil
}

// ExternalID returns the provider subject id, empty for email credentials.
func (c *Credential) ExternalID() string {
	if c == nil || c.Provider == ProviderEmail {
		return ""
	}
	return c.Secret
}

// StateToken binds an email address to a pending join or reset action.
type StateToken struct {
	bun.BaseModel `bun:"table:state_tokens,alias:stt"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	State         string     `bun:"state,notnull,unique" json:"-"`
	Email         string     `bun:"email,notnull" json:"email"`
	IsJoin        bool       `bun:"is_join,notnull" json:"is_join"`
	PendingSecret string     `bun:"pending_secret" json:"-"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	SentAt        *time.Time `bun:"sent_at,nullzero" json:"sent_at,omitempty"`
	IssuedResult  string     `bun:"issued_result" json:"issued_result,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// Expired reports whether the token is no longer valid at now.
func (t *StateToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
