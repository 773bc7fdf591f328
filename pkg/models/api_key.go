package models

import (
	"time"

	"github.com/google/uuid"
)

// ScopeAdmin marks an API key as elevated: it may read any user's jobs and
// manage other keys.
const ScopeAdmin = "admin"

// APIKey represents an authentication key for API access. Raw keys are shown
// once at creation; only the bcrypt hash is stored. The key carries the
// verified user identity the rest of the service trusts.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	UserID     string     `db:"user_id"      json:"user_id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}

// Elevated reports whether the key holds the admin scope.
func (k *APIKey) Elevated() bool {
	for _, s := range k.Scopes {
		if s == ScopeAdmin {
			return true
		}
	}
	return false
}
