package entities

import (
	"time"

	"gorm.io/gorm"
)

// OAuthToken stores encrypted provider credentials for a user's account on a
// remote storage provider. Token acquisition (the OAuth dance) happens
// outside this service; the orchestration core only reads tokens to
// authenticate provider calls.
type OAuthToken struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// Provider identifies the storage provider the token belongs to.
	Provider ProviderName `gorm:"type:varchar(50);not null;uniqueIndex:idx_provider_user" json:"provider"`

	// UserID is the owning skyferry user.
	UserID uint `gorm:"not null;uniqueIndex:idx_provider_user" json:"user_id"`

	// AccountID is the user's account identifier on the provider.
	AccountID string `gorm:"type:varchar(255)" json:"account_id"`

	// AccessToken is the encrypted access token,
	// stored as base64-encoded AES-256-GCM ciphertext.
	AccessToken string `gorm:"type:text;not null" json:"-"`

	// RefreshToken is the encrypted refresh token.
	RefreshToken string `gorm:"type:text" json:"-"`

	// TokenType is typically "Bearer".
	TokenType string `gorm:"type:varchar(50);default:Bearer" json:"token_type"`

	// ExpiresAt is when the access token expires (nullable for non-expiring tokens).
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Scope contains the scopes granted.
	Scope string `gorm:"type:text" json:"scope,omitempty"`

	// LastUsedAt tracks when the token was last used.
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// TableName specifies the table name for GORM
func (OAuthToken) TableName() string {
	return "oauth_tokens"
}

// IsExpired checks if the access token has expired
func (t *OAuthToken) IsExpired() bool {
	if t.ExpiresAt == nil {
		return false
	}
	// Consider expired if less than 5 minutes remaining
	return time.Now().Add(5 * time.Minute).After(*t.ExpiresAt)
}

// DecryptedToken holds the decrypted token values for use in memory.
// This is never stored directly in the database.
type DecryptedToken struct {
	Provider     ProviderName
	UserID       uint
	AccountID    string
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    *time.Time
	Scope        string
}
