// Package tokenstore provides secure storage for provider OAuth tokens using
// AES-256-GCM encryption. Token acquisition happens outside this service; the
// store only persists and serves credentials for provider API calls.
package tokenstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/skyferry/internal/crypto"
	"github.com/mrlokans/skyferry/internal/entities"
)

const (
	// EnvEncryptionKey is the environment variable for the encryption key
	EnvEncryptionKey = "TOKEN_ENCRYPTION_KEY"

	// DefaultKeyFileName is the default name for the key file
	DefaultKeyFileName = ".skyferry-token-key"
)

// TokenStore provides secure storage for OAuth tokens
type TokenStore struct {
	db        *gorm.DB
	encryptor *crypto.Encryptor
}

// Config holds configuration for the token store
type Config struct {
	// EncryptionKey is the base64-encoded 32-byte encryption key
	// If empty, will try to load from environment or key file
	EncryptionKey string

	// KeyFilePath is the path to the encryption key file
	// If empty, defaults to ~/.skyferry-token-key
	KeyFilePath string
}

// New creates a TokenStore on top of an already opened database. The token
// table is migrated with the rest of the schema.
func New(db *gorm.DB, cfg Config) (*TokenStore, error) {
	key, err := resolveEncryptionKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve encryption key: %w", err)
	}

	encryptor, err := crypto.NewEncryptorFromBase64(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	return &TokenStore{db: db, encryptor: encryptor}, nil
}

// resolveEncryptionKey determines the encryption key from various sources
func resolveEncryptionKey(cfg Config) (string, error) {
	// Priority 1: Explicitly provided key
	if cfg.EncryptionKey != "" {
		return cfg.EncryptionKey, nil
	}

	// Priority 2: Environment variable
	if envKey := os.Getenv(EnvEncryptionKey); envKey != "" {
		return envKey, nil
	}

	// Priority 3: Key file
	keyFilePath := cfg.KeyFilePath
	if keyFilePath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		keyFilePath = filepath.Join(homeDir, DefaultKeyFileName)
	}

	if data, err := os.ReadFile(keyFilePath); err == nil {
		return string(data), nil
	}

	// Generate new key and save it
	newKey, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate encryption key: %w", err)
	}

	if err := os.WriteFile(keyFilePath, []byte(newKey), 0600); err != nil {
		return "", fmt.Errorf("failed to save encryption key to %s: %w", keyFilePath, err)
	}

	return newKey, nil
}

// SaveToken saves an OAuth token with encryption. Tokens are keyed by
// (provider, user); saving again replaces the stored credentials.
func (s *TokenStore) SaveToken(token *entities.DecryptedToken) error {
	encAccessToken, err := s.encryptor.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	encRefreshToken, err := s.encryptor.Encrypt(token.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	dbToken := &entities.OAuthToken{
		Provider:     token.Provider,
		UserID:       token.UserID,
		AccountID:    token.AccountID,
		AccessToken:  encAccessToken,
		RefreshToken: encRefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.ExpiresAt,
		Scope:        token.Scope,
	}

	result := s.db.Where("provider = ? AND user_id = ?", token.Provider, token.UserID).
		Assign(map[string]interface{}{
			"account_id":    token.AccountID,
			"access_token":  encAccessToken,
			"refresh_token": encRefreshToken,
			"token_type":    token.TokenType,
			"expires_at":    token.ExpiresAt,
			"scope":         token.Scope,
			"updated_at":    time.Now(),
		}).
		FirstOrCreate(dbToken)

	if result.Error != nil {
		return fmt.Errorf("failed to save token: %w", result.Error)
	}

	return nil
}

// GetToken retrieves and decrypts a user's token for a provider. Returns
// nil without error when no token is stored.
func (s *TokenStore) GetToken(provider entities.ProviderName, userID uint) (*entities.DecryptedToken, error) {
	var dbToken entities.OAuthToken
	result := s.db.Where("provider = ? AND user_id = ?", provider, userID).First(&dbToken)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", result.Error)
	}

	return s.decryptToken(&dbToken)
}

// DeleteToken removes a token from storage
func (s *TokenStore) DeleteToken(provider entities.ProviderName, userID uint) error {
	result := s.db.Where("provider = ? AND user_id = ?", provider, userID).
		Delete(&entities.OAuthToken{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete token: %w", result.Error)
	}
	return nil
}

// UpdateLastUsed updates the last_used_at timestamp for a token
func (s *TokenStore) UpdateLastUsed(provider entities.ProviderName, userID uint) error {
	now := time.Now()
	result := s.db.Model(&entities.OAuthToken{}).
		Where("provider = ? AND user_id = ?", provider, userID).
		Update("last_used_at", now)
	if result.Error != nil {
		return fmt.Errorf("failed to update last used: %w", result.Error)
	}
	return nil
}

// decryptToken decrypts the sensitive fields of a token
func (s *TokenStore) decryptToken(dbToken *entities.OAuthToken) (*entities.DecryptedToken, error) {
	accessToken, err := s.encryptor.Decrypt(dbToken.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}

	refreshToken, err := s.encryptor.Decrypt(dbToken.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	return &entities.DecryptedToken{
		Provider:     dbToken.Provider,
		UserID:       dbToken.UserID,
		AccountID:    dbToken.AccountID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    dbToken.TokenType,
		ExpiresAt:    dbToken.ExpiresAt,
		Scope:        dbToken.Scope,
	}, nil
}

// Source returns a token source bound to one (provider, user) pair, suitable
// for handing to a provider client. The token is re-read on every call so a
// refresh landing in the store is picked up without rebuilding the client.
func (s *TokenStore) Source(provider entities.ProviderName, userID uint) *Source {
	return &Source{store: s, provider: provider, userID: userID}
}

// Source adapts the store to the per-provider TokenSource interfaces.
type Source struct {
	store    *TokenStore
	provider entities.ProviderName
	userID   uint
}

// Token returns the current access token for the bound pair.
func (src *Source) Token(_ context.Context) (string, error) {
	token, err := src.store.GetToken(src.provider, src.userID)
	if err != nil {
		return "", err
	}
	if token == nil {
		return "", fmt.Errorf("no %s token stored for user %d", src.provider, src.userID)
	}
	if err := src.store.UpdateLastUsed(src.provider, src.userID); err != nil {
		return "", fmt.Errorf("failed to touch token: %w", err)
	}
	return token.AccessToken, nil
}

// GetKeyFilePath returns the path to the key file being used
func GetKeyFilePath(customPath string) string {
	if customPath != "" {
		return customPath
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultKeyFileName
	}
	return filepath.Join(homeDir, DefaultKeyFileName)
}
