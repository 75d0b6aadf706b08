package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/skyferry/internal/crypto"
	"github.com/mrlokans/skyferry/internal/entities"
)

func setupStore(t *testing.T) (*TokenStore, *gorm.DB, func()) {
	dbPath := "./test_tokenstore_" + t.Name() + ".db"

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&entities.OAuthToken{}))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	store, err := New(db, Config{EncryptionKey: key})
	require.NoError(t, err)

	cleanup := func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
		os.Remove(dbPath)
	}

	return store, db, cleanup
}

func sampleToken(provider entities.ProviderName, userID uint) *entities.DecryptedToken {
	return &entities.DecryptedToken{
		Provider:     provider,
		UserID:       userID,
		AccountID:    "acct-42",
		AccessToken:  "access-secret",
		RefreshToken: "refresh-secret",
		TokenType:    "Bearer",
		Scope:        "files.read files.write",
	}
}

func TestTokenStore_SaveAndGetToken(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()

	err := store.SaveToken(sampleToken(entities.ProviderGoogleDrive, 1))
	require.NoError(t, err)

	got, err := store.GetToken(entities.ProviderGoogleDrive, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "access-secret", got.AccessToken)
	assert.Equal(t, "refresh-secret", got.RefreshToken)
	assert.Equal(t, "acct-42", got.AccountID)
	assert.Equal(t, "Bearer", got.TokenType)
}

func TestTokenStore_GetToken_MissingReturnsNil(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()

	got, err := store.GetToken(entities.ProviderDropbox, 99)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTokenStore_TokensAreEncryptedAtRest(t *testing.T) {
	store, db, cleanup := setupStore(t)
	defer cleanup()

	require.NoError(t, store.SaveToken(sampleToken(entities.ProviderGoogleDrive, 1)))

	var raw entities.OAuthToken
	err := db.Where("provider = ? AND user_id = ?", entities.ProviderGoogleDrive, 1).First(&raw).Error
	require.NoError(t, err)
	assert.NotEqual(t, "access-secret", raw.AccessToken)
	assert.NotEqual(t, "refresh-secret", raw.RefreshToken)
	assert.NotEmpty(t, raw.AccessToken)
}

func TestTokenStore_SaveToken_ReplacesExisting(t *testing.T) {
	store, db, cleanup := setupStore(t)
	defer cleanup()

	require.NoError(t, store.SaveToken(sampleToken(entities.ProviderGoogleDrive, 1)))

	updated := sampleToken(entities.ProviderGoogleDrive, 1)
	updated.AccessToken = "rotated-access"
	updated.RefreshToken = "rotated-refresh"
	require.NoError(t, store.SaveToken(updated))

	got, err := store.GetToken(entities.ProviderGoogleDrive, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "rotated-access", got.AccessToken)

	var count int64
	require.NoError(t, db.Model(&entities.OAuthToken{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTokenStore_TokensAreScopedPerProviderAndUser(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()

	drive := sampleToken(entities.ProviderGoogleDrive, 1)
	drive.AccessToken = "drive-token"
	require.NoError(t, store.SaveToken(drive))

	dropbox := sampleToken(entities.ProviderDropbox, 1)
	dropbox.AccessToken = "dropbox-token"
	require.NoError(t, store.SaveToken(dropbox))

	other := sampleToken(entities.ProviderGoogleDrive, 2)
	other.AccessToken = "other-user-token"
	require.NoError(t, store.SaveToken(other))

	got, err := store.GetToken(entities.ProviderGoogleDrive, 1)
	require.NoError(t, err)
	assert.Equal(t, "drive-token", got.AccessToken)

	got, err = store.GetToken(entities.ProviderDropbox, 1)
	require.NoError(t, err)
	assert.Equal(t, "dropbox-token", got.AccessToken)

	got, err = store.GetToken(entities.ProviderGoogleDrive, 2)
	require.NoError(t, err)
	assert.Equal(t, "other-user-token", got.AccessToken)
}

func TestTokenStore_DeleteToken(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()

	require.NoError(t, store.SaveToken(sampleToken(entities.ProviderGoogleDrive, 1)))
	require.NoError(t, store.DeleteToken(entities.ProviderGoogleDrive, 1))

	got, err := store.GetToken(entities.ProviderGoogleDrive, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTokenStore_WrongKeyCannotDecrypt(t *testing.T) {
	store, db, cleanup := setupStore(t)
	defer cleanup()

	require.NoError(t, store.SaveToken(sampleToken(entities.ProviderGoogleDrive, 1)))

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherStore, err := New(db, Config{EncryptionKey: otherKey})
	require.NoError(t, err)

	_, err = otherStore.GetToken(entities.ProviderGoogleDrive, 1)
	assert.Error(t, err)
}

func TestTokenStore_Source_ReturnsCurrentToken(t *testing.T) {
	store, db, cleanup := setupStore(t)
	defer cleanup()

	require.NoError(t, store.SaveToken(sampleToken(entities.ProviderDropbox, 7)))

	source := store.Source(entities.ProviderDropbox, 7)
	token, err := source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-secret", token)

	// A rotated token is picked up without rebuilding the source.
	rotated := sampleToken(entities.ProviderDropbox, 7)
	rotated.AccessToken = "rotated"
	require.NoError(t, store.SaveToken(rotated))

	token, err = source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rotated", token)

	// Serving the token touches last_used_at.
	var raw entities.OAuthToken
	err = db.Where("provider = ? AND user_id = ?", entities.ProviderDropbox, 7).First(&raw).Error
	require.NoError(t, err)
	require.NotNil(t, raw.LastUsedAt)
	assert.WithinDuration(t, time.Now(), *raw.LastUsedAt, 5*time.Second)
}

func TestTokenStore_Source_MissingToken(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()

	source := store.Source(entities.ProviderGoogleDrive, 404)
	_, err := source.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no google_drive token stored")
}

func TestResolveEncryptionKey_PrefersExplicitKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	resolved, err := resolveEncryptionKey(Config{EncryptionKey: key})
	require.NoError(t, err)
	assert.Equal(t, key, resolved)
}

func TestResolveEncryptionKey_GeneratesAndPersistsKeyFile(t *testing.T) {
	t.Setenv(EnvEncryptionKey, "")
	keyPath := filepath.Join(t.TempDir(), "token-key")

	first, err := resolveEncryptionKey(Config{KeyFilePath: keyPath})
	require.NoError(t, err)
	require.NotEmpty(t, first)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// A second resolve reuses the saved key.
	second, err := resolveEncryptionKey(Config{KeyFilePath: keyPath})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
