package cli

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mrlokans/skyferry/internal/config"
	"github.com/mrlokans/skyferry/internal/database"
	"github.com/mrlokans/skyferry/internal/entities"
	"github.com/mrlokans/skyferry/internal/tokenstore"
)

// TokenCommand stores or removes provider OAuth credentials. The OAuth dance
// itself happens elsewhere; this command persists its result encrypted.
type TokenCommand struct {
	DatabasePath string
	Provider     string
	UserID       uint
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	Delete       bool
}

// NewTokenCommand creates a new TokenCommand
func NewTokenCommand() *TokenCommand {
	return &TokenCommand{}
}

// ParseFlags parses command line flags
func (cmd *TokenCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)

	var userID uint64
	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the orchestration database file")
	fs.StringVar(&cmd.Provider, "provider", "", "Storage provider (google_drive, dropbox)")
	fs.Uint64Var(&userID, "user", 1, "User the token belongs to")
	fs.StringVar(&cmd.AccessToken, "access-token", "", "Access token to store")
	fs.StringVar(&cmd.RefreshToken, "refresh-token", "", "Refresh token to store")
	fs.DurationVar(&cmd.ExpiresIn, "expires-in", 0, "Access token lifetime (0 means non-expiring)")
	fs.BoolVar(&cmd.Delete, "delete", false, "Remove the stored token instead of saving one")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s token [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Store or remove encrypted provider credentials.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	cmd.UserID = uint(userID)

	if cmd.Provider == "" {
		return fmt.Errorf("-provider is required")
	}
	if !cmd.Delete && cmd.AccessToken == "" {
		return fmt.Errorf("-access-token is required unless -delete is set")
	}
	return nil
}

// Run executes the token command
func (cmd *TokenCommand) Run() error {
	db, err := database.NewDatabase(cmd.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	cfg := config.NewConfig()
	store, err := tokenstore.New(db.DB, tokenstore.Config{
		EncryptionKey: cfg.Tokens.EncryptionKey,
		KeyFilePath:   cfg.Tokens.KeyFilePath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token store: %w", err)
	}

	provider := entities.ProviderName(cmd.Provider)
	if cmd.Delete {
		if err := store.DeleteToken(provider, cmd.UserID); err != nil {
			return err
		}
		fmt.Printf("Removed %s token for user %d\n", provider, cmd.UserID)
		return nil
	}

	var expiresAt *time.Time
	if cmd.ExpiresIn > 0 {
		t := time.Now().Add(cmd.ExpiresIn)
		expiresAt = &t
	}
	err = store.SaveToken(&entities.DecryptedToken{
		Provider:     provider,
		UserID:       cmd.UserID,
		AccessToken:  cmd.AccessToken,
		RefreshToken: cmd.RefreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Saved %s token for user %d\n", provider, cmd.UserID)
	return nil
}
