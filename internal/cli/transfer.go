// Package cli implements the command-line entry points that run transfers
// without the long-lived service.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/google/uuid"

	"github.com/mrlokans/skyferry/internal/config"
	"github.com/mrlokans/skyferry/internal/database"
	"github.com/mrlokans/skyferry/internal/database/files"
	"github.com/mrlokans/skyferry/internal/database/jobs"
	"github.com/mrlokans/skyferry/internal/database/users"
	"github.com/mrlokans/skyferry/internal/duplicates"
	"github.com/mrlokans/skyferry/internal/entities"
	"github.com/mrlokans/skyferry/internal/entrypoint"
	"github.com/mrlokans/skyferry/internal/events"
	"github.com/mrlokans/skyferry/internal/storage"
	"github.com/mrlokans/skyferry/internal/tokenstore"
	"github.com/mrlokans/skyferry/internal/worker"
)

// TransferCommand runs a single transfer end to end with a progress bar,
// using an in-process worker instead of the service's queue loop.
type TransferCommand struct {
	DatabasePath    string
	UserID          uint
	SourceProvider  string
	SourceURL       string
	SourceID        string
	ItemType        string
	DestProvider    string
	DestFolderID    string
	DuplicateAction string
	Timeout         time.Duration

	// Factory builds provider clients; main wires the real one in so tests
	// can substitute fakes.
	Factory storage.Factory
}

// NewTransferCommand creates a new TransferCommand
func NewTransferCommand() *TransferCommand {
	return &TransferCommand{}
}

// ParseFlags parses command line flags
func (cmd *TransferCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("transfer", flag.ExitOnError)

	var userID uint64
	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the orchestration database file")
	fs.Uint64Var(&userID, "user", 1, "User the transfer runs as")
	fs.StringVar(&cmd.SourceProvider, "from", "", "Source provider (google_drive, dropbox, s3)")
	fs.StringVar(&cmd.SourceURL, "url", "", "Source file or folder URL")
	fs.StringVar(&cmd.SourceID, "id", "", "Source file or folder ID (alternative to -url)")
	fs.StringVar(&cmd.ItemType, "type", "file", "Item type: file or folder")
	fs.StringVar(&cmd.DestProvider, "to", "", "Destination provider (google_drive, dropbox, s3)")
	fs.StringVar(&cmd.DestFolderID, "dest", "", "Destination folder ID (empty means provider root)")
	fs.StringVar(&cmd.DuplicateAction, "on-duplicate", "skip", "Duplicate handling: skip, replace or copy_with_suffix")
	fs.DurationVar(&cmd.Timeout, "timeout", 30*time.Minute, "Overall transfer timeout")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s transfer [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Copy a file or folder tree between storage providers.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s transfer -from google_drive -url 'https://drive.google.com/file/d/abc/view' -to dropbox\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s transfer -from dropbox -id '/photos' -type folder -to s3 -on-duplicate replace\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	cmd.UserID = uint(userID)

	if cmd.SourceProvider == "" || cmd.DestProvider == "" {
		return fmt.Errorf("both -from and -to are required")
	}
	if cmd.SourceURL == "" && cmd.SourceID == "" {
		return fmt.Errorf("either -url or -id is required")
	}
	return nil
}

// Run executes the transfer command
func (cmd *TransferCommand) Run() error {
	absDBPath, err := filepath.Abs(cmd.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for database: %w", err)
	}

	db, err := database.NewDatabase(absDBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	jobsRepo := jobs.NewRepository(db.DB)
	usersRepo := users.NewRepository(db.DB)
	detector := duplicates.NewDetector(files.NewRepository(db.DB))
	bus := events.NewBus()
	defer bus.Close()

	cfg := config.NewConfig()

	factory := cmd.Factory
	if factory == nil {
		tokens, err := tokenstore.New(db.DB, tokenstore.Config{
			EncryptionKey: cfg.Tokens.EncryptionKey,
			KeyFilePath:   cfg.Tokens.KeyFilePath,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize token store: %w", err)
		}
		factory = entrypoint.NewProviderFactory(tokens, cfg.S3)
	}
	cache := storage.NewClientCache(cfg.Worker.ClientCacheSize, factory)

	job := &entities.Job{
		ID:              uuid.NewString(),
		UserID:          cmd.UserID,
		SourceProvider:  entities.ProviderName(cmd.SourceProvider),
		SourceID:        cmd.SourceID,
		SourceURL:       cmd.SourceURL,
		ItemType:        entities.ItemType(cmd.ItemType),
		DestProvider:    entities.ProviderName(cmd.DestProvider),
		DestFolderID:    cmd.DestFolderID,
		DuplicateAction: entities.DuplicateAction(cmd.DuplicateAction),
		Status:          entities.JobStatusPending,
		MaxRetries:      cfg.Worker.DefaultRetries,
	}
	if err := jobsRepo.Create(job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	fmt.Printf("Transferring %s -> %s (job %s)\n", cmd.SourceProvider, cmd.DestProvider, job.ID)

	eventCh, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), cmd.Timeout)
	defer cancel()

	w := worker.NewWorker(cfg.Worker, cfg.Plans, jobsRepo, usersRepo, cache, cache, detector, bus)
	w.Start(ctx)
	defer w.Stop()

	return cmd.watch(ctx, eventCh)
}

// watch renders bus events for the submitted job until a terminal one
// arrives.
func (cmd *TransferCommand) watch(ctx context.Context, ch <-chan events.Event) error {
	var bar *pb.ProgressBar
	finish := func() {
		if bar != nil {
			bar.Finish()
		}
	}

	for {
		select {
		case <-ctx.Done():
			finish()
			return fmt.Errorf("transfer timed out: %w", ctx.Err())
		case event, ok := <-ch:
			if !ok {
				finish()
				return fmt.Errorf("event stream closed before the transfer finished")
			}
			switch event.Type {
			case events.TypeProgress:
				if bar == nil {
					bar = pb.StartNew(100)
				}
				bar.SetCurrent(int64(event.Pct))
			case events.TypeRetry:
				fmt.Printf("\nAttempt %d failed, retrying at %s\n", event.Attempts, event.NextRunAt.Format(time.RFC3339))
			case events.TypeCompleted:
				finish()
				fmt.Printf("\nDone in %s", event.Result.Duration.Round(time.Millisecond))
				if event.Result.FileURL != "" {
					fmt.Printf(": %s", event.Result.FileURL)
				}
				fmt.Println()
				return nil
			case events.TypeCancelled:
				finish()
				return fmt.Errorf("transfer was cancelled")
			case events.TypeFailed:
				finish()
				return fmt.Errorf("transfer failed: %s", event.Error)
			}
		}
	}
}
