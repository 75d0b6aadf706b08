// Package entrypoint wires the orchestration service together: database,
// token store, provider clients, queue worker, scheduler, and the HTTP API.
package entrypoint

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/skyferry/internal/config"
	"github.com/mrlokans/skyferry/internal/database"
	"github.com/mrlokans/skyferry/internal/database/conflicts"
	"github.com/mrlokans/skyferry/internal/database/files"
	"github.com/mrlokans/skyferry/internal/database/jobs"
	"github.com/mrlokans/skyferry/internal/database/syncfiles"
	"github.com/mrlokans/skyferry/internal/database/tasks"
	"github.com/mrlokans/skyferry/internal/database/users"
	"github.com/mrlokans/skyferry/internal/duplicates"
	"github.com/mrlokans/skyferry/internal/entities"
	"github.com/mrlokans/skyferry/internal/events"
	http_controllers "github.com/mrlokans/skyferry/internal/http"
	"github.com/mrlokans/skyferry/internal/scheduler"
	"github.com/mrlokans/skyferry/internal/storage"
	"github.com/mrlokans/skyferry/internal/storage/providers/dropbox"
	"github.com/mrlokans/skyferry/internal/storage/providers/googledrive"
	"github.com/mrlokans/skyferry/internal/storage/providers/s3"
	"github.com/mrlokans/skyferry/internal/syncengine"
	"github.com/mrlokans/skyferry/internal/tokenstore"
	"github.com/mrlokans/skyferry/internal/worker"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

func Serve(router *gin.Engine, cfg *config.Config, onShutdown ShutdownFunc) {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: router,
	}

	go func() {
		fmt.Printf("Starting server at %s:%d\n", cfg.HTTP.Host, cfg.HTTP.Port)
		// service connections
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutdown Server, waiting %v before killing\n", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Stop background services before cutting off HTTP so in-flight jobs can
	// persist their state.
	if onShutdown != nil {
		onShutdown(ctx)
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}

	log.Println("Server exiting")
}

// NewProviderFactory builds the storage.Factory the client cache uses to
// construct per-user provider clients on demand.
func NewProviderFactory(tokens *tokenstore.TokenStore, s3cfg config.S3) storage.Factory {
	return func(_ context.Context, provider entities.ProviderName, userID uint) (storage.Provider, error) {
		switch provider {
		case entities.ProviderGoogleDrive:
			return googledrive.NewClient(tokens.Source(provider, userID)), nil
		case entities.ProviderDropbox:
			return dropbox.NewClient(tokens.Source(provider, userID)), nil
		case entities.ProviderS3:
			// S3 credentials come from deployment config, not per-user tokens.
			return s3.NewClient(s3.Config{
				Endpoint:  s3cfg.Endpoint,
				AccessKey: s3cfg.AccessKey,
				SecretKey: s3cfg.SecretKey,
				Bucket:    s3cfg.Bucket,
				UseSSL:    s3cfg.UseSSL,
			})
		default:
			return nil, fmt.Errorf("unknown storage provider %q", provider)
		}
	}
}

func Run(cfg *config.Config, version string) {
	log.Printf("Starting Skyferry v%s", version)

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	tokens, err := tokenstore.New(db.DB, tokenstore.Config{
		EncryptionKey: cfg.Tokens.EncryptionKey,
		KeyFilePath:   cfg.Tokens.KeyFilePath,
	})
	if err != nil {
		log.Fatalf("Failed to initialize token store: %v", err)
	}

	// Repositories
	jobsRepo := jobs.NewRepository(db.DB)
	tasksRepo := tasks.NewRepository(db.DB)
	usersRepo := users.NewRepository(db.DB)
	filesRepo := files.NewRepository(db.DB)
	syncRepo := syncfiles.NewRepository(db.DB)
	conflictsRepo := conflicts.NewRepository(db.DB)

	detector := duplicates.NewDetector(filesRepo)
	bus := events.NewBus()
	defer bus.Close()

	cache := storage.NewClientCache(cfg.Worker.ClientCacheSize, NewProviderFactory(tokens, cfg.S3))

	engine := syncengine.NewEngine(cache, syncRepo, conflictsRepo, detector, cfg.Sync.ConflictThreshold)

	queueWorker := worker.NewWorker(cfg.Worker, cfg.Plans, jobsRepo, usersRepo, cache, cache, detector, bus)
	sched := scheduler.NewScheduler(cfg.Scheduler, tasksRepo, jobsRepo, engine, cfg.Worker.DefaultRetries)

	ctx, cancelBackground := context.WithCancel(context.Background())
	queueWorker.Start(ctx)
	sched.Start(ctx)

	routerCfg := http_controllers.RouterConfig{
		Database:       db,
		JobsRepo:       jobsRepo,
		TasksRepo:      tasksRepo,
		Conflicts:      conflictsRepo,
		Engine:         engine,
		Worker:         queueWorker,
		Scheduler:      sched,
		Bus:            bus,
		Version:        version,
		DefaultRetries: cfg.Worker.DefaultRetries,
	}

	router := http_controllers.NewRouter(routerCfg)

	onShutdown := func(ctx context.Context) {
		sched.Stop()
		queueWorker.Stop()
		cancelBackground()
	}

	Serve(router, cfg, onShutdown)
}
