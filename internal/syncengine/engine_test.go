package syncengine

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/skyferry/internal/database/conflicts"
	"github.com/mrlokans/skyferry/internal/database/files"
	"github.com/mrlokans/skyferry/internal/database/syncfiles"
	"github.com/mrlokans/skyferry/internal/database/tasks"
	"github.com/mrlokans/skyferry/internal/duplicates"
	"github.com/mrlokans/skyferry/internal/entities"
)

type engineFixture struct {
	engine    *Engine
	src       *memProvider
	dst       *memProvider
	tasksRepo *tasks.Repository
	conflicts *conflicts.Repository
	registry  *syncfiles.Repository
	detector  *duplicates.Detector
}

func setupEngine(t *testing.T) (*engineFixture, func()) {
	dbPath := "./test_syncengine_" + t.Name() + ".db"

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&entities.ScheduledTask{},
		&entities.TaskRun{},
		&entities.SyncedFile{},
		&entities.FileConflict{},
		&entities.FileRecord{},
	)
	require.NoError(t, err)

	src := newMemProvider(entities.ProviderGoogleDrive)
	dst := newMemProvider(entities.ProviderDropbox)

	registry := syncfiles.NewRepository(db)
	conflictsRepo := conflicts.NewRepository(db)
	detector := duplicates.NewDetector(files.NewRepository(db))
	resolver := memResolver{
		entities.ProviderGoogleDrive: src,
		entities.ProviderDropbox:     dst,
	}

	fixture := &engineFixture{
		engine:    NewEngine(resolver, registry, conflictsRepo, detector, 60*time.Second),
		src:       src,
		dst:       dst,
		tasksRepo: tasks.NewRepository(db),
		conflicts: conflictsRepo,
		registry:  registry,
		detector:  detector,
	}

	cleanup := func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
		os.Remove(dbPath)
	}

	return fixture, cleanup
}

func newSyncTask(t *testing.T, f *engineFixture, mode entities.SyncMode) *entities.ScheduledTask {
	task := &entities.ScheduledTask{
		UserID:         1,
		Name:           "nightly",
		SourceProvider: entities.ProviderGoogleDrive,
		SourceID:       "src-root",
		DestProvider:   entities.ProviderDropbox,
		DestFolderID:   "dst-root",
		SyncMode:       mode,
		Status:         entities.TaskStatusActive,
	}
	require.NoError(t, f.tasksRepo.Create(task))
	return task
}

func TestEngine_Cumulative_CopiesNewFilesOnce(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()

	mtime := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f.src.addFile("src-root", "a.txt", "alpha", mtime)
	f.src.addFile("src-root", "b.txt", "bravo", mtime)
	sub := f.src.addFolder("src-root", "sub")
	f.src.addFile(sub, "c.txt", "charlie", mtime)

	task := newSyncTask(t, f, entities.SyncModeCumulative)

	summary, err := f.engine.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.FilesScanned)
	assert.Equal(t, 3, summary.FilesNew)
	assert.Equal(t, 3, summary.FilesCopied)
	assert.Zero(t, summary.FilesFailed)

	// All three landed, including the nested one.
	assert.NotNil(t, f.dst.fileByName("dst-root", "a.txt"))
	subFolder := f.dst.folderByName("dst-root", "sub")
	require.NotNil(t, subFolder)
	assert.NotNil(t, f.dst.fileByName(subFolder.id, "c.txt"))

	// An unchanged tree produces zero copies on the next pass.
	summary, err = f.engine.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Zero(t, summary.FilesCopied)
	assert.Equal(t, 3, summary.FilesSkipped)
	assert.Equal(t, 3, f.dst.fileCount())
}

func TestEngine_Cumulative_RecopiesModified(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()

	mtime := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	aID := f.src.addFile("src-root", "a.txt", "alpha", mtime)
	f.src.addFile("src-root", "b.txt", "bravo", mtime)

	task := newSyncTask(t, f, entities.SyncModeCumulative)
	_, err := f.engine.Run(context.Background(), task)
	require.NoError(t, err)

	// Edit a.txt at the source.
	f.src.mu.Lock()
	f.src.files[aID].content = []byte("alpha v2")
	f.src.files[aID].modifiedAt = mtime.Add(2 * time.Hour)
	f.src.mu.Unlock()

	summary, err := f.engine.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesModified)
	assert.Equal(t, 1, summary.FilesCopied)
	assert.Equal(t, 1, summary.FilesSkipped)

	copied := f.dst.fileByName("dst-root", "a.txt")
	require.NotNil(t, copied)
	assert.Equal(t, "alpha v2", string(copied.content))
	// Re-copy replaced the existing file instead of duplicating it.
	assert.Equal(t, 2, f.dst.fileCount())
}

func TestEngine_Cumulative_FolderFilters(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()

	mtime := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f.src.addFile("src-root", "top.txt", "top", mtime)
	photos := f.src.addFolder("src-root", "photos")
	f.src.addFile(photos, "cat.jpg", "img", mtime)
	tmp := f.src.addFolder("src-root", "tmp")
	f.src.addFile(tmp, "scratch.txt", "x", mtime)

	task := newSyncTask(t, f, entities.SyncModeCumulative)
	task.IncludeFolders = "photos,tmp"
	task.ExcludeFolders = "tmp"

	summary, err := f.engine.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesScanned)
	assert.Equal(t, 1, summary.FilesCopied)

	photosFolder := f.dst.folderByName("dst-root", "photos")
	require.NotNil(t, photosFolder)
	assert.NotNil(t, f.dst.fileByName(photosFolder.id, "cat.jpg"))
	assert.Nil(t, f.dst.folderByName("dst-root", "tmp"))
}

func TestEngine_Cumulative_DuplicateSkipIsNotAFailure(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()

	mtime := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f.src.addFile("src-root", "report.pdf", "12345", mtime)

	// The destination already holds an identically named file of the same
	// size from an earlier manual copy.
	require.NoError(t, f.detector.Register(&entities.FileRecord{
		UserID: 1, Name: "report.pdf", Size: 5,
		Provider: entities.ProviderDropbox, FileID: "dbx-old",
	}))

	task := newSyncTask(t, f, entities.SyncModeCumulative)
	task.DuplicateAction = entities.DuplicateSkip

	summary, err := f.engine.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesSkipped)
	assert.Zero(t, summary.FilesCopied)
	assert.Zero(t, summary.FilesFailed)
	assert.Zero(t, f.dst.fileCount())
}

func TestEngine_Mirror_ConflictWhenBothSidesChanged(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()

	srcTime := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f.src.addFile("src-root", "notes.md", "source version", srcTime)
	dstID := f.dst.addFile("dst-root", "notes.md", "dest version", srcTime.Add(2*time.Hour))

	task := newSyncTask(t, f, entities.SyncModeMirror)

	summary, err := f.engine.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ConflictsFound)
	assert.Zero(t, summary.FilesCopied)

	// Neither side was written.
	assert.Equal(t, "dest version", string(f.dst.files[dstID].content))

	open, err := f.conflicts.ListUnresolved(task.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "notes.md", open[0].FileName)

	// The pair stays frozen while the conflict is open: the next pass skips
	// it and does not record a second conflict.
	summary, err = f.engine.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Zero(t, summary.ConflictsFound)

	open, err = f.conflicts.ListUnresolved(task.ID)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestEngine_Mirror_CloseTimestampsAreNotAConflict(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()

	srcTime := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f.src.addFile("src-root", "notes.md", "source version", srcTime)
	f.dst.addFile("dst-root", "notes.md", "dest version", srcTime.Add(30*time.Second))

	task := newSyncTask(t, f, entities.SyncModeMirror)

	summary, err := f.engine.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Zero(t, summary.ConflictsFound)
	assert.Equal(t, 1, summary.FilesCopied)

	// Source wins when the timestamps agree within the threshold.
	copied := f.dst.fileByName("dst-root", "notes.md")
	require.NotNil(t, copied)
	assert.Equal(t, "source version", string(copied.content))
}

func TestEngine_Mirror_CopiesDestOnlyFilesBack(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()

	mtime := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f.src.addFile("src-root", "a.txt", "alpha", mtime)
	f.dst.addFile("dst-root", "only-there.txt", "dest only", mtime)

	task := newSyncTask(t, f, entities.SyncModeMirror)

	summary, err := f.engine.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.FilesCopied)
	assert.Zero(t, summary.ConflictsFound)

	assert.NotNil(t, f.dst.fileByName("dst-root", "a.txt"))
	pulled := f.src.fileByName("src-root", "only-there.txt")
	require.NotNil(t, pulled)
	assert.Equal(t, "dest only", string(pulled.content))
}

func TestEngine_Mirror_FolderFiltersApplyToBothSides(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()

	mtime := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	docs := f.src.addFolder("src-root", "docs")
	f.src.addFile(docs, "plan.md", "plan", mtime)
	srcTmp := f.src.addFolder("src-root", "tmp")
	f.src.addFile(srcTmp, "scratch.txt", "scratch", mtime)
	dstTmp := f.dst.addFolder("dst-root", "tmp")
	f.dst.addFile(dstTmp, "cache.bin", "cache", mtime)

	task := newSyncTask(t, f, entities.SyncModeMirror)
	task.ExcludeFolders = "tmp"

	summary, err := f.engine.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesScanned)
	assert.Equal(t, 1, summary.FilesCopied)

	// The excluded folder moved in neither direction.
	docsFolder := f.dst.folderByName("dst-root", "docs")
	require.NotNil(t, docsFolder)
	assert.NotNil(t, f.dst.fileByName(docsFolder.id, "plan.md"))
	assert.Nil(t, f.dst.fileByName(dstTmp, "scratch.txt"))
	assert.Nil(t, f.src.fileByName(srcTmp, "cache.bin"))
	assert.Equal(t, 2, f.src.fileCount())
	assert.Equal(t, 2, f.dst.fileCount())
}

func TestEngine_ResolveConflict_KeepSource(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()

	srcTime := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f.src.addFile("src-root", "notes.md", "source version", srcTime)
	f.dst.addFile("dst-root", "notes.md", "dest version", srcTime.Add(2*time.Hour))

	task := newSyncTask(t, f, entities.SyncModeMirror)
	_, err := f.engine.Run(context.Background(), task)
	require.NoError(t, err)

	open, err := f.conflicts.ListUnresolved(task.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)

	err = f.engine.ResolveConflict(context.Background(), f.tasksRepo, open[0].ID, entities.ResolutionKeepSource)
	require.NoError(t, err)

	// The corrective copy made the source version authoritative.
	got := f.dst.fileByName("dst-root", "notes.md")
	require.NotNil(t, got)
	assert.Equal(t, "source version", string(got.content))

	resolved, err := f.conflicts.Get(open[0].ID)
	require.NoError(t, err)
	assert.True(t, resolved.IsResolved())
	assert.Equal(t, entities.ResolutionKeepSource, resolved.Resolution)

	// The pair is unfrozen and quiet on the next pass.
	summary, err := f.engine.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Zero(t, summary.ConflictsFound)
	assert.Zero(t, summary.FilesCopied)
}

func TestEngine_ResolveConflict_KeepNewerPicksTarget(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()

	srcTime := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	srcID := f.src.addFile("src-root", "notes.md", "source version", srcTime)
	f.dst.addFile("dst-root", "notes.md", "dest version", srcTime.Add(2*time.Hour))

	task := newSyncTask(t, f, entities.SyncModeMirror)
	_, err := f.engine.Run(context.Background(), task)
	require.NoError(t, err)

	open, err := f.conflicts.ListUnresolved(task.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)

	err = f.engine.ResolveConflict(context.Background(), f.tasksRepo, open[0].ID, entities.ResolutionKeepNewer)
	require.NoError(t, err)

	// The destination copy is newer, so it overwrote the source side.
	assert.Equal(t, "dest version", string(f.src.files[srcID].content))

	resolved, err := f.conflicts.Get(open[0].ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ResolutionKeepNewer, resolved.Resolution)
}
