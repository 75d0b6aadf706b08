// Package syncengine computes and applies file-level diffs between a source
// and destination tree. Cumulative mode copies new and modified source files
// forward, skipping unchanged ones via the sync registry; mirror mode is
// bidirectional and records conflicts instead of guessing when both sides
// changed.
package syncengine

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/mrlokans/skyferry/internal/database/conflicts"
	"github.com/mrlokans/skyferry/internal/database/syncfiles"
	"github.com/mrlokans/skyferry/internal/duplicates"
	"github.com/mrlokans/skyferry/internal/entities"
	"github.com/mrlokans/skyferry/internal/storage"
)

// Summary aggregates the outcome of one sync pass.
type Summary struct {
	FilesScanned   int
	FilesNew       int
	FilesModified  int
	FilesCopied    int
	FilesSkipped   int
	FilesFailed    int
	ConflictsFound int
}

// Engine runs sync passes for scheduled tasks.
type Engine struct {
	resolver  storage.Resolver
	registry  *syncfiles.Repository
	conflicts *conflicts.Repository
	detector  *duplicates.Detector

	// conflictThreshold is the modified-time difference beyond which two
	// timestamps count as genuinely different. A heuristic carried from
	// production experience, kept configurable.
	conflictThreshold time.Duration
}

// NewEngine creates a sync engine.
func NewEngine(
	resolver storage.Resolver,
	registry *syncfiles.Repository,
	conflictRepo *conflicts.Repository,
	detector *duplicates.Detector,
	conflictThreshold time.Duration,
) *Engine {
	if conflictThreshold <= 0 {
		conflictThreshold = 60 * time.Second
	}
	return &Engine{
		resolver:          resolver,
		registry:          registry,
		conflicts:         conflictRepo,
		detector:          detector,
		conflictThreshold: conflictThreshold,
	}
}

// Run executes the task's configured sync mode.
func (e *Engine) Run(ctx context.Context, task *entities.ScheduledTask) (*Summary, error) {
	src, err := e.resolver.Resolve(ctx, task.SourceProvider, task.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source provider: %w", err)
	}
	dst, err := e.resolver.Resolve(ctx, task.DestProvider, task.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination provider: %w", err)
	}

	switch task.SyncMode {
	case entities.SyncModeCumulative:
		return e.runCumulative(ctx, task, src, dst)
	case entities.SyncModeMirror:
		return e.runMirror(ctx, task, src, dst)
	default:
		return nil, fmt.Errorf("sync engine cannot run mode %q", task.SyncMode)
	}
}

// runCumulative classifies every source file against the registry: new files
// are copied and registered, modified ones re-copied, unchanged ones skipped.
func (e *Engine) runCumulative(ctx context.Context, task *entities.ScheduledTask, src, dst storage.Provider) (*Summary, error) {
	entries, err := storage.WalkTree(ctx, src, task.SourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate source tree: %w", err)
	}
	entries = applyFolderFilters(entries, task)

	summary := &Summary{}
	destFolders := map[string]string{"": task.DestFolderID}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.FilesScanned++

		row, err := e.registry.Get(task.ID, entry.File.ID)
		if err != nil {
			return summary, fmt.Errorf("failed to read sync registry: %w", err)
		}

		switch {
		case row == nil:
			summary.FilesNew++
		case fileChanged(row, entry.File):
			summary.FilesModified++
		default:
			summary.FilesSkipped++
			continue
		}

		destFolderID, err := e.ensureFolder(ctx, dst, destFolders, entry.RelPath)
		if err != nil {
			summary.FilesFailed++
			log.Printf("[SYNC] task %d: failed to create folder %q: %v", task.ID, entry.RelPath, err)
			continue
		}

		overwrite := row != nil // re-syncing a modified file replaces the old copy
		written, skipped, err := e.copyFile(ctx, task, src, dst, entry.File, destFolderID, overwrite)
		if err != nil {
			summary.FilesFailed++
			if row != nil {
				if markErr := e.registry.MarkStatus(task.ID, entry.File.ID, entities.SyncStatusFailed); markErr != nil {
					log.Printf("[SYNC] task %d: failed to mark registry row: %v", task.ID, markErr)
				}
			}
			log.Printf("[SYNC] task %d: failed to copy %q: %v", task.ID, entry.File.Name, err)
			continue
		}
		if skipped {
			// Duplicate detector said skip; not a failure even for a new file.
			summary.FilesSkipped++
			continue
		}

		summary.FilesCopied++
		if err := e.recordSynced(task, src.Name(), entry, written); err != nil {
			log.Printf("[SYNC] task %d: failed to update sync registry: %v", task.ID, err)
		}
	}

	return summary, nil
}

// runMirror synchronizes both directions. Phase 1 pushes source-only files
// and non-conflicting source modifications to the destination; files changed
// on both sides become durable conflicts and are not written. Phase 2 pulls
// destination-only files back to the source.
func (e *Engine) runMirror(ctx context.Context, task *entities.ScheduledTask, src, dst storage.Provider) (*Summary, error) {
	srcEntries, err := storage.WalkTree(ctx, src, task.SourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate source tree: %w", err)
	}
	dstEntries, err := storage.WalkTree(ctx, dst, task.DestFolderID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate destination tree: %w", err)
	}

	// Selective sync applies to both directions: a filtered folder is
	// invisible to the diff no matter which side it lives on.
	srcEntries = applyFolderFilters(srcEntries, task)
	dstEntries = applyFolderFilters(dstEntries, task)

	srcIndex := indexByRelName(srcEntries)
	dstIndex := indexByRelName(dstEntries)

	summary := &Summary{}
	destFolders := map[string]string{"": task.DestFolderID}
	sourceFolders := map[string]string{"": task.SourceID}

	// Phase 1: source -> destination.
	for key, srcEntry := range srcIndex {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.FilesScanned++

		open, err := e.conflicts.HasUnresolved(task.ID, key)
		if err != nil {
			return summary, fmt.Errorf("failed to check open conflicts: %w", err)
		}
		if open {
			summary.FilesSkipped++
			continue
		}

		dstEntry, onBothSides := dstIndex[key]
		if !onBothSides {
			destFolderID, err := e.ensureFolder(ctx, dst, destFolders, srcEntry.RelPath)
			if err != nil {
				summary.FilesFailed++
				log.Printf("[SYNC] task %d: failed to create folder %q: %v", task.ID, srcEntry.RelPath, err)
				continue
			}
			written, skipped, err := e.copyFile(ctx, task, src, dst, srcEntry.File, destFolderID, false)
			if err != nil {
				summary.FilesFailed++
				log.Printf("[SYNC] task %d: failed to copy %q: %v", task.ID, key, err)
				continue
			}
			if skipped {
				summary.FilesSkipped++
				continue
			}
			summary.FilesCopied++
			if err := e.recordSynced(task, src.Name(), srcEntry, written); err != nil {
				log.Printf("[SYNC] task %d: failed to update sync registry: %v", task.ID, err)
			}
			continue
		}

		row, err := e.registry.Get(task.ID, srcEntry.File.ID)
		if err != nil {
			return summary, fmt.Errorf("failed to read sync registry: %w", err)
		}

		srcChanged, dstChanged := e.sidesChanged(row, srcEntry.File, dstEntry.File)
		apart := absDiff(srcEntry.File.ModifiedAt, dstEntry.File.ModifiedAt) > e.conflictThreshold

		if srcChanged && dstChanged && apart {
			conflict := &entities.FileConflict{
				TaskID:           task.ID,
				FileName:         key,
				SourceFileID:     srcEntry.File.ID,
				SourceModifiedAt: srcEntry.File.ModifiedAt,
				SourceSize:       srcEntry.File.Size,
				DestFileID:       dstEntry.File.ID,
				DestModifiedAt:   dstEntry.File.ModifiedAt,
				DestSize:         dstEntry.File.Size,
			}
			if err := e.conflicts.Create(conflict); err != nil {
				return summary, fmt.Errorf("failed to record conflict: %w", err)
			}
			summary.ConflictsFound++
			summary.FilesSkipped++
			continue
		}

		if !srcChanged {
			summary.FilesSkipped++
			continue
		}

		// Non-conflicting source modification: forced overwrite.
		destFolderID, err := e.ensureFolder(ctx, dst, destFolders, srcEntry.RelPath)
		if err != nil {
			summary.FilesFailed++
			continue
		}
		written, err := e.copyForced(ctx, src, dst, srcEntry.File, destFolderID)
		if err != nil {
			summary.FilesFailed++
			log.Printf("[SYNC] task %d: failed to overwrite %q: %v", task.ID, key, err)
			continue
		}
		summary.FilesModified++
		summary.FilesCopied++
		if err := e.recordSynced(task, src.Name(), srcEntry, written); err != nil {
			log.Printf("[SYNC] task %d: failed to update sync registry: %v", task.ID, err)
		}
	}

	// Phase 2: destination -> source, direction reversed.
	for key, dstEntry := range dstIndex {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if _, exists := srcIndex[key]; exists {
			continue
		}
		summary.FilesScanned++

		sourceFolderID, err := e.ensureFolder(ctx, src, sourceFolders, dstEntry.RelPath)
		if err != nil {
			summary.FilesFailed++
			continue
		}
		written, skipped, err := e.copyFile(ctx, task, dst, src, dstEntry.File, sourceFolderID, false)
		if err != nil {
			summary.FilesFailed++
			log.Printf("[SYNC] task %d: failed to copy back %q: %v", task.ID, key, err)
			continue
		}
		if skipped {
			summary.FilesSkipped++
			continue
		}
		summary.FilesCopied++
		// The copied-back file becomes the tracked source version.
		if written != nil {
			reversed := storage.TreeEntry{File: *written, RelPath: dstEntry.RelPath}
			if err := e.recordSynced(task, src.Name(), reversed, &dstEntry.File); err != nil {
				log.Printf("[SYNC] task %d: failed to update sync registry: %v", task.ID, err)
			}
		}
	}

	return summary, nil
}

// sidesChanged decides which sides moved since the last synced state. With
// no registry row both sides count as changed; the timestamps then settle it.
func (e *Engine) sidesChanged(row *entities.SyncedFile, srcFile, dstFile storage.FileInfo) (bool, bool) {
	if row == nil {
		return true, true
	}
	srcChanged := absDiff(srcFile.ModifiedAt, row.ModifiedAt) > e.conflictThreshold
	dstChanged := absDiff(dstFile.ModifiedAt, row.DestModifiedAt) > e.conflictThreshold
	return srcChanged, dstChanged
}

// copyFile moves one file after consulting the duplicate detector with the
// task's configured action. Same-provider pairs use server-side copy.
func (e *Engine) copyFile(
	ctx context.Context,
	task *entities.ScheduledTask,
	src, dst storage.Provider,
	file storage.FileInfo,
	destFolderID string,
	overwrite bool,
) (*storage.FileInfo, bool, error) {
	name := file.Name

	if !overwrite {
		check, err := e.detector.Check(duplicates.Candidate{
			UserID:      task.UserID,
			Name:        file.Name,
			Size:        file.Size,
			Provider:    dst.Name(),
			ContentHash: file.ContentHash,
		})
		if err != nil {
			return nil, false, err
		}
		if check.IsDuplicate {
			switch task.DuplicateAction {
			case entities.DuplicateReplace:
				overwrite = true
			case entities.DuplicateCopyWithSuffix:
				name = duplicates.SuffixedName(file.Name)
			default:
				return nil, true, nil
			}
		}
	}

	written, err := transfer(ctx, src, dst, file, name, destFolderID, overwrite)
	if err != nil {
		return nil, false, err
	}

	record := &entities.FileRecord{
		UserID:      task.UserID,
		Name:        written.Name,
		Size:        file.Size,
		Provider:    dst.Name(),
		FileID:      written.ID,
		ContentHash: file.ContentHash,
	}
	if err := e.detector.Register(record); err != nil {
		log.Printf("[SYNC] task %d: failed to register file record: %v", task.ID, err)
	}

	return written, false, nil
}

// copyForced overwrites the destination copy without a duplicate check;
// used for non-conflicting modifications during mirror sync.
func (e *Engine) copyForced(ctx context.Context, src, dst storage.Provider, file storage.FileInfo, destFolderID string) (*storage.FileInfo, error) {
	return transfer(ctx, src, dst, file, file.Name, destFolderID, true)
}

// transfer does the actual byte movement: server-side copy within one
// provider, download-then-upload across providers with the source modified
// time preserved as upload metadata.
func transfer(ctx context.Context, src, dst storage.Provider, file storage.FileInfo, name, destFolderID string, overwrite bool) (*storage.FileInfo, error) {
	if src.Name() == dst.Name() {
		return dst.Copy(ctx, file.ID, destFolderID, name)
	}

	reader, err := src.Download(ctx, file.ID)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return dst.Upload(ctx, storage.UploadOptions{
		Name:         name,
		Content:      reader,
		Size:         file.Size,
		DestFolderID: destFolderID,
		ModifiedAt:   file.ModifiedAt,
		Overwrite:    overwrite,
	})
}

func (e *Engine) recordSynced(task *entities.ScheduledTask, provider entities.ProviderName, entry storage.TreeEntry, written *storage.FileInfo) error {
	row := &entities.SyncedFile{
		TaskID:       task.ID,
		SourceFileID: entry.File.ID,
		SourcePath:   path.Join(entry.RelPath, entry.File.Name),
		Provider:     provider,
		Name:         entry.File.Name,
		Size:         entry.File.Size,
		ModifiedAt:   entry.File.ModifiedAt,
		ContentHash:  entry.File.ContentHash,
		Status:       entities.SyncStatusSynced,
	}
	if written != nil {
		row.DestFileID = written.ID
		row.DestPath = written.Path
		row.DestModifiedAt = written.ModifiedAt
	}
	return e.registry.Upsert(row)
}

// ensureFolder creates the folder chain for relPath on the given provider,
// reusing folders already seen during this pass.
func (e *Engine) ensureFolder(ctx context.Context, p storage.Provider, folders map[string]string, relPath string) (string, error) {
	if id, ok := folders[relPath]; ok {
		return id, nil
	}

	parent := path.Dir(relPath)
	if parent == "." {
		parent = ""
	}
	parentID, err := e.ensureFolder(ctx, p, folders, parent)
	if err != nil {
		return "", err
	}

	created, err := p.CreateFolder(ctx, path.Base(relPath), parentID)
	if err != nil {
		return "", err
	}
	folders[relPath] = created.ID
	return created.ID, nil
}

// fileChanged reports whether a tracked file differs from its registry row:
// content hash wins when both sides have one, then modified time, then size.
func fileChanged(row *entities.SyncedFile, file storage.FileInfo) bool {
	if row.ContentHash != "" && file.ContentHash != "" {
		return row.ContentHash != file.ContentHash
	}
	if !row.ModifiedAt.IsZero() && !file.ModifiedAt.IsZero() {
		return !row.ModifiedAt.Equal(file.ModifiedAt)
	}
	return row.Size != file.Size
}

// applyFolderFilters enforces the task's selective-sync allow/deny lists
// against each entry's folder path.
func applyFolderFilters(entries []storage.TreeEntry, task *entities.ScheduledTask) []storage.TreeEntry {
	include := splitFolders(task.IncludeFolders)
	exclude := splitFolders(task.ExcludeFolders)
	if len(include) == 0 && len(exclude) == 0 {
		return entries
	}

	var filtered []storage.TreeEntry
	for _, entry := range entries {
		if len(include) > 0 && !matchesAny(entry.RelPath, include) {
			continue
		}
		if matchesAny(entry.RelPath, exclude) {
			continue
		}
		filtered = append(filtered, entry)
	}
	return filtered
}

func splitFolders(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.Trim(strings.TrimSpace(part), "/")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func matchesAny(relPath string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if relPath == prefix || strings.HasPrefix(relPath, prefix+"/") {
			return true
		}
	}
	return false
}

func indexByRelName(entries []storage.TreeEntry) map[string]storage.TreeEntry {
	index := make(map[string]storage.TreeEntry, len(entries))
	for _, entry := range entries {
		index[path.Join(entry.RelPath, entry.File.Name)] = entry
	}
	return index
}

func absDiff(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}
