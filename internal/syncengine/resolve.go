package syncengine

import (
	"context"
	"fmt"
	"path"

	"github.com/mrlokans/skyferry/internal/entities"
	"github.com/mrlokans/skyferry/internal/storage"
)

// TaskGetter loads a scheduled task by id. Satisfied by the tasks repository.
type TaskGetter interface {
	Get(id uint) (*entities.ScheduledTask, error)
}

// ResolveConflict applies an explicit resolution to a recorded conflict and
// performs the corrective copy that makes the winning version authoritative
// on both sides. keep_newer is reduced to keep_source or keep_target by
// comparing the recorded modified times.
func (e *Engine) ResolveConflict(ctx context.Context, taskRepo TaskGetter, conflictID uint, resolution entities.ConflictResolution) error {
	conflict, err := e.conflicts.Get(conflictID)
	if err != nil {
		return err
	}
	if conflict.IsResolved() {
		return fmt.Errorf("conflict %d is already resolved", conflictID)
	}

	task, err := taskRepo.Get(conflict.TaskID)
	if err != nil {
		return fmt.Errorf("failed to load task for conflict: %w", err)
	}

	effective := resolution
	if resolution == entities.ResolutionKeepNewer {
		if conflict.DestModifiedAt.After(conflict.SourceModifiedAt) {
			effective = entities.ResolutionKeepTarget
		} else {
			effective = entities.ResolutionKeepSource
		}
	}

	src, err := e.resolver.Resolve(ctx, task.SourceProvider, task.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve source provider: %w", err)
	}
	dst, err := e.resolver.Resolve(ctx, task.DestProvider, task.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve destination provider: %w", err)
	}

	switch effective {
	case entities.ResolutionKeepSource:
		err = e.correctiveCopy(ctx, task, src, dst, conflict.SourceFileID, conflict.FileName, task.DestFolderID)
	case entities.ResolutionKeepTarget:
		err = e.correctiveCopy(ctx, task, dst, src, conflict.DestFileID, conflict.FileName, task.SourceID)
	default:
		return fmt.Errorf("unknown conflict resolution %q", resolution)
	}
	if err != nil {
		return fmt.Errorf("failed to apply corrective copy: %w", err)
	}

	return e.conflicts.Resolve(conflictID, resolution)
}

// correctiveCopy overwrites the losing side with the winning version and
// refreshes the registry row so the next mirror pass sees the pair as
// unchanged.
func (e *Engine) correctiveCopy(ctx context.Context, task *entities.ScheduledTask, winner, loser storage.Provider, fileID, fileName, loserRootID string) error {
	file, err := winner.GetMetadata(ctx, fileID)
	if err != nil {
		return err
	}

	relDir := path.Dir(fileName)
	folderID := loserRootID
	if relDir != "." && relDir != "" {
		folders := map[string]string{"": loserRootID}
		folderID, err = e.ensureFolder(ctx, loser, folders, relDir)
		if err != nil {
			return err
		}
	}

	written, err := transfer(ctx, winner, loser, *file, file.Name, folderID, true)
	if err != nil {
		return err
	}

	row := &entities.SyncedFile{
		TaskID:       task.ID,
		SourceFileID: file.ID,
		SourcePath:   fileName,
		Provider:     winner.Name(),
		Name:         file.Name,
		Size:         file.Size,
		ModifiedAt:   file.ModifiedAt,
		ContentHash:  file.ContentHash,
		Status:       entities.SyncStatusSynced,
	}
	if winner.Name() == task.SourceProvider {
		row.DestFileID = written.ID
		row.DestPath = written.Path
		row.DestModifiedAt = written.ModifiedAt
	} else {
		// Winner was the destination side; the corrective copy becomes the
		// tracked source file.
		row.SourceFileID = written.ID
		row.SourcePath = path.Join(path.Dir(fileName), written.Name)
		row.DestFileID = file.ID
		row.DestModifiedAt = file.ModifiedAt
	}
	return e.registry.Upsert(row)
}
