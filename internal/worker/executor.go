package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"

	"github.com/mrlokans/skyferry/internal/duplicates"
	"github.com/mrlokans/skyferry/internal/entities"
	"github.com/mrlokans/skyferry/internal/events"
	"github.com/mrlokans/skyferry/internal/storage"
)

// errCancelled marks a cooperative cancellation detected at a checkpoint.
var errCancelled = errors.New("job cancelled")

func errIsCancellation(err error) bool {
	return errors.Is(err, errCancelled)
}

// execute runs a claimed job to completion. Cancellation is checked before
// starting, after the download, and between files of a folder copy; an
// in-flight provider call is never interrupted.
func (w *Worker) execute(ctx context.Context, job *entities.Job) (*entities.Job, error) {
	if err := w.checkCancelled(job.ID); err != nil {
		return nil, err
	}

	src, err := w.resolver.Resolve(ctx, job.SourceProvider, job.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source provider: %w", err)
	}
	dst, err := w.resolver.Resolve(ctx, job.DestProvider, job.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination provider: %w", err)
	}

	// A job created from a URL carries no resource id yet.
	if job.SourceID == "" && job.SourceURL != "" {
		resource, err := src.ParseResourceURL(job.SourceURL)
		if err != nil {
			return nil, err
		}
		job.SourceID = resource.ID
		if resource.Kind == storage.ResourceFolder {
			job.ItemType = entities.ItemTypeFolder
		} else {
			job.ItemType = entities.ItemTypeFile
		}
	}

	if job.ItemType == entities.ItemTypeFolder {
		return w.executeFolder(ctx, job, src, dst)
	}
	return w.executeFile(ctx, job, src, dst)
}

// executeFile transfers a single file with progress checkpoints at 50%
// (post-download) and 100% (post-upload).
func (w *Worker) executeFile(ctx context.Context, job *entities.Job, src, dst storage.Provider) (*entities.Job, error) {
	meta, err := src.GetMetadata(ctx, job.SourceID)
	if err != nil {
		return nil, err
	}

	w.reportProgress(job, 0, 1, 0)

	copied, skipped, err := w.copyOne(ctx, job, src, dst, *meta, job.DestFolderID, true)
	if err != nil {
		return nil, err
	}

	w.reportProgress(job, 1, 1, 100)

	result := &entities.Job{
		CopiedFileName: meta.Name,
	}
	if copied != nil {
		result.CopiedFileID = copied.ID
		result.CopiedFileName = copied.Name
		result.CopiedFileURL = copied.URL
	}
	if skipped {
		result.CopiedFileName = meta.Name
	}
	return result, nil
}

// executeFolder copies a folder tree depth-first. Progress counts files, not
// folders, and one file's failure does not abort the rest of the copy.
func (w *Worker) executeFolder(ctx context.Context, job *entities.Job, src, dst storage.Provider) (*entities.Job, error) {
	entries, err := storage.WalkTree(ctx, src, job.SourceID)
	if err != nil {
		return nil, err
	}

	total := len(entries)
	w.reportProgress(job, 0, total, 0)

	rootName := job.SourceName
	if rootName == "" {
		if meta, err := src.GetMetadata(ctx, job.SourceID); err == nil {
			rootName = meta.Name
		} else {
			rootName = path.Base(job.SourceID)
		}
	}
	root, err := dst.CreateFolder(ctx, rootName, job.DestFolderID)
	if err != nil {
		return nil, err
	}

	// Destination folders are created lazily as their first file arrives.
	destFolders := map[string]string{"": root.ID}

	completed := 0
	failed := 0
	var lastErr error
	for _, entry := range entries {
		if err := w.checkCancelled(job.ID); err != nil {
			return nil, err
		}

		destFolderID, err := w.ensureFolder(ctx, dst, destFolders, entry.RelPath)
		if err != nil {
			failed++
			lastErr = err
			log.Printf("[WORKER] %s job %s: failed to create folder %q: %v", w.id, job.ID, entry.RelPath, err)
			continue
		}

		if _, _, err := w.copyOne(ctx, job, src, dst, entry.File, destFolderID, false); err != nil {
			if errIsCancellation(err) {
				return nil, err
			}
			failed++
			lastErr = err
			log.Printf("[WORKER] %s job %s: failed to copy %q: %v", w.id, job.ID, entry.File.Name, err)
			continue
		}

		completed++
		pct := 100
		if total > 0 {
			pct = completed * 100 / total
		}
		w.reportProgress(job, completed, total, pct)
	}

	if failed > 0 {
		return nil, fmt.Errorf("%d of %d files failed, last error: %w", failed, total, lastErr)
	}

	w.reportProgress(job, completed, total, 100)

	return &entities.Job{
		CopiedFileID:   root.ID,
		CopiedFileName: rootName,
		CopiedFileURL:  root.URL,
	}, nil
}

// ensureFolder creates the destination folder chain for relPath, reusing
// folders already created during this execution.
func (w *Worker) ensureFolder(ctx context.Context, dst storage.Provider, destFolders map[string]string, relPath string) (string, error) {
	if id, ok := destFolders[relPath]; ok {
		return id, nil
	}

	parent := path.Dir(relPath)
	if parent == "." {
		parent = ""
	}
	parentID, err := w.ensureFolder(ctx, dst, destFolders, parent)
	if err != nil {
		return "", err
	}

	created, err := dst.CreateFolder(ctx, path.Base(relPath), parentID)
	if err != nil {
		return "", err
	}
	destFolders[relPath] = created.ID
	return created.ID, nil
}

// copyOne moves a single file after consulting the duplicate detector.
// Same-provider transfers use the provider's server-side copy; cross-provider
// transfers download then upload, preserving the source modified time. The
// midpoint checkpoint is only reported for single-file jobs.
func (w *Worker) copyOne(
	ctx context.Context,
	job *entities.Job,
	src, dst storage.Provider,
	file storage.FileInfo,
	destFolderID string,
	reportMidpoint bool,
) (*storage.FileInfo, bool, error) {
	name := file.Name
	overwrite := false

	check, err := w.detector.Check(duplicates.Candidate{
		UserID:      job.UserID,
		Name:        file.Name,
		Size:        file.Size,
		Provider:    job.DestProvider,
		ContentHash: file.ContentHash,
	})
	if err != nil {
		return nil, false, err
	}
	if check.IsDuplicate {
		switch job.DuplicateAction {
		case entities.DuplicateReplace:
			overwrite = true
		case entities.DuplicateCopyWithSuffix:
			name = duplicates.SuffixedName(file.Name)
		default:
			// Skip: nothing to write, not a failure.
			return nil, true, nil
		}
	}

	var written *storage.FileInfo
	if src.Name() == dst.Name() {
		written, err = dst.Copy(ctx, file.ID, destFolderID, name)
		if err != nil {
			return nil, false, err
		}
	} else {
		reader, err := src.Download(ctx, file.ID)
		if err != nil {
			return nil, false, err
		}

		if reportMidpoint {
			w.reportProgress(job, 0, 1, 50)
		}
		if err := w.checkCancelled(job.ID); err != nil {
			reader.Close()
			return nil, false, err
		}

		written, err = dst.Upload(ctx, storage.UploadOptions{
			Name:         name,
			Content:      reader,
			Size:         file.Size,
			DestFolderID: destFolderID,
			ModifiedAt:   file.ModifiedAt,
			Overwrite:    overwrite,
		})
		reader.Close()
		if err != nil {
			return nil, false, err
		}
	}

	// Registration after a successful write keeps future duplicate checks
	// honest; a registration failure must not fail the transfer.
	record := &entities.FileRecord{
		UserID:      job.UserID,
		Name:        written.Name,
		Size:        file.Size,
		Provider:    job.DestProvider,
		FileID:      written.ID,
		ContentHash: file.ContentHash,
	}
	if err := w.detector.Register(record); err != nil {
		log.Printf("[WORKER] %s job %s: failed to register file record: %v", w.id, job.ID, err)
	}

	return written, false, nil
}

// checkCancelled polls the cooperative cancellation flag.
func (w *Worker) checkCancelled(jobID string) error {
	cancelled, err := w.jobsRepo.IsCancelRequested(jobID)
	if err != nil {
		// A flag read failure must not kill the job; log and proceed.
		log.Printf("[WORKER] %s cancel check failed for job %s: %v", w.id, jobID, err)
		return nil
	}
	if cancelled {
		return errCancelled
	}
	return nil
}

// reportProgress persists the checkpoint and emits the live event. Events
// for one job are strictly ordered because its execution is sequential.
func (w *Worker) reportProgress(job *entities.Job, completed, total, pct int) {
	if err := w.jobsRepo.UpdateProgress(job.ID, completed, total, pct); err != nil {
		log.Printf("[WORKER] %s failed to persist progress for job %s: %v", w.id, job.ID, err)
	}
	w.bus.Publish(events.Progress(job.ID, job.UserID, completed, total, pct))
}
