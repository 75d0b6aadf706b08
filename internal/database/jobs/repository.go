// Package jobs provides the durable job store the queue workers run against.
//
// The locked_by/locked_at pair on each row is the only mutual-exclusion
// mechanism shared between worker processes: ClaimPending flips rows from
// pending to in_progress with a per-row compare-and-swap, so no job id is
// ever handed to two concurrent claims.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mrlokans/skyferry/internal/entities"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("job not found")

// ErrNotRetryable is returned when an administrative retry targets a job
// that is not in a failed state.
var ErrNotRetryable = errors.New("job is not in a failed state")

// Repository handles all job persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new job repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create persists a new pending job, assigning an id if the caller did not.
func (r *Repository) Create(job *entities.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = entities.JobStatusPending
	}
	return r.db.Create(job).Error
}

// Get fetches a job by id.
func (r *Repository) Get(id string) (*entities.Job, error) {
	var job entities.Job
	err := r.db.Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimPending atomically claims up to limit due pending jobs for workerID,
// ordered by priority descending then creation time ascending. Each selected
// row is transitioned with a guarded update; rows another worker claimed
// between selection and update are simply skipped.
func (r *Repository) ClaimPending(workerID string, limit int) ([]entities.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now()

	var candidates []entities.Job
	err := r.db.
		Where("status = ?", entities.JobStatusPending).
		Where("next_run_at IS NULL OR next_run_at <= ?", now).
		Order("priority DESC").
		Order("created_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select pending jobs: %w", err)
	}

	var claimed []entities.Job
	for _, job := range candidates {
		result := r.db.Model(&entities.Job{}).
			Where("id = ? AND status = ?", job.ID, entities.JobStatusPending).
			Updates(map[string]any{
				"status":     entities.JobStatusInProgress,
				"locked_by":  workerID,
				"locked_at":  now,
				"updated_at": now,
			})
		if result.Error != nil {
			return claimed, fmt.Errorf("failed to claim job %s: %w", job.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			// Lost the race to another worker.
			continue
		}
		job.Status = entities.JobStatusInProgress
		job.LockedBy = workerID
		lockedAt := now
		job.LockedAt = &lockedAt
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// Release returns a claimed job to pending without counting an attempt,
// delayed by the given duration. Used by per-user admission control.
func (r *Repository) Release(jobID string, delay time.Duration) error {
	nextRun := time.Now().Add(delay)
	return r.db.Model(&entities.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":      entities.JobStatusPending,
			"locked_by":   "",
			"locked_at":   nil,
			"next_run_at": nextRun,
		}).Error
}

// UpdateProgress persists a progress checkpoint so a restarted reader can
// resume from the stored counts.
func (r *Repository) UpdateProgress(jobID string, completed, total, pct int) error {
	return r.db.Model(&entities.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"completed_files": completed,
			"total_files":     total,
			"progress_pct":    pct,
		}).Error
}

// MarkCompleted transitions a job to its terminal completed state and
// records the copy result.
func (r *Repository) MarkCompleted(jobID string, result entities.Job) error {
	now := time.Now()
	return r.db.Model(&entities.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":           entities.JobStatusCompleted,
			"locked_by":        "",
			"locked_at":        nil,
			"progress_pct":     100,
			"copied_file_id":   result.CopiedFileID,
			"copied_file_name": result.CopiedFileName,
			"copied_file_url":  result.CopiedFileURL,
			"duration":         result.Duration,
			"error_message":    "",
			"completed_at":     now,
		}).Error
}

// MarkFailed transitions a job to its terminal failed state.
func (r *Repository) MarkFailed(jobID string, attempts int, errMsg string) error {
	now := time.Now()
	return r.db.Model(&entities.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":        entities.JobStatusFailed,
			"locked_by":     "",
			"locked_at":     nil,
			"attempts":      attempts,
			"error_message": errMsg,
			"completed_at":  now,
		}).Error
}

// RescheduleWithBackoff returns a failed execution to pending with the
// incremented attempt count and the computed backoff target.
func (r *Repository) RescheduleWithBackoff(jobID string, attempts int, nextRunAt time.Time, errMsg string) error {
	return r.db.Model(&entities.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":        entities.JobStatusPending,
			"locked_by":     "",
			"locked_at":     nil,
			"attempts":      attempts,
			"next_run_at":   nextRunAt,
			"error_message": errMsg,
		}).Error
}

// CountRunningForUser counts the user's jobs currently in progress.
func (r *Repository) CountRunningForUser(userID uint) (int, error) {
	var count int64
	err := r.db.Model(&entities.Job{}).
		Where("user_id = ? AND status = ?", userID, entities.JobStatusInProgress).
		Count(&count).Error
	return int(count), err
}

// ReclaimStale returns every in-progress job locked longer ago than
// olderThan back to pending, handling workers that crashed mid-execution.
// Jobs locked more recently are never touched.
func (r *Repository) ReclaimStale(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	result := r.db.Model(&entities.Job{}).
		Where("status = ? AND locked_at < ?", entities.JobStatusInProgress, cutoff).
		Updates(map[string]any{
			"status":    entities.JobStatusPending,
			"locked_by": "",
			"locked_at": nil,
		})
	return int(result.RowsAffected), result.Error
}

// PurgeTerminal deletes completed and failed jobs older than the retention
// window and returns how many were removed.
func (r *Repository) PurgeTerminal(retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	result := r.db.
		Where("status IN ? AND completed_at < ?",
			[]entities.JobStatus{entities.JobStatusCompleted, entities.JobStatusFailed}, cutoff).
		Delete(&entities.Job{})
	return int(result.RowsAffected), result.Error
}

// RequestCancel sets the cooperative cancellation flag. The executing worker
// observes it at its next checkpoint; an in-flight provider call is not
// interrupted.
func (r *Repository) RequestCancel(jobID string) error {
	result := r.db.Model(&entities.Job{}).
		Where("id = ?", jobID).
		Update("cancel_requested", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IsCancelRequested re-reads the cancellation flag for a job.
func (r *Repository) IsCancelRequested(jobID string) (bool, error) {
	var job entities.Job
	err := r.db.Select("cancel_requested").Where("id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

// RetryFailed administratively resets a failed job to pending with a clean
// attempt counter. Terminal jobs are otherwise immutable.
func (r *Repository) RetryFailed(jobID string) error {
	result := r.db.Model(&entities.Job{}).
		Where("id = ? AND status = ?", jobID, entities.JobStatusFailed).
		Updates(map[string]any{
			"status":           entities.JobStatusPending,
			"attempts":         0,
			"next_run_at":      nil,
			"error_message":    "",
			"cancel_requested": false,
			"completed_at":     nil,
			"completed_files":  0,
			"progress_pct":     0,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.Get(jobID); err != nil {
			return err
		}
		return ErrNotRetryable
	}
	return nil
}
