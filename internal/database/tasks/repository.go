// Package tasks provides persistence for scheduled task definitions and
// their run records.
package tasks

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/skyferry/internal/entities"
)

// ErrNotFound is returned when a scheduled task id does not exist.
var ErrNotFound = errors.New("scheduled task not found")

// Repository handles all scheduled-task database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new scheduled-task repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create persists a new scheduled task.
func (r *Repository) Create(task *entities.ScheduledTask) error {
	return r.db.Create(task).Error
}

// Save updates an existing task in full.
func (r *Repository) Save(task *entities.ScheduledTask) error {
	return r.db.Save(task).Error
}

// Get fetches a task by id.
func (r *Repository) Get(id uint) (*entities.ScheduledTask, error) {
	var task entities.ScheduledTask
	err := r.db.Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// GetDueTasks returns active tasks whose next run time has passed.
func (r *Repository) GetDueTasks(now time.Time) ([]entities.ScheduledTask, error) {
	var due []entities.ScheduledTask
	err := r.db.
		Where("status = ?", entities.TaskStatusActive).
		Where("next_run_at IS NOT NULL AND next_run_at <= ?", now).
		Order("next_run_at ASC").
		Find(&due).Error
	return due, err
}

// SetNextRun records the recomputed next run time. Done before execution so
// a slow run cannot be re-selected by the next poll.
func (r *Repository) SetNextRun(taskID uint, nextRunAt time.Time) error {
	return r.db.Model(&entities.ScheduledTask{}).
		Where("id = ?", taskID).
		Update("next_run_at", nextRunAt).Error
}

// MarkDispatched increments the run counter and stamps the last run time.
func (r *Repository) MarkDispatched(taskID uint, at time.Time) error {
	return r.db.Model(&entities.ScheduledTask{}).
		Where("id = ?", taskID).
		Updates(map[string]any{
			"total_runs":  gorm.Expr("total_runs + 1"),
			"last_run_at": at,
		}).Error
}

// RecordOutcome reconciles task statistics from a finished run.
func (r *Repository) RecordOutcome(taskID uint, succeeded bool, lastError string) error {
	updates := map[string]any{
		"last_error": lastError,
	}
	if succeeded {
		updates["success_runs"] = gorm.Expr("success_runs + 1")
	} else {
		updates["failed_runs"] = gorm.Expr("failed_runs + 1")
	}
	return r.db.Model(&entities.ScheduledTask{}).
		Where("id = ?", taskID).
		Updates(updates).Error
}

// SetStatus pauses, resumes or soft-deletes a task. Resuming clears the last
// error; the caller recomputes next_run_at.
func (r *Repository) SetStatus(taskID uint, status entities.TaskStatus) error {
	result := r.db.Model(&entities.ScheduledTask{}).
		Where("id = ?", taskID).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListForUser returns all non-deleted tasks owned by the user.
func (r *Repository) ListForUser(userID uint) ([]entities.ScheduledTask, error) {
	var tasks []entities.ScheduledTask
	err := r.db.
		Where("user_id = ? AND status <> ?", userID, entities.TaskStatusDeleted).
		Order("created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

// StartRun creates a run record in running state.
func (r *Repository) StartRun(taskID uint, jobID string) (*entities.TaskRun, error) {
	run := &entities.TaskRun{
		TaskID:    taskID,
		JobID:     jobID,
		Status:    entities.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := r.db.Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// FinishRun records a run's terminal state and file counters.
func (r *Repository) FinishRun(runID uint, status entities.RunStatus, copied, skipped, failed int, errMsg string) error {
	now := time.Now()
	return r.db.Model(&entities.TaskRun{}).
		Where("id = ?", runID).
		Updates(map[string]any{
			"status":        status,
			"files_copied":  copied,
			"files_skipped": skipped,
			"files_failed":  failed,
			"error":         errMsg,
			"completed_at":  now,
		}).Error
}

// RunsForTask lists a task's run history, newest first.
func (r *Repository) RunsForTask(taskID uint, limit int) ([]entities.TaskRun, error) {
	var runs []entities.TaskRun
	q := r.db.Where("task_id = ?", taskID).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&runs).Error
	return runs, err
}
