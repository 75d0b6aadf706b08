// Package syncfiles persists the per-task sync registry: one row per tracked
// source file, the memory cumulative sync uses to skip unchanged files.
package syncfiles

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/skyferry/internal/entities"
)

// Repository handles sync registry database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new sync registry repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Get returns the registry row for a (task, source file) pair, or nil when
// the file has never been synced.
func (r *Repository) Get(taskID uint, sourceFileID string) (*entities.SyncedFile, error) {
	var row entities.SyncedFile
	err := r.db.
		Where("task_id = ? AND source_file_id = ?", taskID, sourceFileID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListForTask returns all registry rows for a task.
func (r *Repository) ListForTask(taskID uint) ([]entities.SyncedFile, error) {
	var rows []entities.SyncedFile
	err := r.db.Where("task_id = ?", taskID).Find(&rows).Error
	return rows, err
}

// Upsert inserts or updates the registry row for the file and stamps the
// last-synced time.
func (r *Repository) Upsert(row *entities.SyncedFile) error {
	now := time.Now()
	row.LastSyncedAt = &now

	existing, err := r.Get(row.TaskID, row.SourceFileID)
	if err != nil {
		return err
	}
	if existing == nil {
		return r.db.Create(row).Error
	}

	row.ID = existing.ID
	row.CreatedAt = existing.CreatedAt
	return r.db.Save(row).Error
}

// MarkStatus updates just the sync status of an existing row.
func (r *Repository) MarkStatus(taskID uint, sourceFileID string, status entities.SyncStatus) error {
	return r.db.Model(&entities.SyncedFile{}).
		Where("task_id = ? AND source_file_id = ?", taskID, sourceFileID).
		Update("status", status).Error
}
