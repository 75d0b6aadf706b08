// Package conflicts persists mirror-sync file conflicts. Conflicts are
// durable data, not errors: automated passes skip a conflicted pair until an
// explicit resolution is recorded.
package conflicts

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/skyferry/internal/entities"
)

// ErrNotFound is returned when a conflict id does not exist.
var ErrNotFound = errors.New("conflict not found")

// Repository handles file-conflict database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new conflict repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create records a newly detected conflict. If an unresolved conflict
// already exists for the same (task, file name) pair the snapshots are
// refreshed instead of creating a duplicate row.
func (r *Repository) Create(conflict *entities.FileConflict) error {
	var existing entities.FileConflict
	err := r.db.
		Where("task_id = ? AND file_name = ? AND resolution = ?",
			conflict.TaskID, conflict.FileName, entities.ResolutionUnresolved).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		conflict.Resolution = entities.ResolutionUnresolved
		return r.db.Create(conflict).Error
	}
	if err != nil {
		return err
	}

	existing.SourceFileID = conflict.SourceFileID
	existing.SourceModifiedAt = conflict.SourceModifiedAt
	existing.SourceSize = conflict.SourceSize
	existing.DestFileID = conflict.DestFileID
	existing.DestModifiedAt = conflict.DestModifiedAt
	existing.DestSize = conflict.DestSize
	if err := r.db.Save(&existing).Error; err != nil {
		return err
	}
	*conflict = existing
	return nil
}

// Get fetches a conflict by id.
func (r *Repository) Get(id uint) (*entities.FileConflict, error) {
	var conflict entities.FileConflict
	err := r.db.Where("id = ?", id).First(&conflict).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conflict, nil
}

// ListUnresolved returns the task's open conflicts.
func (r *Repository) ListUnresolved(taskID uint) ([]entities.FileConflict, error) {
	var rows []entities.FileConflict
	err := r.db.
		Where("task_id = ? AND resolution = ?", taskID, entities.ResolutionUnresolved).
		Find(&rows).Error
	return rows, err
}

// HasUnresolved reports whether the (task, file name) pair currently has an
// open conflict; mirror passes skip such pairs.
func (r *Repository) HasUnresolved(taskID uint, fileName string) (bool, error) {
	var count int64
	err := r.db.Model(&entities.FileConflict{}).
		Where("task_id = ? AND file_name = ? AND resolution = ?",
			taskID, fileName, entities.ResolutionUnresolved).
		Count(&count).Error
	return count > 0, err
}

// Resolve records the explicit resolution choice.
func (r *Repository) Resolve(id uint, resolution entities.ConflictResolution) error {
	now := time.Now()
	result := r.db.Model(&entities.FileConflict{}).
		Where("id = ? AND resolution = ?", id, entities.ResolutionUnresolved).
		Updates(map[string]any{
			"resolution":  resolution,
			"resolved_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
