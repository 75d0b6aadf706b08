// Package files persists the per-user registry of previously written files
// the duplicate detector matches against.
package files

import (
	"errors"

	"gorm.io/gorm"

	"github.com/mrlokans/skyferry/internal/entities"
)

// Repository handles file-record database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new file-record repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Register records a successfully written file for future duplicate checks.
func (r *Repository) Register(record *entities.FileRecord) error {
	return r.db.Create(record).Error
}

// FindByMetadata looks up a record matching owner, name and size, optionally
// narrowed to one provider. Content is not touched.
func (r *Repository) FindByMetadata(userID uint, name string, size int64, provider entities.ProviderName) (*entities.FileRecord, error) {
	q := r.db.Where("user_id = ? AND name = ? AND size = ?", userID, name, size)
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}

	var record entities.FileRecord
	err := q.First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByHash looks up a record by content hash across all the user's files,
// independent of name.
func (r *Repository) FindByHash(userID uint, contentHash string) (*entities.FileRecord, error) {
	var record entities.FileRecord
	err := r.db.
		Where("user_id = ? AND content_hash = ?", userID, contentHash).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
