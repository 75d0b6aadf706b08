// Package users provides the minimal user lookups the orchestration core
// needs: plan tiers for admission control.
package users

import (
	"errors"

	"gorm.io/gorm"

	"github.com/mrlokans/skyferry/internal/entities"
)

// ErrNotFound is returned when a user id does not exist.
var ErrNotFound = errors.New("user not found")

// Repository handles user database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new user repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Get fetches a user by id.
func (r *Repository) Get(id uint) (*entities.User, error) {
	var user entities.User
	err := r.db.Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// PlanFor returns the user's plan tier, defaulting to free for unknown
// users so admission control stays conservative.
func (r *Repository) PlanFor(userID uint) (entities.Plan, error) {
	user, err := r.Get(userID)
	if errors.Is(err, ErrNotFound) {
		return entities.PlanFree, nil
	}
	if err != nil {
		return entities.PlanFree, err
	}
	if user.Plan == "" {
		return entities.PlanFree, nil
	}
	return user.Plan, nil
}
