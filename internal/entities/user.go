package entities

import (
	"time"
)

// Plan is the user's subscription tier; it bounds how many jobs may run
// concurrently for that user.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// User owns jobs, scheduled tasks and registered files. Account management
// lives outside this service; only the fields the orchestration core needs
// are stored here.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Username string `gorm:"size:255;uniqueIndex;not null" json:"username"`
	Email    string `gorm:"size:255;uniqueIndex" json:"email"`
	Plan     Plan   `gorm:"size:20;default:free" json:"plan"`
}

func (User) TableName() string {
	return "users"
}
