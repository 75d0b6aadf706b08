package entities

import (
	"time"
)

// ConflictResolution is the explicit choice applied to a mirror-sync conflict.
type ConflictResolution string

const (
	ResolutionUnresolved ConflictResolution = "unresolved"
	ResolutionKeepNewer  ConflictResolution = "keep_newer"
	ResolutionKeepSource ConflictResolution = "keep_source"
	ResolutionKeepTarget ConflictResolution = "keep_target"
)

// FileConflict is recorded during mirror sync when both sides of a file pair
// changed since the last known synced state. Conflicts are durable: automated
// passes skip the pair until an explicit resolution call is made.
type FileConflict struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TaskID    uint      `gorm:"index;not null" json:"task_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	FileName string `gorm:"size:512;not null" json:"file_name"`

	SourceFileID     string    `gorm:"size:512" json:"source_file_id"`
	SourceModifiedAt time.Time `json:"source_modified_at"`
	SourceSize       int64     `gorm:"default:0" json:"source_size"`

	DestFileID     string    `gorm:"size:512" json:"dest_file_id"`
	DestModifiedAt time.Time `json:"dest_modified_at"`
	DestSize       int64     `gorm:"default:0" json:"dest_size"`

	Resolution ConflictResolution `gorm:"size:20;default:unresolved" json:"resolution"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
}

func (FileConflict) TableName() string {
	return "file_conflicts"
}

// IsResolved reports whether an explicit resolution has been applied.
func (c *FileConflict) IsResolved() bool {
	return c.Resolution != ResolutionUnresolved
}
