package entities

import (
	"time"
)

// SyncStatus is the per-file state in the sync registry.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncedFile is one row per tracked source file per scheduled task. It is the
// memory the cumulative sync uses to decide new vs modified vs unchanged.
// Rows are created on the first successful copy of a source file and updated
// on every re-sync; they are never deleted automatically.
type SyncedFile struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TaskID    uint      `gorm:"index:idx_task_source,unique;not null" json:"task_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SourceFileID string       `gorm:"size:512;index:idx_task_source,unique;not null" json:"source_file_id"`
	SourcePath   string       `gorm:"size:1024" json:"source_path"`
	Provider     ProviderName `gorm:"size:50" json:"provider"`
	Name         string       `gorm:"size:512" json:"name"`
	Size         int64        `gorm:"default:0" json:"size"`
	ModifiedAt   time.Time    `json:"modified_at"`
	ContentHash  string       `gorm:"size:128" json:"content_hash,omitempty"`

	DestFileID string `gorm:"size:512" json:"dest_file_id,omitempty"`
	DestPath   string `gorm:"size:1024" json:"dest_path,omitempty"`
	// DestModifiedAt is the destination mtime observed at last sync; mirror
	// passes compare against it to detect destination-side edits.
	DestModifiedAt time.Time `json:"dest_modified_at"`

	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	Status       SyncStatus `gorm:"size:20;default:pending" json:"status"`
}

func (SyncedFile) TableName() string {
	return "synced_files"
}
