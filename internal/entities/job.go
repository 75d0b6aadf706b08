package entities

import (
	"time"
)

// JobStatus is the lifecycle state of a transfer job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// ItemType distinguishes single-file transfers from recursive folder transfers.
type ItemType string

const (
	ItemTypeFile   ItemType = "file"
	ItemTypeFolder ItemType = "folder"
)

// ProviderName identifies a remote storage provider.
type ProviderName string

const (
	ProviderGoogleDrive ProviderName = "google_drive"
	ProviderDropbox     ProviderName = "dropbox"
	ProviderS3          ProviderName = "s3"
)

// Job is a single transfer unit: one file or one folder tree moved from a
// source provider to a destination folder. Jobs are claimed and executed by
// queue workers; the locked_by/locked_at pair is the sole mutual-exclusion
// mechanism across worker processes.
type Job struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Source descriptor
	SourceProvider ProviderName `gorm:"size:50;not null" json:"source_provider"`
	SourceID       string       `gorm:"size:512" json:"source_id"`
	SourceURL      string       `gorm:"size:1024" json:"source_url,omitempty"`
	SourceName     string       `gorm:"size:512" json:"source_name"`
	ItemType       ItemType     `gorm:"size:10;default:file" json:"item_type"`

	// Destination descriptor
	DestProvider ProviderName `gorm:"size:50;not null" json:"dest_provider"`
	DestFolderID string       `gorm:"size:512" json:"dest_folder_id"`

	// DuplicateAction tells the executor what to do when the duplicate
	// detector reports a match before a write.
	DuplicateAction DuplicateAction `gorm:"size:20;default:skip" json:"duplicate_action"`

	// Lifecycle and scheduling
	Status          JobStatus  `gorm:"size:20;index;default:pending" json:"status"`
	Priority        int        `gorm:"index;default:0" json:"priority"`
	Attempts        int        `gorm:"default:0" json:"attempts"`
	MaxRetries      int        `gorm:"default:3" json:"max_retries"`
	NextRunAt       *time.Time `gorm:"index" json:"next_run_at,omitempty"`
	LockedBy        string     `gorm:"size:64;index" json:"locked_by,omitempty"`
	LockedAt        *time.Time `json:"locked_at,omitempty"`
	CancelRequested bool       `gorm:"default:false" json:"cancel_requested"`

	// Progress
	TotalFiles     int `gorm:"default:0" json:"total_files"`
	CompletedFiles int `gorm:"default:0" json:"completed_files"`
	ProgressPct    int `gorm:"default:0" json:"progress_pct"`

	// Result
	CopiedFileID   string        `gorm:"size:512" json:"copied_file_id,omitempty"`
	CopiedFileName string        `gorm:"size:512" json:"copied_file_name,omitempty"`
	CopiedFileURL  string        `gorm:"size:1024" json:"copied_file_url,omitempty"`
	Duration       time.Duration `json:"duration,omitempty"`
	ErrorMessage   string        `gorm:"type:text" json:"error_message,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

func (Job) TableName() string {
	return "jobs"
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// IsDue reports whether the job is eligible for claiming at the given time.
func (j *Job) IsDue(now time.Time) bool {
	if j.Status != JobStatusPending {
		return false
	}
	return j.NextRunAt == nil || !j.NextRunAt.After(now)
}
