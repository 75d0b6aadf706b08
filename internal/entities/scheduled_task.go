package entities

import (
	"strconv"
	"strings"
	"time"
)

// Frequency is the recurrence mode of a scheduled task.
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	// FrequencyCustom runs on an explicit set of weekdays at a fixed time.
	FrequencyCustom Frequency = "custom"
	// FrequencyCron runs on a cron expression stored in CronExpr.
	FrequencyCron Frequency = "cron"
)

// SyncMode controls what a scheduled task does when it fires.
type SyncMode string

const (
	SyncModeCopy       SyncMode = "copy"
	SyncModeCumulative SyncMode = "cumulative_sync"
	SyncModeMirror     SyncMode = "mirror_sync"
)

// TaskStatus is the administrative state of a scheduled task.
type TaskStatus string

const (
	TaskStatusActive  TaskStatus = "active"
	TaskStatusPaused  TaskStatus = "paused"
	TaskStatusDeleted TaskStatus = "deleted"
)

// DuplicateAction tells the duplicate detector what to do on a match.
type DuplicateAction string

const (
	DuplicateSkip           DuplicateAction = "skip"
	DuplicateReplace        DuplicateAction = "replace"
	DuplicateCopyWithSuffix DuplicateAction = "copy_with_suffix"
)

// ScheduledTask is a recurring transfer or sync definition. The scheduler
// materializes due tasks into Jobs (copy mode) or runs the sync engine
// directly (cumulative/mirror mode).
type ScheduledTask struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name string `gorm:"size:255" json:"name"`

	// Source and destination descriptors, same shape as Job.
	SourceProvider ProviderName `gorm:"size:50;not null" json:"source_provider"`
	SourceID       string       `gorm:"size:512" json:"source_id"`
	SourceURL      string       `gorm:"size:1024" json:"source_url,omitempty"`
	SourceName     string       `gorm:"size:512" json:"source_name"`
	ItemType       ItemType     `gorm:"size:10;default:folder" json:"item_type"`
	DestProvider   ProviderName `gorm:"size:50;not null" json:"dest_provider"`
	DestFolderID   string       `gorm:"size:512" json:"dest_folder_id"`

	// Recurrence spec. Hour/Minute are in the task's timezone.
	Frequency  Frequency `gorm:"size:20;default:daily" json:"frequency"`
	Hour       int       `gorm:"default:0" json:"hour"`
	Minute     int       `gorm:"default:0" json:"minute"`
	DayOfWeek  int       `gorm:"default:0" json:"day_of_week"`  // 0=Sunday, weekly only
	DayOfMonth int       `gorm:"default:1" json:"day_of_month"` // monthly only
	Days       string    `gorm:"size:64" json:"days,omitempty"` // comma-separated weekdays, custom only
	CronExpr   string    `gorm:"size:128" json:"cron_expr,omitempty"`
	Timezone   string    `gorm:"size:64;default:UTC" json:"timezone"`

	SyncMode        SyncMode        `gorm:"size:20;default:copy" json:"sync_mode"`
	DuplicateAction DuplicateAction `gorm:"size:20;default:skip" json:"duplicate_action"`
	Status          TaskStatus      `gorm:"size:20;index;default:active" json:"status"`

	// Selective sync folder filters, comma-separated path prefixes.
	IncludeFolders string `gorm:"type:text" json:"include_folders,omitempty"`
	ExcludeFolders string `gorm:"type:text" json:"exclude_folders,omitempty"`

	// Run statistics
	TotalRuns   int        `gorm:"default:0" json:"total_runs"`
	SuccessRuns int        `gorm:"default:0" json:"success_runs"`
	FailedRuns  int        `gorm:"default:0" json:"failed_runs"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `gorm:"index" json:"next_run_at,omitempty"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
}

func (ScheduledTask) TableName() string {
	return "scheduled_tasks"
}

// CustomDays parses the Days field into a weekday set. Invalid entries are
// ignored; an empty result means no custom days are configured.
func (t *ScheduledTask) CustomDays() []time.Weekday {
	if t.Days == "" {
		return nil
	}
	var days []time.Weekday
	for _, part := range strings.Split(t.Days, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 6 {
			continue
		}
		days = append(days, time.Weekday(n))
	}
	return days
}

// Location resolves the task's timezone, falling back to UTC.
func (t *ScheduledTask) Location() *time.Location {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil || t.Timezone == "" {
		return time.UTC
	}
	return loc
}

// RunStatus is the lifecycle state of a single scheduled-task execution.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// TaskRun records one execution of a scheduled task.
type TaskRun struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	TaskID      uint       `gorm:"index;not null" json:"task_id"`
	JobID       string     `gorm:"size:36" json:"job_id,omitempty"`
	Status      RunStatus  `gorm:"size:20;default:running" json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	FilesCopied  int    `gorm:"default:0" json:"files_copied"`
	FilesSkipped int    `gorm:"default:0" json:"files_skipped"`
	FilesFailed  int    `gorm:"default:0" json:"files_failed"`
	Error        string `gorm:"type:text" json:"error,omitempty"`
}

func (TaskRun) TableName() string {
	return "task_runs"
}
