package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mrlokans/skyferry/internal/database/jobs"
	"github.com/mrlokans/skyferry/internal/entities"
)

type JobsController struct {
	repo           *jobs.Repository
	defaultRetries int
}

func NewJobsController(repo *jobs.Repository, defaultRetries int) *JobsController {
	return &JobsController{repo: repo, defaultRetries: defaultRetries}
}

// CreateJobRequest is the job submission payload. Either SourceURL or
// SourceID must be set; when only the URL is given the worker parses it at
// execution time.
type CreateJobRequest struct {
	UserID          uint                     `json:"user_id" binding:"required"`
	SourceProvider  entities.ProviderName    `json:"source_provider" binding:"required"`
	SourceID        string                   `json:"source_id"`
	SourceURL       string                   `json:"source_url"`
	SourceName      string                   `json:"source_name"`
	ItemType        entities.ItemType        `json:"item_type"`
	DestProvider    entities.ProviderName    `json:"dest_provider" binding:"required"`
	DestFolderID    string                   `json:"dest_folder_id"`
	DuplicateAction entities.DuplicateAction `json:"duplicate_action"`
	Priority        int                      `json:"priority"`
	MaxRetries      *int                     `json:"max_retries"`
}

func (ctrl *JobsController) Create(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SourceID == "" && req.SourceURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "either source_id or source_url is required"})
		return
	}

	maxRetries := ctrl.defaultRetries
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		maxRetries = *req.MaxRetries
	}
	itemType := req.ItemType
	if itemType == "" {
		itemType = entities.ItemTypeFile
	}
	duplicateAction := req.DuplicateAction
	if duplicateAction == "" {
		duplicateAction = entities.DuplicateSkip
	}

	job := &entities.Job{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		SourceProvider:  req.SourceProvider,
		SourceID:        req.SourceID,
		SourceURL:       req.SourceURL,
		SourceName:      req.SourceName,
		ItemType:        itemType,
		DestProvider:    req.DestProvider,
		DestFolderID:    req.DestFolderID,
		DuplicateAction: duplicateAction,
		Status:          entities.JobStatusPending,
		Priority:        req.Priority,
		MaxRetries:      maxRetries,
	}
	if err := ctrl.repo.Create(job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}

	c.JSON(http.StatusCreated, job)
}

func (ctrl *JobsController) Get(c *gin.Context) {
	job, err := ctrl.repo.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// Cancel marks the job for cooperative cancellation. A running job notices
// the flag at its next checkpoint; a pending job is failed on claim.
func (ctrl *JobsController) Cancel(c *gin.Context) {
	if err := ctrl.repo.RequestCancel(c.Param("id")); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to request cancellation"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancellation requested"})
}

// Retry puts a failed job back in the queue with its attempt counter reset.
func (ctrl *JobsController) Retry(c *gin.Context) {
	err := ctrl.repo.RetryFailed(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "requeued"})
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, jobs.ErrNotRetryable):
		c.JSON(http.StatusConflict, gin.H{"error": "only failed jobs can be retried"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to requeue job"})
	}
}
