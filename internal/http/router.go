// Package http exposes the orchestration core over a small JSON API: job
// submission and lifecycle control, scheduled task administration, conflict
// resolution, and a server-sent-events stream of job progress.
package http

import (
	"github.com/gin-gonic/gin"

	"github.com/mrlokans/skyferry/internal/database"
	"github.com/mrlokans/skyferry/internal/database/conflicts"
	"github.com/mrlokans/skyferry/internal/database/jobs"
	"github.com/mrlokans/skyferry/internal/database/tasks"
	"github.com/mrlokans/skyferry/internal/events"
	"github.com/mrlokans/skyferry/internal/scheduler"
	"github.com/mrlokans/skyferry/internal/syncengine"
	"github.com/mrlokans/skyferry/internal/worker"
)

// RouterConfig carries all router dependencies.
type RouterConfig struct {
	Database  *database.Database
	JobsRepo  *jobs.Repository
	TasksRepo *tasks.Repository
	Conflicts *conflicts.Repository
	Engine    *syncengine.Engine
	Worker    *worker.Worker
	Scheduler *scheduler.Scheduler
	Bus       *events.Bus
	Version   string

	// DefaultRetries is applied to submitted jobs that do not set their own.
	DefaultRetries int
}

// NewRouter creates and configures the HTTP router with all endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	services := make(map[string]func() bool)
	if cfg.Worker != nil {
		services["queue_worker"] = cfg.Worker.Running
	}
	if cfg.Scheduler != nil {
		services["scheduler"] = cfg.Scheduler.Running
	}
	health := NewHealthController(cfg.Database, cfg.Version, services)
	jobsController := NewJobsController(cfg.JobsRepo, cfg.DefaultRetries)
	tasksController := NewTasksController(cfg.TasksRepo, cfg.Scheduler)
	conflictsController := NewConflictsController(cfg.Conflicts, cfg.TasksRepo, cfg.Engine)
	eventsController := NewEventsController(cfg.Bus)

	router.GET("/health", health.Status)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	// Job lifecycle
	router.POST("/api/jobs", jobsController.Create)
	router.GET("/api/jobs/:id", jobsController.Get)
	router.POST("/api/jobs/:id/cancel", jobsController.Cancel)
	router.POST("/api/jobs/:id/retry", jobsController.Retry)

	// Scheduled task administration
	router.GET("/api/tasks", tasksController.List)
	router.GET("/api/tasks/:id", tasksController.Get)
	router.GET("/api/tasks/:id/runs", tasksController.Runs)
	router.POST("/api/tasks/:id/pause", tasksController.Pause)
	router.POST("/api/tasks/:id/resume", tasksController.Resume)

	// Mirror sync conflicts
	router.GET("/api/tasks/:id/conflicts", conflictsController.ListUnresolved)
	router.POST("/api/conflicts/:id/resolve", conflictsController.Resolve)

	// Live progress stream
	router.GET("/api/events", eventsController.Stream)

	return router
}
