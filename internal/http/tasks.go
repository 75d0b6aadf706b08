package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/skyferry/internal/database/tasks"
	"github.com/mrlokans/skyferry/internal/entities"
	"github.com/mrlokans/skyferry/internal/scheduler"
)

type TasksController struct {
	repo      *tasks.Repository
	scheduler *scheduler.Scheduler
}

func NewTasksController(repo *tasks.Repository, sched *scheduler.Scheduler) *TasksController {
	return &TasksController{repo: repo, scheduler: sched}
}

func (ctrl *TasksController) List(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Query("user_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return
	}
	list, err := ctrl.repo.ListForUser(uint(userID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tasks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": list, "count": len(list)})
}

func (ctrl *TasksController) Get(c *gin.Context) {
	task, ok := ctrl.loadTask(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, task)
}

func (ctrl *TasksController) Runs(c *gin.Context) {
	task, ok := ctrl.loadTask(c)
	if !ok {
		return
	}
	runs, err := ctrl.repo.RunsForTask(task.ID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (ctrl *TasksController) Pause(c *gin.Context) {
	task, ok := ctrl.loadTask(c)
	if !ok {
		return
	}
	if err := ctrl.repo.SetStatus(task.ID, entities.TaskStatusPaused); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to pause task"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

// Resume reactivates a paused task; the next run is recomputed from now so
// missed slots are not replayed.
func (ctrl *TasksController) Resume(c *gin.Context) {
	task, ok := ctrl.loadTask(c)
	if !ok {
		return
	}
	if err := ctrl.scheduler.Resume(task.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resume task"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

func (ctrl *TasksController) loadTask(c *gin.Context) (*entities.ScheduledTask, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return nil, false
	}
	task, err := ctrl.repo.Get(uint(id))
	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
		return nil, false
	}
	return task, true
}
