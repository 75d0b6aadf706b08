package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/skyferry/internal/database/conflicts"
	"github.com/mrlokans/skyferry/internal/database/tasks"
	"github.com/mrlokans/skyferry/internal/entities"
	"github.com/mrlokans/skyferry/internal/syncengine"
)

type ConflictsController struct {
	repo      *conflicts.Repository
	tasksRepo *tasks.Repository
	engine    *syncengine.Engine
}

func NewConflictsController(repo *conflicts.Repository, tasksRepo *tasks.Repository, engine *syncengine.Engine) *ConflictsController {
	return &ConflictsController{repo: repo, tasksRepo: tasksRepo, engine: engine}
}

func (ctrl *ConflictsController) ListUnresolved(c *gin.Context) {
	taskID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	list, err := ctrl.repo.ListUnresolved(uint(taskID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conflicts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": list, "count": len(list)})
}

type resolveRequest struct {
	Resolution entities.ConflictResolution `json:"resolution" binding:"required"`
}

// Resolve applies an explicit resolution and performs the corrective copy
// synchronously, so a success response means both sides now agree.
func (ctrl *ConflictsController) Resolve(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conflict id"})
		return
	}

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Resolution {
	case entities.ResolutionKeepNewer, entities.ResolutionKeepSource, entities.ResolutionKeepTarget:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "resolution must be keep_newer, keep_source or keep_target"})
		return
	}

	if err := ctrl.engine.ResolveConflict(c.Request.Context(), ctrl.tasksRepo, uint(id), req.Resolution); err != nil {
		if errors.Is(err, conflicts.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conflict not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved", "resolution": req.Resolution})
}
