package http

import (
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/skyferry/internal/events"
)

type EventsController struct {
	bus *events.Bus
}

func NewEventsController(bus *events.Bus) *EventsController {
	return &EventsController{bus: bus}
}

// Stream serves job lifecycle events over SSE. An optional user_id query
// parameter narrows the stream to one user's jobs; an optional job_id
// parameter narrows it to a single job.
func (ctrl *EventsController) Stream(c *gin.Context) {
	var userFilter uint
	if raw := c.Query("user_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "invalid user_id"})
			return
		}
		userFilter = uint(parsed)
	}
	jobFilter := c.Query("job_id")

	ch, unsubscribe := ctrl.bus.Subscribe()
	defer unsubscribe()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-ch:
			if !ok {
				return false
			}
			if userFilter != 0 && event.UserID != userFilter {
				return true
			}
			if jobFilter != "" && event.JobID != jobFilter {
				return true
			}
			c.SSEvent(string(event.Type), event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
