// README: Admin handlers for manual job runs.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

type JobRunner interface {
	RunNow(ctx context.Context, name string) error
	Names() []string
}

type AdminHandler struct {
	jobs JobRunner
}

func NewAdminHandler(jobs JobRunner) *AdminHandler {
	return &AdminHandler{jobs: jobs}
}

func (h *AdminHandler) ListJobs(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"jobs": h.jobs.Names()})
}

// RunJob runs a background job now and waits for it.
func (h *AdminHandler) RunJob(c *gin.Context) {
	name := c.Param("name")
	if err := h.jobs.RunNow(c.Request.Context(), name); err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"job": name, "status": "done"})
}
