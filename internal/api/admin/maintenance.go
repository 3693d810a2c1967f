package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/auditcore/audit-service/internal/retention"
)

// RetentionRunner archives and purges entries older than a cutoff.
type RetentionRunner interface {
	Run(ctx context.Context, cutoff time.Time) (*retention.Result, error)
}

// PurgeRequest names the cutoff of a manual purge. Entries strictly before it are removed.
type PurgeRequest struct {
	Before time.Time `json:"before" binding:"required"`
}

// MaintenanceHandler runs manual retention operations
type MaintenanceHandler struct {
	runner RetentionRunner
	now    func() time.Time
}

// NewMaintenanceHandler creates a maintenance handler
func NewMaintenanceHandler(runner RetentionRunner) *MaintenanceHandler {
	return &MaintenanceHandler{runner: runner, now: time.Now}
}

// Purge archives (when enabled) and deletes every entry older than the requested
// cutoff. A cutoff in the future is refused so a typo cannot wipe the trail.
func (h *MaintenanceHandler) Purge(c *gin.Context) {
	var req PurgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalid("body", fmt.Errorf("expected {\"before\": RFC3339 timestamp}: %w", err)))
		return
	}
	if req.Before.IsZero() {
		respondError(c, invalid("before", errors.New("cutoff is required")))
		return
	}
	if req.Before.After(h.now()) {
		respondError(c, invalid("before", errors.New("cutoff must not be in the future")))
		return
	}

	res, err := h.runner.Run(c.Request.Context(), req.Before)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
