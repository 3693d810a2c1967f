package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/auditcore/audit-service/internal/audit"
)

// LogsHandler serves listings and single entries of the audit trail.
type LogsHandler struct {
	queries *audit.QueryService
	now     func() time.Time
}

// NewLogsHandler creates a logs handler
func NewLogsHandler(queries *audit.QueryService) *LogsHandler {
	return &LogsHandler{queries: queries, now: time.Now}
}

// ListLogs returns one page of entries matching the query filters, newest first.
//
// Query parameters: page, per_page, actor_id, action, resource_type, resource_id,
// project_id, success, risk_level, ip_address, start, end.
func (h *LogsHandler) ListLogs(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	page, err := parsePage(c)
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := h.queries.List(c.Request.Context(), filter, page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetLog returns one entry
func (h *LogsHandler) GetLog(c *gin.Context) {
	entry, err := h.queries.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// GetLogChanges returns the field-level change records of an entry. A missing entry
// is a 404 rather than an empty list.
func (h *LogsHandler) GetLogChanges(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.queries.Get(ctx, id); err != nil {
		respondError(c, err)
		return
	}

	changes, err := h.queries.GetChanges(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit_log_id": id, "changes": changes})
}

// LoginHistory lists LOGIN and LOGOUT entries for one actor
func (h *LogsHandler) LoginHistory(c *gin.Context) {
	page, err := parsePage(c)
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := h.queries.LoginHistory(c.Request.Context(), c.Param("actor_id"), page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HighRisk lists HIGH and CRITICAL entries since a point in time, 24 hours back by default.
func (h *LogsHandler) HighRisk(c *gin.Context) {
	since, err := parseTimeParam(c, "since")
	if err != nil {
		respondError(c, err)
		return
	}
	if since == nil {
		t := h.now().UTC().Add(-24 * time.Hour)
		since = &t
	}
	limit, err := parseIntParam(c, "limit", defaultPerPage)
	if err != nil {
		respondError(c, err)
		return
	}

	logs, err := h.queries.RecentHighRisk(c.Request.Context(), *since, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"since": since, "logs": logs})
}
