package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/auditcore/audit-service/internal/analytics"
	"github.com/auditcore/audit-service/internal/config"
	"github.com/auditcore/audit-service/internal/reporting"
)

// ReportsHandler serves the activity report and the dashboard summary
type ReportsHandler struct {
	agg *reporting.Aggregator
	cfg config.AnalyticsConfig
	now func() time.Time
}

// NewReportsHandler creates a reports handler
func NewReportsHandler(agg *reporting.Aggregator, cfg config.AnalyticsConfig) *ReportsHandler {
	return &ReportsHandler{agg: agg, cfg: cfg, now: time.Now}
}

// Activity counts entries by action kind over [start, end]
func (h *ReportsHandler) Activity(c *gin.Context) {
	start, end, err := parseRange(c)
	if err != nil {
		respondError(c, err)
		return
	}
	s, e := analytics.DefaultRange(h.cfg, start, end, h.now())

	report, err := h.agg.ActivityReport(c.Request.Context(), s, e)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Dashboard returns all-time and last-24-hour totals, possibly from cache
func (h *ReportsHandler) Dashboard(c *gin.Context) {
	stats, err := h.agg.DashboardStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
