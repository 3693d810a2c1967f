// Package admin implements the read side of the audit API: filtered listings, analytics,
// anomaly detection, reports and the maintenance purge. Every route requires a scope
// checked by middleware before the handler runs.
package admin

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/auditcore/audit-service/internal/audit"
	"github.com/auditcore/audit-service/internal/db/models"
)

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

// respondError maps validation failures to 400, missing entries to 404 and oversized
// scans to 422. Anything else is logged and reported as a 500 without details.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case audit.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, audit.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Audit log not found"})
	case errors.Is(err, audit.ErrScanLimitExceeded):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Range holds too many entries, narrow start and end"})
	default:
		slog.Error("audit api request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func invalid(field string, err error) error {
	return &audit.ValidationError{Field: field, Err: err}
}

// parseTimeParam reads an optional RFC3339 query parameter.
func parseTimeParam(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, invalid(name, fmt.Errorf("expected RFC3339 timestamp, got %q", raw))
	}
	t = t.UTC()
	return &t, nil
}

// parseRange reads the optional start and end parameters.
func parseRange(c *gin.Context) (start, end *time.Time, err error) {
	if start, err = parseTimeParam(c, "start"); err != nil {
		return nil, nil, err
	}
	if end, err = parseTimeParam(c, "end"); err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

// parseIntParam reads an optional integer query parameter.
func parseIntParam(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid(name, fmt.Errorf("expected an integer, got %q", raw))
	}
	return n, nil
}

// parsePage turns page/per_page into a limit and offset. Pages start at 1.
func parsePage(c *gin.Context) (audit.Page, error) {
	page, err := parseIntParam(c, "page", 1)
	if err != nil {
		return audit.Page{}, err
	}
	perPage, err := parseIntParam(c, "per_page", defaultPerPage)
	if err != nil {
		return audit.Page{}, err
	}
	if page < 1 {
		return audit.Page{}, invalid("page", fmt.Errorf("must be at least 1, got %d", page))
	}
	if perPage < 1 || perPage > maxPerPage {
		return audit.Page{}, invalid("per_page", fmt.Errorf("must be between 1 and %d, got %d", maxPerPage, perPage))
	}
	return audit.Page{Limit: perPage, Offset: (page - 1) * perPage}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func optionalParam(c *gin.Context, name string) *string {
	if v := c.Query(name); v != "" {
		return &v
	}
	return nil
}

// parseFilter builds a filter from query parameters. action and risk_level accept
// comma-separated lists.
func parseFilter(c *gin.Context) (audit.Filter, error) {
	f := audit.Filter{
		ActorID:      optionalParam(c, "actor_id"),
		ResourceType: optionalParam(c, "resource_type"),
		ResourceID:   optionalParam(c, "resource_id"),
		ProjectID:    optionalParam(c, "project_id"),
		IPAddress:    optionalParam(c, "ip_address"),
	}

	for _, a := range splitList(c.Query("action")) {
		f.Actions = append(f.Actions, models.Action(strings.ToUpper(a)))
	}
	for _, r := range splitList(c.Query("risk_level")) {
		level := models.RiskLevel(strings.ToUpper(r))
		if !level.Valid() {
			return audit.Filter{}, invalid("risk_level", fmt.Errorf("unknown risk level %q", r))
		}
		f.RiskLevels = append(f.RiskLevels, level)
	}

	if raw := c.Query("success"); raw != "" {
		ok, err := strconv.ParseBool(raw)
		if err != nil {
			return audit.Filter{}, invalid("success", fmt.Errorf("expected true or false, got %q", raw))
		}
		f.Success = &ok
	}

	start, end, err := parseRange(c)
	if err != nil {
		return audit.Filter{}, err
	}
	f.Start, f.End = start, end
	return f, nil
}
