package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/auditcore/audit-service/internal/audit"
	"github.com/auditcore/audit-service/internal/db/models"
)

// SelfAuditTag marks entries the service records about access to its own trail.
const SelfAuditTag = "self-audit"

// EntryRecorder is the part of audit.Recorder SelfAudit needs.
type EntryRecorder interface {
	Record(ctx context.Context, actor audit.Actor, action models.Action, resourceType, resourceID, details string, opts ...audit.Option) audit.RecordResult
}

// SelfAudit records access to the audit trail through the same Recorder business
// services use. Reads become VIEW entries when recordReads is set; every other method
// becomes a MAINTENANCE entry attributed to the caller. Requests rejected by earlier
// middleware never reach it.
//
// Recording happens after the handler has written its response and is detached from
// the request context so a client disconnect cannot drop the entry.
func SelfAudit(recorder EntryRecorder, recordReads bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		method := c.Request.Method
		if method == http.MethodOptions || method == http.MethodHead {
			return
		}

		action := models.ActionMaintenance
		if method == http.MethodGet {
			if !recordReads {
				return
			}
			action = models.ActionView
		}

		actor := ActorFromContext(c)
		if actor.ID == "" {
			return
		}

		route := c.FullPath()
		status := c.Writer.Status()
		md := map[string]string{
			"route":  route,
			"status": strconv.Itoa(status),
		}
		if q := c.Request.URL.RawQuery; q != "" {
			md["query"] = q
		}
		if m := c.GetString(AuthMethodKey); m != "" {
			md["auth_method"] = m
		}

		opts := []audit.Option{
			audit.WithSession(SessionFromContext(c)),
			audit.WithMetadata(md),
			audit.WithTags(SelfAuditTag),
		}
		if status >= http.StatusBadRequest {
			msg := c.Errors.String()
			if msg == "" {
				msg = http.StatusText(status)
			}
			opts = append(opts, audit.WithFailure(msg))
		}

		details := fmt.Sprintf("%s %s", method, route)
		recorder.Record(context.WithoutCancel(c.Request.Context()), actor, action,
			models.ResourceAuditLog, resourceIDFromParams(c), details, opts...)
	}
}

// resourceIDFromParams picks the most specific identifier in the route.
func resourceIDFromParams(c *gin.Context) string {
	for _, name := range []string{"id", "actor_id"} {
		if v := c.Param(name); v != "" {
			return v
		}
	}
	return ""
}
