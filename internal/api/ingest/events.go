// Package ingest accepts audit events from business services. Recording is
// best-effort: a store failure is reported as a degraded status with 202, never as
// a 5xx that would push the caller into failing its own operation.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/auditcore/audit-service/internal/audit"
	"github.com/auditcore/audit-service/internal/db/models"
	"github.com/auditcore/audit-service/internal/middleware"
)

// maxEventBytes bounds a single event body, snapshots included.
const maxEventBytes = 1 << 20

// EventRecorder is the part of audit.Recorder the ingest endpoint needs.
type EventRecorder interface {
	RecordWithChanges(ctx context.Context, actor audit.Actor, action models.Action, resourceType, resourceID, details string, prev, next map[string]any, opts ...audit.Option) audit.RecordResult
}

// ActorRef identifies who performed the action in the calling service.
type ActorRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SessionRef carries the end user's request context as seen by the calling service.
type SessionRef struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	SessionID string `json:"session_id"`
}

// EventRequest is one audit event. Previous and Next are the before/after snapshots
// of the resource; field-level changes are derived from them for UPDATE events.
// JSON has no date type, so FieldTypes marks snapshot fields holding RFC3339 strings
// as "date" to have their change records typed as dates.
type EventRequest struct {
	Actor           *ActorRef         `json:"actor"`
	Action          string            `json:"action"`
	ResourceType    string            `json:"resource_type"`
	ResourceID      string            `json:"resource_id"`
	Details         string            `json:"details"`
	Success         *bool             `json:"success"`
	ErrorMessage    string            `json:"error_message"`
	ProjectID       string            `json:"project_id"`
	ParentLogID     string            `json:"parent_log_id"`
	Session         *SessionRef       `json:"session"`
	Metadata        map[string]string `json:"metadata"`
	Tags            []string          `json:"tags"`
	AffectedUsers   []string          `json:"affected_users"`
	ComplianceFlags []string          `json:"compliance_flags"`
	Previous        map[string]any    `json:"previous"`
	Next            map[string]any    `json:"next"`
	FieldTypes      map[string]string `json:"field_types"`
}

// fieldTypeDate is the only type hint callers need: every other data type survives
// the JSON encoding of a snapshot.
const fieldTypeDate = "date"

// applyFieldTypes converts hinted snapshot values in place.
func (r *EventRequest) applyFieldTypes() error {
	for field, hint := range r.FieldTypes {
		if hint != fieldTypeDate {
			return fmt.Errorf("field_types.%s: unsupported type %q (only %q)", field, hint, fieldTypeDate)
		}
		for _, snapshot := range []map[string]any{r.Previous, r.Next} {
			raw, ok := snapshot[field]
			if !ok || raw == nil {
				continue
			}
			s, ok := raw.(string)
			if !ok {
				return fmt.Errorf("field_types.%s: date value must be an RFC3339 string", field)
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return fmt.Errorf("field_types.%s: %w", field, err)
			}
			snapshot[field] = t
		}
	}
	return nil
}

// EventResponse reports what happened to an accepted event.
type EventResponse struct {
	Status       audit.Status      `json:"status"`
	ID           string            `json:"id,omitempty"`
	RiskLevel    *models.RiskLevel `json:"risk_level,omitempty"`
	ChangesCount int               `json:"changes_count"`
	Warning      string            `json:"warning,omitempty"`
}

// Handler serves POST /api/v1/audit/events
type Handler struct {
	recorder EventRecorder
}

// NewHandler creates an ingest handler
func NewHandler(recorder EventRecorder) *Handler {
	return &Handler{recorder: recorder}
}

// decodeEvent reads the body keeping numbers as json.Number so snapshot values keep
// their exact text through diffing.
func decodeEvent(c *gin.Context) (*EventRequest, error) {
	dec := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, maxEventBytes))
	dec.UseNumber()
	var req EventRequest
	if err := dec.Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// options translates the optional request fields into record options.
func (r *EventRequest) options() []audit.Option {
	var opts []audit.Option
	if r.Session != nil {
		opts = append(opts, audit.WithSession(audit.Session{
			IPAddress: r.Session.IPAddress,
			UserAgent: r.Session.UserAgent,
			SessionID: r.Session.SessionID,
		}))
	}
	if r.ProjectID != "" {
		opts = append(opts, audit.WithProject(r.ProjectID))
	}
	if r.ParentLogID != "" {
		opts = append(opts, audit.WithParent(r.ParentLogID))
	}
	if len(r.Metadata) > 0 {
		opts = append(opts, audit.WithMetadata(r.Metadata))
	}
	if len(r.Tags) > 0 {
		opts = append(opts, audit.WithTags(r.Tags...))
	}
	if len(r.AffectedUsers) > 0 {
		opts = append(opts, audit.WithAffectedUsers(r.AffectedUsers...))
	}
	if len(r.ComplianceFlags) > 0 {
		opts = append(opts, audit.WithComplianceFlags(r.ComplianceFlags...))
	}
	if r.Success != nil && !*r.Success {
		opts = append(opts, audit.WithFailure(r.ErrorMessage))
	}
	return opts
}

// CreateEvent records one event. The actor defaults to the authenticated caller when
// the body names none. The caller's service identity is kept in metadata as "source".
func (h *Handler) CreateEvent(c *gin.Context) {
	req, err := decodeEvent(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid event body: %v", err)})
		return
	}
	if err := req.applyFieldTypes(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caller := middleware.ActorFromContext(c)
	actor := caller
	if req.Actor != nil && req.Actor.ID != "" {
		actor = audit.Actor{ID: req.Actor.ID, Name: req.Actor.Name}
	}

	opts := req.options()
	if caller.ID != "" && caller.ID != actor.ID {
		opts = append(opts, audit.WithMetadata(map[string]string{"source": caller.ID}))
	}

	action := models.Action(strings.ToUpper(strings.TrimSpace(req.Action)))
	res := h.recorder.RecordWithChanges(c.Request.Context(), actor, action,
		req.ResourceType, req.ResourceID, req.Details, req.Previous, req.Next, opts...)

	if res.Status == audit.StatusRejected {
		c.JSON(http.StatusBadRequest, gin.H{"status": res.Status, "error": res.Err.Error()})
		return
	}

	resp := EventResponse{Status: res.Status}
	if res.Entry != nil {
		resp.ID = res.Entry.ID
		resp.RiskLevel = res.Entry.RiskLevel
		resp.ChangesCount = res.Entry.ChangesCount
	}
	if res.Status == audit.StatusDegraded {
		// store errors are logged by the recorder and not echoed to callers
		resp.Warning = "audit entry not fully persisted"
	}
	c.JSON(http.StatusAccepted, resp)
}
