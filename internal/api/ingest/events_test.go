package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditcore/audit-service/internal/audit"
	"github.com/auditcore/audit-service/internal/db/models"
	"github.com/auditcore/audit-service/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memStore is an in-memory audit.Store.
type memStore struct {
	logs      []*models.AuditLog
	changes    []*models.AuditChange
	createErr  error
	changesErr error
}

func (s *memStore) CreateAuditLog(_ context.Context, l *models.AuditLog) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.logs = append(s.logs, l)
	return nil
}

func (s *memStore) CreateAuditChanges(_ context.Context, c []*models.AuditChange) error {
	if s.changesErr != nil {
		return s.changesErr
	}
	s.changes = append(s.changes, c...)
	return nil
}

func (s *memStore) PurgeOlderThan(context.Context, time.Time) (int64, error) { return 0, nil }

func newIngestRouter(store *memStore, callerID string) *gin.Engine {
	rec := audit.NewRecorder(store, nil, nil, 0)
	h := NewHandler(rec)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ActorIDKey, callerID)
		c.Set(middleware.ActorNameKey, "billing")
		c.Next()
	})
	r.POST("/events", h.CreateEvent)
	return r
}

func postEvent(r *gin.Engine, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(data)))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) EventResponse {
	t.Helper()
	var resp EventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateEvent_UpdateWithChanges(t *testing.T) {
	store := &memStore{}
	r := newIngestRouter(store, "service:billing")

	w := postEvent(r, map[string]any{
		"actor":         map[string]string{"id": "u-1", "name": "Alice"},
		"action":        "update",
		"resource_type": "USER",
		"resource_id":   "u-9",
		"details":       "Reactivated user",
		"session":       map[string]string{"ip_address": "10.1.2.3"},
		"tags":          []string{"admin-console"},
		"previous":      map[string]any{"status": "INACTIVE", "quota": 10},
		"next":          map[string]any{"status": "ACTIVE", "quota": 10},
	})

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, audit.StatusRecorded, resp.Status)
	assert.Equal(t, 1, resp.ChangesCount)
	require.NotNil(t, resp.RiskLevel)
	assert.Equal(t, models.RiskHigh, *resp.RiskLevel)

	require.Len(t, store.logs, 1)
	entry := store.logs[0]
	assert.Equal(t, "u-1", entry.ActorID)
	assert.Equal(t, models.ActionUpdate, entry.Action)
	assert.Equal(t, "service:billing", entry.Metadata["source"])
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "10.1.2.3", *entry.IPAddress)
	require.Len(t, store.changes, 1)
	assert.Equal(t, "status", store.changes[0].FieldName)
}

func TestCreateEvent_DefaultsToCaller(t *testing.T) {
	store := &memStore{}
	r := newIngestRouter(store, "service:billing")

	w := postEvent(r, map[string]any{"action": "CREATE", "resource_type": "INVOICE", "resource_id": "inv-1"})

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, store.logs, 1)
	assert.Equal(t, "service:billing", store.logs[0].ActorID)
	assert.NotContains(t, store.logs[0].Metadata, "source")
}

func TestCreateEvent_FailedAction(t *testing.T) {
	store := &memStore{}
	r := newIngestRouter(store, "service:auth")

	w := postEvent(r, map[string]any{
		"actor": map[string]string{"id": "u-2"}, "action": "LOGIN", "resource_type": "USER",
		"success": false, "error_message": "bad password",
	})

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, store.logs, 1)
	assert.False(t, store.logs[0].Success)
	require.NotNil(t, store.logs[0].ErrorMessage)
	assert.Equal(t, "bad password", *store.logs[0].ErrorMessage)
}

func TestCreateEvent_Rejected(t *testing.T) {
	store := &memStore{}
	r := newIngestRouter(store, "service:billing")

	w := postEvent(r, map[string]any{"action": "CREATE"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, store.logs)
}

func TestCreateEvent_DegradedIsStill202(t *testing.T) {
	store := &memStore{createErr: errors.New("connection refused")}
	r := newIngestRouter(store, "service:billing")

	w := postEvent(r, map[string]any{"action": "DELETE", "resource_type": "PROJECT", "resource_id": "p-1"})

	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode(t, w)
	assert.Equal(t, audit.StatusDegraded, resp.Status)
	assert.Empty(t, resp.ID)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestCreateEvent_MalformedBody(t *testing.T) {
	r := newIngestRouter(&memStore{}, "service:billing")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString("{not json")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateEvent_ChangeRecordFailureReportsStoredCount(t *testing.T) {
	store := &memStore{changesErr: errors.New("deadlock detected")}
	r := newIngestRouter(store, "service:billing")

	w := postEvent(r, map[string]any{
		"action": "UPDATE", "resource_type": "PROJECT", "resource_id": "p-1",
		"previous": map[string]any{"name": "a", "owner": "u-1"},
		"next":     map[string]any{"name": "b", "owner": "u-2"},
	})

	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode(t, w)
	assert.Equal(t, audit.StatusDegraded, resp.Status)
	require.Len(t, store.logs, 1)
	assert.Equal(t, resp.ID, store.logs[0].ID)
	assert.Equal(t, 2, resp.ChangesCount)
	assert.Equal(t, store.logs[0].ChangesCount, resp.ChangesCount)
	assert.NotContains(t, w.Body.String(), "deadlock")
}

func TestCreateEvent_DateFieldHint(t *testing.T) {
	store := &memStore{}
	r := newIngestRouter(store, "service:licensing")

	w := postEvent(r, map[string]any{
		"action": "UPDATE", "resource_type": "LICENSE", "resource_id": "lic-1",
		"previous":    map[string]any{"expires_at": "2026-01-01T00:00:00Z", "seats": 5, "renewed_on": nil},
		"next":        map[string]any{"expires_at": "2027-01-01T01:00:00+01:00", "seats": 5, "renewed_on": "2026-03-04T10:00:00Z"},
		"field_types": map[string]string{"expires_at": "date", "renewed_on": "date"},
	})

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, store.changes, 2)
	byField := map[string]*models.AuditChange{}
	for _, c := range store.changes {
		byField[c.FieldName] = c
	}

	expires := byField["expires_at"]
	require.NotNil(t, expires)
	assert.Equal(t, models.DataTypeDate, expires.DataType)
	require.NotNil(t, expires.NewValue)
	assert.Equal(t, "2027-01-01T00:00:00Z", *expires.NewValue)

	renewed := byField["renewed_on"]
	require.NotNil(t, renewed)
	assert.Equal(t, models.DataTypeDate, renewed.DataType)
	assert.Nil(t, renewed.OldValue)
}

func TestCreateEvent_WithoutHintDatesStayStrings(t *testing.T) {
	store := &memStore{}
	r := newIngestRouter(store, "service:licensing")

	w := postEvent(r, map[string]any{
		"action": "UPDATE", "resource_type": "LICENSE", "resource_id": "lic-1",
		"previous": map[string]any{"expires_at": "2026-01-01T00:00:00Z"},
		"next":     map[string]any{"expires_at": "2027-01-01T00:00:00Z"},
	})

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, store.changes, 1)
	assert.Equal(t, models.DataTypeString, store.changes[0].DataType)
}

func TestCreateEvent_InvalidFieldTypes(t *testing.T) {
	tests := []struct {
		name  string
		event map[string]any
	}{
		{"unsupported hint", map[string]any{
			"action": "UPDATE", "resource_type": "LICENSE",
			"next":        map[string]any{"seats": 5},
			"field_types": map[string]string{"seats": "integer"},
		}},
		{"unparseable date", map[string]any{
			"action": "UPDATE", "resource_type": "LICENSE",
			"next":        map[string]any{"expires_at": "next tuesday"},
			"field_types": map[string]string{"expires_at": "date"},
		}},
		{"date hint on a number", map[string]any{
			"action": "UPDATE", "resource_type": "LICENSE",
			"previous":    map[string]any{"expires_at": 1767225600},
			"field_types": map[string]string{"expires_at": "date"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			w := postEvent(newIngestRouter(store, "service:licensing"), tt.event)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, store.logs)
		})
	}
}
