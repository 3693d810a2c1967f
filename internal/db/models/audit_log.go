// Package models - audit_log.go defines the AuditLog and AuditChange models that make up the
// append-only audit trail, together with the action, risk level and data type enumerations
// shared by the recorder, the analytics engine and the HTTP layer.
package models

import "time"

// Action is the verb recorded on an audit entry. Callers may use custom verbs; the constants
// below are the ones the risk rules and analytics give special meaning to.
type Action string

const (
	ActionCreate      Action = "CREATE"
	ActionUpdate      Action = "UPDATE"
	ActionDelete      Action = "DELETE"
	ActionLogin       Action = "LOGIN"
	ActionLogout      Action = "LOGOUT"
	ActionView        Action = "VIEW"
	ActionMaintenance Action = "MAINTENANCE"
)

// Well-known resource types.
const (
	ResourceUser     = "USER"
	ResourceRole     = "ROLE"
	ResourceAuditLog = "AUDIT_LOG"
)

// RiskLevel is the severity assigned to an entry or an anomaly.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Valid reports whether r is one of the four known levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// IsHighOrCritical reports whether r is HIGH or CRITICAL.
func (r RiskLevel) IsHighOrCritical() bool {
	return r == RiskHigh || r == RiskCritical
}

// DataType tags the serialized old/new values of a change record so dashboards can render them.
type DataType string

const (
	DataTypeBoolean DataType = "boolean"
	DataTypeNumber  DataType = "number"
	DataTypeDate    DataType = "date"
	DataTypeArray   DataType = "array"
	DataTypeJSON    DataType = "json"
	DataTypeString  DataType = "string"
)

// AuditLog is one immutable record of a single action taken in the system.
type AuditLog struct {
	ID              string            `json:"id"`
	ActorID         string            `json:"actor_id"`
	ActorName       string            `json:"actor_name"`
	Action          Action            `json:"action"`
	ResourceType    string            `json:"resource_type"`
	ResourceID      string            `json:"resource_id"`
	Details         string            `json:"details"`
	IPAddress       *string           `json:"ip_address,omitempty"`
	UserAgent       *string           `json:"user_agent,omitempty"`
	SessionID       *string           `json:"session_id,omitempty"`
	ProjectID       *string           `json:"project_id,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	Success         bool              `json:"success"`
	ErrorMessage    *string           `json:"error_message,omitempty"`
	RiskLevel       *RiskLevel        `json:"risk_level,omitempty"` // nil when never classified
	ParentLogID     *string           `json:"parent_log_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Tags            []string          `json:"tags"`
	ChangesCount    int               `json:"changes_count"`
	AffectedUsers   []string          `json:"affected_users"`
	ComplianceFlags []string          `json:"compliance_flags"`
}

// Risk returns the entry's risk level, or the empty level when none was assigned.
func (l *AuditLog) Risk() RiskLevel {
	if l.RiskLevel == nil {
		return ""
	}
	return *l.RiskLevel
}

// AuditChange is one field's before/after value, linked to its parent AuditLog by AuditLogID.
type AuditChange struct {
	ID         string    `json:"id"`
	AuditLogID string    `json:"audit_log_id"`
	FieldName  string    `json:"field_name"`
	OldValue   *string   `json:"old_value"`
	NewValue   *string   `json:"new_value"`
	DataType   DataType  `json:"data_type"`
	Timestamp  time.Time `json:"timestamp"`
}
