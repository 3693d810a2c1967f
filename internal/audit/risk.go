package audit

import (
	"github.com/auditcore/audit-service/internal/config"
	"github.com/auditcore/audit-service/internal/db/models"
)

// Classifier maps an action and its outcome to a risk level. It holds no mutable
// state after construction, so one instance may be shared across goroutines.
//
// Rules, first match wins:
//  1. DELETE → HIGH
//  2. failure → MEDIUM, or HIGH when the sensitive-field rule also matches
//  3. UPDATE touching a sensitive field → HIGH
//  4. UPDATE on an elevated resource type → MEDIUM
//  5. CREATE on USER → MEDIUM
//  6. UPDATE with more changed fields than the bulk threshold → MEDIUM
//  7. LOW
type Classifier struct {
	sensitive     map[string]struct{}
	elevated      map[string]struct{}
	bulkThreshold int
}

// NewClassifier builds a classifier from the configured rule parameters.
func NewClassifier(cfg config.RiskConfig) *Classifier {
	return &Classifier{
		sensitive:     toSet(cfg.SensitiveFields),
		elevated:      toSet(cfg.ElevatedResourceTypes),
		bulkThreshold: cfg.BulkChangeThreshold,
	}
}

// DefaultClassifier returns a classifier using config.DefaultRiskConfig.
func DefaultClassifier() *Classifier {
	return NewClassifier(config.DefaultRiskConfig())
}

// Classify returns the risk level for one recorded action.
func (c *Classifier) Classify(action models.Action, resourceType string, changedFields []string, success bool) models.RiskLevel {
	if action == models.ActionDelete {
		return models.RiskHigh
	}

	sensitiveUpdate := action == models.ActionUpdate && c.touchesSensitive(changedFields)

	if !success {
		if sensitiveUpdate {
			return models.RiskHigh
		}
		return models.RiskMedium
	}
	if sensitiveUpdate {
		return models.RiskHigh
	}
	if action == models.ActionUpdate {
		if _, ok := c.elevated[resourceType]; ok {
			return models.RiskMedium
		}
	}
	if action == models.ActionCreate && resourceType == models.ResourceUser {
		return models.RiskMedium
	}
	if action == models.ActionUpdate && len(changedFields) > c.bulkThreshold {
		return models.RiskMedium
	}
	return models.RiskLow
}

func (c *Classifier) touchesSensitive(fields []string) bool {
	for _, f := range fields {
		if _, ok := c.sensitive[f]; ok {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}
