package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/auditcore/audit-service/internal/db/repositories"
)

// Sentinel errors. Validation failures are returned wrapped in a *ValidationError so
// callers can tell a bad request from a store failure with errors.As.
var (
	ErrInvalidRange       = errors.New("start must not be after end")
	ErrNegativeLimit      = errors.New("limit must not be negative")
	ErrNegativeOffset     = errors.New("offset must not be negative")
	ErrInvalidGranularity = errors.New("granularity must be HOUR, DAY or WEEK")
	ErrInvalidDimension   = errors.New("dimension must be action, resourceType or riskLevel")
	ErrNotFound           = errors.New("audit log not found")

	// ErrScanLimitExceeded is returned when a range holds more entries than
	// audit.analytics.max_scan_rows allows. Narrow the range and retry.
	ErrScanLimitExceeded = repositories.ErrScanLimitExceeded
)

// ValidationError describes a rejected argument. It is checked before any store access.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err (or anything it wraps) is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidateRange rejects a range whose start is after its end. Equal bounds are allowed.
func ValidateRange(start, end time.Time) error {
	if start.After(end) {
		return &ValidationError{
			Field: "range",
			Err:   fmt.Errorf("%w (start=%s end=%s)", ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339)),
		}
	}
	return nil
}

// ValidateLimit rejects a negative limit.
func ValidateLimit(limit int) error {
	if limit < 0 {
		return &ValidationError{Field: "limit", Err: fmt.Errorf("%w (got %d)", ErrNegativeLimit, limit)}
	}
	return nil
}
