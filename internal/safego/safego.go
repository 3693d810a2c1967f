// Package safego launches background goroutines that survive their own panics.
package safego

import (
	"log/slog"
	"runtime/debug"

	"github.com/auditcore/audit-service/internal/telemetry"
)

// Go runs fn in a new goroutine. A panic is recovered, logged with the goroutine's
// name and stack, and counted in audit_background_panics_total so a dead purger or
// listener shows up on dashboards instead of only in logs.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				telemetry.BackgroundPanicsTotal.WithLabelValues(name).Inc()
				slog.Error("recovered panic in background goroutine",
					"goroutine", name,
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
