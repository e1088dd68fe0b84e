// Package id provides unique identifier generation for event runs.
package id

import (
	"github.com/google/uuid"
)

// Generate creates a new unique run ID.
// Format: run-<uuid>
// Example: run-3f1c2a4e-8d7b-4a55-9e3c-1b2d3e4f5a6b
func Generate() string {
	return "run-" + uuid.NewString()
}

// FromEvent returns a run ID derived from a platform event ID, so that logs for
// one delivery share an identifier. It falls back to Generate when eventID is empty.
func FromEvent(eventID string) string {
	if eventID == "" {
		return Generate()
	}
	return "run-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(eventID)).String()
}
