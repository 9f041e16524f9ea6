// Package audit contains domain types for the decision audit trail.
package audit

import (
	"context"
	"time"
)

// Record is one audit entry, emitted per completed policy evaluation.
// Records are best-effort: a failed append never alters the decision it
// describes, and no record is emitted for a cancelled evaluation.
type Record struct {
	// CorrelationID ties the record to the originating request.
	CorrelationID string `json:"correlationId"`
	// Subject is the sub of the caller, or "anonymous".
	Subject string `json:"subject"`
	// Decision is the combined effect: Permit, Deny, or Challenge.
	Decision string `json:"decision"`
	// RuleIDs are the ruleIds that contributed to the decision.
	RuleIDs []string `json:"ruleIds"`
	// Timestamp is when the evaluation completed (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// Store persists audit records.
// Interface owned by domain per hexagonal architecture.
// Implementation handles batching and async writes.
type Store interface {
	// Append stores audit records. Must be non-blocking from caller perspective.
	Append(ctx context.Context, records ...Record) error

	// Recent returns up to n of the most recent records, newest first.
	Recent(n int) []Record

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}
