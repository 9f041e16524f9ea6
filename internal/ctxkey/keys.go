// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with correlation_id fields.
type LoggerKey struct{}

// CorrelationIDKey is the context key type for the per-request correlation id.
type CorrelationIDKey struct{}

// ClaimsKey is the context key type for validated bearer token claims.
type ClaimsKey struct{}
