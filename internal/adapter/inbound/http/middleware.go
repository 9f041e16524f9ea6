package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ident-Gate/Identgate/internal/ctxkey"
	"github.com/Ident-Gate/Identgate/internal/domain/ratelimit"
	"github.com/Ident-Gate/Identgate/internal/domain/token"
)

// CorrelationIDHeader carries the per-request correlation id in both
// directions.
const CorrelationIDHeader = "X-Correlation-ID"

// CorrelationIDMiddleware extracts or generates a correlation id and stores
// it, together with an enriched logger, in the request context. The id is
// echoed on the response for client-side correlation.
func CorrelationIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get(CorrelationIDHeader)
			if correlationID == "" {
				correlationID = uuid.NewString()
			}

			enriched := logger.With("correlation_id", correlationID)

			ctx := context.WithValue(r.Context(), ctxkey.CorrelationIDKey{}, correlationID)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, enriched)

			w.Header().Set(CorrelationIDHeader, correlationID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CorrelationIDFromContext retrieves the correlation id, or "" if absent.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxkey.CorrelationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// RequestLogMiddleware logs one line per completed request using the
// correlation-enriched logger from context.
func RequestLogMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			LoggerFromContext(r.Context()).Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// RateLimitMiddleware enforces a per-client-IP GCRA limit. Exhausted clients
// get 429 with a Retry-After header.
func RateLimitMiddleware(limiter ratelimit.Limiter, config ratelimit.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ratelimit.FormatKey(ratelimit.KeyTypeIP, clientIP(r))
			result, err := limiter.Allow(r.Context(), key, config)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
				writeJSON(w, http.StatusTooManyRequests, errorResponse{
					Error:         "rate limit exceeded",
					CorrelationID: CorrelationIDFromContext(r.Context()),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client address for rate limiting. Only the first
// entry of X-Forwarded-For is trusted.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BearerAuthMiddleware validates the Authorization bearer token and stores
// the claims in the request context. Requests without a valid token are
// rejected with 401.
func BearerAuthMiddleware(tokens *token.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeError(w, r, token.ErrTokenMalformed)
				return
			}
			claims, err := tokens.Validate(raw)
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), ctxkey.ClaimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext retrieves validated bearer claims, or nil if the request
// did not pass BearerAuthMiddleware.
func ClaimsFromContext(ctx context.Context) *token.Claims {
	if claims, ok := ctx.Value(ctxkey.ClaimsKey{}).(*token.Claims); ok {
		return claims
	}
	return nil
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	return raw, raw != ""
}
