package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/Ident-Gate/Identgate/internal/adapter/outbound/memory"
	"github.com/Ident-Gate/Identgate/internal/domain/policy"
	"github.com/Ident-Gate/Identgate/internal/domain/scim"
	"github.com/Ident-Gate/Identgate/internal/service"
)

// HealthResponse is the JSON response from the liveness endpoints.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// HealthChecker verifies component health.
type HealthChecker struct {
	records      scim.RecordStore
	loader       *policy.Loader
	rateLimiter  *memory.RateLimiter
	auditService *service.AuditService
	version      string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(
	records scim.RecordStore,
	loader *policy.Loader,
	rateLimiter *memory.RateLimiter,
	auditService *service.AuditService,
	version string,
) *HealthChecker {
	return &HealthChecker{
		records:      records,
		loader:       loader,
		rateLimiter:  rateLimiter,
		auditService: auditService,
		version:      version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(r *http.Request) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.records != nil {
		if err := h.records.Ping(r.Context()); err != nil {
			checks["record_store"] = "unreachable: " + err.Error()
			healthy = false
		} else {
			checks["record_store"] = "ok"
		}
	} else {
		checks["record_store"] = "not configured"
	}

	if h.loader != nil {
		if set := h.loader.Current(); set != nil {
			checks["policy_set"] = fmt.Sprintf("version %d, %d rules", set.Version, len(set.Rules))
		} else {
			checks["policy_set"] = "not loaded"
			healthy = false
		}
	} else {
		checks["policy_set"] = "not configured"
	}

	if h.rateLimiter != nil {
		checks["rate_limiter"] = fmt.Sprintf("%d keys", h.rateLimiter.Size())
	} else {
		checks["rate_limiter"] = "not configured"
	}

	if h.auditService != nil {
		depth := h.auditService.ChannelDepth()
		capacity := h.auditService.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		if percentFull > 90 {
			// >90% full means the audit pipeline is under backpressure
			checks["audit"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["audit"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}

		if drops := h.auditService.DroppedRecords(); drops > 0 {
			checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["audit"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r)

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
