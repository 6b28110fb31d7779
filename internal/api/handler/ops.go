// Package handler provides HTTP handlers for the export API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/airdash/airdash/internal/api/models"
	"github.com/airdash/airdash/internal/api/response"
	"github.com/airdash/airdash/internal/provider/resilience"
)

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	registry  *resilience.Registry
	checks    []ReadinessCheck
}

// NewOpsHandler creates a new OpsHandler. registry may be nil.
func NewOpsHandler(version, buildTime string, registry *resilience.Registry, checks ...ReadinessCheck) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		registry:  registry,
		checks:    checks,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. Any failed check answers 503.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := models.HealthStatusOK
	details := make(map[string]any, len(h.checks))
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			status = models.HealthStatusFail
			details[c.Name] = err.Error()
			continue
		}
		details[c.Name] = "ok"
	}

	code := http.StatusOK
	if status != models.HealthStatusOK {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, models.Health{
		Status:  status,
		Time:    models.Timestamp(time.Now()),
		Details: details,
	})
}

// Providers handles GET /v1/ops/providers - circuit breaker state of every
// upstream client. One open breaker fails the overall status; a half-open
// one degrades it.
func (h *OpsHandler) Providers(w http.ResponseWriter, r *http.Request) {
	out := models.ProvidersResponse{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(time.Now()),
		Providers: []models.ProviderStatus{},
	}
	if h.registry != nil {
		for _, p := range h.registry.All() {
			ps := toProviderStatus(p)
			switch {
			case ps.Status == models.HealthStatusFail:
				out.Status = models.HealthStatusFail
			case ps.Status == models.HealthStatusDegraded && out.Status == models.HealthStatusOK:
				out.Status = models.HealthStatusDegraded
			}
			out.Providers = append(out.Providers, ps)
		}
	}
	response.JSON(w, r, http.StatusOK, out)
}

func toProviderStatus(p *resilience.ProviderHealth) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:     p.Name,
		Status:       models.HealthStatusOK,
		CircuitState: p.CircuitState.String(),
		Requests:     p.Counts.Requests,
		Failures:     p.Counts.ConsecutiveFailures,
	}
	switch p.Status() {
	case resilience.StatusUnhealthy:
		ps.Status = models.HealthStatusFail
	case resilience.StatusDegraded:
		ps.Status = models.HealthStatusDegraded
	}
	if p.LastSuccessAt != nil {
		t := models.Timestamp(*p.LastSuccessAt)
		ps.LastSuccessAt = &t
	}
	if p.LastFailureAt != nil {
		t := models.Timestamp(*p.LastFailureAt)
		ps.LastFailureAt = &t
	}
	if p.LastError != "" {
		msg := p.LastError
		ps.Message = &msg
	}
	return ps
}
