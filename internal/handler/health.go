package handler

import (
	"net/http"

	"github.com/Paparusi/labo-sub000/internal/repository"
)

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	checks map[string]repository.Pinger
}

// NewHealthHandler creates a new HealthHandler. Each named dependency is
// pinged on every check; nil entries are skipped.
func NewHealthHandler(checks map[string]repository.Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Check handles GET /health.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]interface{}{
		"status": "ok",
	}

	for name, p := range h.checks {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			status[name] = "error"
			status["status"] = "degraded"
		} else {
			status[name] = "ok"
		}
	}

	code := http.StatusOK
	if status["status"] == "degraded" {
		code = http.StatusServiceUnavailable
	}

	JSON(w, code, status)
}
