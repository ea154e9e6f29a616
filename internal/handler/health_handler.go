package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nexsync-auth/internal/model"
)

// Pinger is a dependency the readiness check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	version      string
	dependencies map[string]Pinger
}

func NewHealthHandler(version string, dependencies map[string]Pinger) *HealthHandler {
	return &HealthHandler{version: version, dependencies: dependencies}
}

func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, "", map[string]string{
		"status":  "alive",
		"version": h.version,
	})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	ready := true
	for name, dep := range h.dependencies {
		if err := dep.Ping(ctx); err != nil {
			status[name] = "unavailable"
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(model.APIResponse{
			Success: false,
			Code:    "DEPENDENCY_UNAVAILABLE",
			Message: "One or more dependencies unavailable",
			Data:    map[string]any{"dependencies": status},
		})
		return
	}

	writeSuccess(w, http.StatusOK, "", map[string]any{
		"status":       "ready",
		"dependencies": status,
	})
}
