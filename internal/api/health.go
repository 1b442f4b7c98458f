package api

import (
	"net/http"
	"time"

	"github.com/unsafisica/unsabot/internal/admission"
)

// Version reported by the health endpoint.
const Version = "2.0"

// healthResponse embeds the admission snapshot so queue and permit
// utilization surface directly in the health payload.
type healthResponse struct {
	admission.Snapshot
	Model     string `json:"model"`
	Version   string `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

type healthHandler struct {
	controller *admission.Controller
	model      string
}

func (h *healthHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Snapshot:  h.controller.Load(),
		Model:     h.model,
		Version:   Version,
		Timestamp: time.Now().Unix(),
	})
}
