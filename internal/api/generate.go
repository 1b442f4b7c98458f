package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/unsafisica/unsabot/internal/admission"
	"github.com/unsafisica/unsabot/internal/engine"
)

// generateRequest is the body of POST /generate. Zero-valued sampling
// fields fall back to the production defaults.
type generateRequest struct {
	Prompt      string  `json:"prompt"`
	UserID      string  `json:"user_id"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
}

// generateResponse mirrors the upstream engine's completion envelope.
// ProcessingTime is in seconds.
type generateResponse struct {
	Response       string  `json:"response"`
	Model          string  `json:"model"`
	TokensUsed     int     `json:"tokens_used"`
	ProcessingTime float64 `json:"processing_time"`
}

type generateHandler struct {
	logger       *slog.Logger
	controller   *admission.Controller
	orchestrator *engine.Orchestrator
}

func (h *generateHandler) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required", "")
		return
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}

	params := engine.DefaultParams()
	if req.Temperature > 0 {
		params.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = req.MaxTokens
	}
	if req.TopP > 0 {
		params.TopP = req.TopP
	}
	if req.TopK > 0 {
		params.TopK = req.TopK
	}

	release, err := h.controller.Admit(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, admission.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable,
				"server overloaded", "request queue is full, retry later")
		case errors.Is(err, admission.ErrQueueTimeout):
			writeError(w, http.StatusGatewayTimeout,
				"queue wait timeout", "no capacity became available in time")
		default:
			// Caller gave up while queued.
			writeError(w, http.StatusRequestTimeout, "request cancelled", "")
		}
		return
	}
	defer release()

	result, err := h.orchestrator.Generate(r.Context(), req.Prompt, req.UserID, params)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrGenerationTimeout):
			writeError(w, http.StatusGatewayTimeout,
				"generation timeout", "the model did not finish in time")
		case errors.Is(err, engine.ErrEmptyOutput):
			writeError(w, http.StatusInternalServerError,
				"empty response", "the model produced no output")
		default:
			h.logger.Error("generation failed", "user", req.UserID, "error", err)
			writeError(w, http.StatusInternalServerError, "generation failed", "")
		}
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{
		Response:       result.Text,
		Model:          result.Model,
		TokensUsed:     result.TokensUsed,
		ProcessingTime: result.Elapsed.Seconds(),
	})
}
