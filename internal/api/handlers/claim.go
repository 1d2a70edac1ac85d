package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/credal-io/credal/internal/domain"
	"github.com/credal-io/credal/internal/service"
	"github.com/credal-io/credal/internal/store"
	"github.com/go-chi/chi/v5"
)

type ClaimHandler struct {
	svc *service.BeliefService
}

func NewClaimHandler(svc *service.BeliefService) *ClaimHandler {
	return &ClaimHandler{svc: svc}
}

type submitClaimRequest struct {
	Key         string       `json:"key"`
	Value       domain.Value `json:"value"`
	Confidence  float64      `json:"confidence"`
	AgentID     string       `json:"agent_id"`
	Role        string       `json:"role,omitempty"`
	SessionID   string       `json:"session_id,omitempty"`
	Timestamp   *time.Time   `json:"timestamp,omitempty"`
	TrustWeight *float64     `json:"trust_weight,omitempty"`
}

// Submit accepts a new claim. Conflicting claims are accepted too; the
// disagreement shows up in the belief's hypotheses, not as an error.
func (h *ClaimHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	prov := domain.Provenance{
		AgentID:     req.AgentID,
		Role:        req.Role,
		SessionID:   req.SessionID,
		TrustWeight: req.TrustWeight,
	}
	if req.Timestamp != nil {
		prov.Timestamp = *req.Timestamp
	}

	claim, err := h.svc.SubmitClaim(r.Context(), req.Key, req.Value, req.Confidence, prov)
	if err != nil {
		if service.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to submit claim")
		return
	}

	writeJSON(w, http.StatusCreated, claim)
}

// History returns the key's full append-only claim sequence, superseded and
// retired claims included.
func (h *ClaimHandler) History(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	history, err := h.svc.ClaimHistory(r.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load claim history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"key": key, "claims": history})
}
