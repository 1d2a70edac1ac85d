package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/credal-io/credal/internal/service"
	"github.com/credal-io/credal/internal/store"
	"github.com/go-chi/chi/v5"
)

type BeliefHandler struct {
	svc *service.BeliefService
}

func NewBeliefHandler(svc *service.BeliefService) *BeliefHandler {
	return &BeliefHandler{svc: svc}
}

// Get resolves one key's belief. Query params: policy (per-query override),
// context_relevance (feeds the w_x salience term).
func (h *BeliefHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	q := service.QueryOptions{PolicyOverride: r.URL.Query().Get("policy")}
	if raw := r.URL.Query().Get("context_relevance"); raw != "" {
		rel, err := strconv.ParseFloat(raw, 64)
		if err != nil || rel < 0 || rel > 1 {
			writeError(w, http.StatusBadRequest, "context_relevance must be in [0,1]")
			return
		}
		q.ContextRelevance = &rel
	}

	view, err := h.svc.GetBelief(r.Context(), key, q)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownPolicy):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrKeyNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to resolve belief")
		}
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// List resolves every key under the configured policies.
func (h *BeliefHandler) List(w http.ResponseWriter, r *http.Request) {
	keys := h.svc.Keys()
	views := make([]any, 0, len(keys))
	for _, key := range keys {
		view, err := h.svc.GetBelief(r.Context(), key, service.QueryOptions{})
		if err != nil {
			continue
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"beliefs": views})
}

// Disputes returns conflict records, optionally filtered by key.
func (h *BeliefHandler) Disputes(w http.ResponseWriter, r *http.Request) {
	records := h.svc.GetDisputes(r.Context(), r.URL.Query().Get("key"))
	writeJSON(w, http.StatusOK, map[string]any{"disputes": records})
}

// Explain returns the evidence trace behind a key's hypotheses.
func (h *BeliefHandler) Explain(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	trace, err := h.svc.Explain(r.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to build evidence trace")
		return
	}

	writeJSON(w, http.StatusOK, trace)
}

// RunDecay triggers a manual sweep across all keys.
func (h *BeliefHandler) RunDecay(w http.ResponseWriter, r *http.Request) {
	result := h.svc.RunDecay(r.Context())
	writeJSON(w, http.StatusOK, result)
}
