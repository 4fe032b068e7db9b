// Package service exposes the resolution engine over HTTP and maps the
// engine's error taxonomy to status codes.
package service

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/billwise/billwise/backend/internal/engine"
	"github.com/billwise/billwise/backend/internal/reasoning"
)

// RecommendationsHandler serves the savings resolution endpoint.
type RecommendationsHandler struct {
	engine *engine.Engine
	log    zerolog.Logger
}

// NewRecommendationsHandler creates the handler.
func NewRecommendationsHandler(eng *engine.Engine, log zerolog.Logger) *RecommendationsHandler {
	return &RecommendationsHandler{engine: eng, log: log}
}

// Resolve handles POST /api/recommendations.
func (h *RecommendationsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := UserID(ctx)
	if userID == "" {
		WriteError(w, http.StatusUnauthorized, "Missing user identity")
		return
	}

	var req engine.ResolveRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	resp, err := h.engine.Resolve(ctx, userID, req)
	if err != nil {
		h.writeResolveError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// writeResolveError maps the engine taxonomy: authorization problems are
// 4xx, a degraded reasoning upstream is a retryable 503, everything else is
// a hard 500.
func (h *RecommendationsHandler) writeResolveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNoLinkedItems):
		WriteError(w, http.StatusPreconditionFailed, "No linked bank accounts")
	case errors.Is(err, engine.ErrPolicyBlocked):
		WriteError(w, http.StatusUnprocessableEntity, "Request blocked by content policy")
	case errors.Is(err, reasoning.ErrDegraded):
		h.log.Warn().Err(err).Msg("reasoning upstream degraded")
		WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ok":       false,
			"degraded": true,
			"error":    "Still analyzing your bills, try again shortly",
		})
	default:
		h.log.Error().Err(err).Msg("resolution failed")
		WriteError(w, http.StatusInternalServerError, "Resolution failed")
	}
}

// Routes registers the service's endpoints on mux.
func (h *RecommendationsHandler) Routes(mux *http.ServeMux, log zerolog.Logger) http.Handler {
	mux.Handle("POST /api/recommendations", Identity(http.HandlerFunc(h.Resolve)))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	var handler http.Handler = mux
	handler = RequestID(handler)
	handler = Recovery(log)(handler)
	handler = Logger(log)(handler)
	return handler
}
