package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/artifact-context/internal/aggregator"
	"github.com/nidhogg/artifact-context/internal/catalog"
	"go.uber.org/zap"
)

// DependentsFinder answers reverse-dependency queries.
type DependentsFinder interface {
	Dependents(ctx context.Context, id string) ([]string, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine  *aggregator.Engine
	lineage DependentsFinder
	logger  *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(engine *aggregator.Engine, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// SetLineage routes dependents queries to a graph backend instead of the
// in-memory planner.
func (h *Handler) SetLineage(l DependentsFinder) { h.lineage = l }

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// Catalog and planning queries
		r.Get("/resources", h.listResources)
		r.Route("/resources/{id}", func(r chi.Router) {
			r.Get("/", h.getResource)
			r.Get("/tiers", h.getTiers)
			r.Get("/dependents", h.getDependents)
			r.Post("/validate", h.validateDependencies)
			r.Post("/cost", h.generationCost)
			r.Post("/order", h.suggestedOrder)
		})

		// Aggregation
		r.Post("/context/aggregate", h.aggregate)
		r.Get("/context/analytics", h.analytics)
		r.Delete("/cache/users/{userID}", h.invalidateUser)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"resources": h.engine.Registry().Len(),
	})
}

func (h *Handler) listResources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Registry().Nodes())
}

func (h *Handler) getResource(w http.ResponseWriter, r *http.Request) {
	n, ok := h.engine.Registry().Lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *Handler) getTiers(w http.ResponseWriter, r *http.Request) {
	ta, explicit, err := h.engine.Registry().TierConfig(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"explicit":   explicit,
		"assignment": ta,
	})
}

func (h *Handler) getDependents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.engine.Registry().Known(id) {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}

	if h.lineage != nil {
		ids, err := h.lineage.Dependents(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"id": id, "dependents": ids, "source": "graph"})
			return
		}
		h.logger.Warn("lineage query failed, using catalog", zap.String("id", id), zap.Error(err))
	}

	ids, err := h.engine.Planner().Dependents(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "dependents": ids, "source": "catalog"})
}

type availabilityRequest struct {
	AvailableIDs []string `json:"available_ids"`
}

// decodeAvailability accepts an empty body as "nothing available".
func decodeAvailability(r *http.Request) (catalog.IDSet, error) {
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return catalog.NewIDSet(req.AvailableIDs...), nil
}

func (h *Handler) validateDependencies(w http.ResponseWriter, r *http.Request) {
	available, err := decodeAvailability(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.engine.Planner().ValidateDependencies(chi.URLParam(r, "id"), available)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) generationCost(w http.ResponseWriter, r *http.Request) {
	available, err := decodeAvailability(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	est, err := h.engine.Planner().CalculateGenerationCost(chi.URLParam(r, "id"), available)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (h *Handler) suggestedOrder(w http.ResponseWriter, r *http.Request) {
	available, err := decodeAvailability(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := h.engine.Planner().SuggestedOrder(chi.URLParam(r, "id"), available)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

type aggregateRequest struct {
	UserID   string `json:"user_id"`
	TargetID string `json:"target_id"`
	UseCache *bool  `json:"use_cache,omitempty"`
}

func (h *Handler) aggregate(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" || req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "user_id and target_id are required")
		return
	}
	useCache := req.UseCache == nil || *req.UseCache

	res, err := h.engine.Aggregate(r.Context(), req.UserID, req.TargetID, useCache)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) analytics(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	targetID := r.URL.Query().Get("target_id")
	if userID == "" || targetID == "" {
		writeError(w, http.StatusBadRequest, "user_id and target_id are required")
		return
	}
	a, err := h.engine.Analytics(r.Context(), userID, targetID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) invalidateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	n, err := h.engine.InvalidateUser(r.Context(), userID)
	if err != nil {
		h.logger.Warn("cache invalidation failed", zap.String("user", userID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "removed": n})
}

// fail maps engine errors to HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrUnknownResource) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
