// Package handler serves the evaluation and answer-key JSON API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/pavelanni/omrgrader/internal/evaluator"
	"github.com/pavelanni/omrgrader/internal/model"
	"github.com/pavelanni/omrgrader/internal/store"
)

// maxBodyBytes bounds request bodies; a base64 sheet scan is well under it.
const maxBodyBytes = 20 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	svc    *evaluator.Service
	config model.EvaluationConfig
}

// New creates a new Handler.
func New(s *store.Store, svc *evaluator.Service, cfg model.EvaluationConfig) *Handler {
	return &Handler{store: s, svc: svc, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.corsMiddleware())

		r.Post("/evaluations", h.handleEvaluate)
		r.Post("/evaluations/answers", h.handleScoreAnswers)
		r.Get("/evaluations", h.handleListEvaluations)
		r.Get("/evaluations/{id}", h.handleGetEvaluation)

		r.Get("/answer-keys", h.handleListAnswerKeys)
		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Use(requireRole(model.UserRoleAdmin))
			r.Post("/answer-keys", h.handleCreateAnswerKey)
			r.Post("/answer-keys/{id}/activate", h.handleActivateAnswerKey)
			r.Post("/answer-keys/{id}/deactivate", h.handleDeactivateAnswerKey)
		})
	})
}

func (h *Handler) corsMiddleware() func(http.Handler) http.Handler {
	origins := h.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept-Language"},
		ExposedHeaders: []string{"Content-Language"},
		MaxAge:         300,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"threshold": h.config.Threshold,
		"lang":      h.config.Lang,
	})
}
