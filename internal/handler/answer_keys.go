package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/omrgrader/internal/model"
	"github.com/pavelanni/omrgrader/internal/scoring"
)

// GET /api/answer-keys
func (h *Handler) handleListAnswerKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAnswerKeys(r.Context(), strings.TrimSpace(r.URL.Query().Get("examVersion")))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if keys == nil {
		keys = []model.AnswerKey{}
	}
	respondJSON(w, http.StatusOK, keys)
}

// POST /api/answer-keys
func (h *Handler) handleCreateAnswerKey(w http.ResponseWriter, r *http.Request) {
	var in model.AnswerKeyImport
	if err := decodeBody(w, r, &in); err != nil {
		respondError(w, r, err)
		return
	}
	seg := h.svc.Engine().Segmentation()
	key, err := scoring.ParseAnswerKey(in, seg)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := scoring.RequireComplete(key, seg); err != nil {
		respondError(w, r, err)
		return
	}

	id, err := h.store.CreateAnswerKey(r.Context(), key)
	if err != nil {
		respondError(w, r, err)
		return
	}
	stored, err := h.store.GetAnswerKey(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if u := model.UserFromContext(r.Context()); u != nil {
		slog.Info("answer key saved via API", "id", id, "exam_version", stored.ExamVersion, "user", u.Username)
	}
	respondJSON(w, http.StatusCreated, stored)
}

// POST /api/answer-keys/{id}/activate
func (h *Handler) handleActivateAnswerKey(w http.ResponseWriter, r *http.Request) {
	id, err := keyID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.store.ActivateAnswerKey(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/answer-keys/{id}/deactivate
func (h *Handler) handleDeactivateAnswerKey(w http.ResponseWriter, r *http.Request) {
	id, err := keyID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.store.DeactivateAnswerKey(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func keyID(r *http.Request) (int64, error) {
	s := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, badRequest("invalid key id %q", s)
	}
	return id, nil
}
