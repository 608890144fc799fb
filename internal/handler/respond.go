package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pavelanni/omrgrader/internal/evaluator"
	appI18n "github.com/pavelanni/omrgrader/internal/i18n"
	"github.com/pavelanni/omrgrader/internal/llm"
	"github.com/pavelanni/omrgrader/internal/scoring"
)

// errBadRequest marks request bodies and parameters that cannot be decoded.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// respondError maps err to a status code and a localized message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	status, msg := http.StatusInternalServerError, appI18n.T(ctx, "ErrInternal")
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, evaluator.ErrInvalidSheet):
		status, msg = http.StatusBadRequest, appI18n.T(ctx, "ErrInvalidRequest")
	case errors.Is(err, llm.ErrUnsupportedImage):
		status, msg = http.StatusBadRequest, appI18n.T(ctx, "ErrUnsupportedImage")
	case errors.Is(err, scoring.ErrMalformedAnswerSet):
		status, msg = http.StatusUnprocessableEntity, appI18n.T(ctx, "ErrMalformedAnswerSet")
	case errors.Is(err, scoring.ErrMalformedAnswerKey):
		status, msg = http.StatusUnprocessableEntity, appI18n.T(ctx, "ErrMalformedAnswerKey")
	case errors.Is(err, evaluator.ErrRecognition):
		status, msg = http.StatusBadGateway, appI18n.T(ctx, "ErrRecognition")
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, scoring.ErrAnswerKeyNotFound):
		status, msg = http.StatusNotFound, appI18n.T(ctx, "ErrNotFound")
	}

	resp := errorResponse{Error: msg}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		resp.Detail = err.Error()
	}
	respondJSON(w, status, resp)
}

// respondEvalError is respondError for requests naming an exam version.
func respondEvalError(w http.ResponseWriter, r *http.Request, err error, examVersion string) {
	if !errors.Is(err, scoring.ErrAnswerKeyNotFound) {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusNotFound, errorResponse{
		Error:  appI18n.Td(r.Context(), "ErrAnswerKeyNotFound", map[string]any{"Version": examVersion}),
		Detail: err.Error(),
	})
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errBadRequest}, args...)...)
}

// decodeBody strictly decodes a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("decode body: %v", err)
	}
	return nil
}
