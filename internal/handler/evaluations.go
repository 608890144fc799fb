package handler

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/omrgrader/internal/evaluator"
	appI18n "github.com/pavelanni/omrgrader/internal/i18n"
	"github.com/pavelanni/omrgrader/internal/model"
	"github.com/pavelanni/omrgrader/internal/scoring"
	"github.com/pavelanni/omrgrader/internal/store"
)

type evaluateRequest struct {
	ImageBase64 string `json:"imageBase64"`
	MIMEType    string `json:"mimeType,omitempty"`
	StudentName string `json:"studentName"`
	RollNumber  string `json:"rollNumber"`
	ExamVersion string `json:"examVersion"`
}

type scoreAnswersRequest struct {
	StudentName string            `json:"studentName"`
	RollNumber  string            `json:"rollNumber"`
	ExamVersion string            `json:"examVersion"`
	Answers     map[string]string `json:"answers"`
	Confidence  *float64          `json:"confidence"`
}

type evaluationResponse struct {
	Success    bool                   `json:"success"`
	Evaluation model.EvaluationRecord `json:"evaluation"`
}

// POST /api/evaluations
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	image, mimeType, err := decodeImage(req.ImageBase64, req.MIMEType)
	if err != nil {
		respondError(w, r, err)
		return
	}

	eval, err := h.svc.Evaluate(r.Context(), evaluator.Sheet{
		Student:     model.StudentIdentity{Name: strings.TrimSpace(req.StudentName), RollNumber: strings.TrimSpace(req.RollNumber)},
		ExamVersion: req.ExamVersion,
		Image:       image,
		MIMEType:    mimeType,
	})
	if err != nil {
		respondEvalError(w, r, err, req.ExamVersion)
		return
	}
	respondJSON(w, http.StatusOK, evaluationResponse{Success: true, Evaluation: h.record(r, eval)})
}

// POST /api/evaluations/answers
func (h *Handler) handleScoreAnswers(w http.ResponseWriter, r *http.Request) {
	var req scoreAnswersRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Answers == nil || req.Confidence == nil {
		respondError(w, r, badRequest("answers and confidence are required"))
		return
	}
	raw, err := scoring.ParseAnswers(req.Answers, *req.Confidence, h.svc.Engine().Segmentation())
	if err != nil {
		respondError(w, r, err)
		return
	}

	student := model.StudentIdentity{Name: strings.TrimSpace(req.StudentName), RollNumber: strings.TrimSpace(req.RollNumber)}
	eval, err := h.svc.ScoreAnswers(r.Context(), student, req.ExamVersion, raw)
	if err != nil {
		respondEvalError(w, r, err, req.ExamVersion)
		return
	}
	respondJSON(w, http.StatusOK, evaluationResponse{Success: true, Evaluation: h.record(r, eval)})
}

// GET /api/evaluations
func (h *Handler) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.EvaluationFilter{
		Status:      model.Status(q.Get("status")),
		ExamVersion: strings.TrimSpace(q.Get("examVersion")),
	}
	if f.Status != "" && !f.Status.Valid() {
		respondError(w, r, badRequest("unknown status %q", f.Status))
		return
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			respondError(w, r, badRequest("invalid limit %q", s))
			return
		}
		f.Limit = n
	}

	evals, err := h.store.ListEvaluations(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	records := make([]model.EvaluationRecord, 0, len(evals))
	for _, e := range evals {
		records = append(records, h.record(r, e))
	}
	respondJSON(w, http.StatusOK, records)
}

// GET /api/evaluations/{id}
func (h *Handler) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	eval, err := h.store.GetEvaluation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.record(r, eval))
}

func (h *Handler) record(r *http.Request, e model.Evaluation) model.EvaluationRecord {
	rec := e.Record()
	rec.StatusLabel = appI18n.StatusLabel(r.Context(), rec.Status)
	return rec
}

// decodeImage accepts raw base64 or a data URL. A MIME type in the data URL
// is used when the request does not name one.
func decodeImage(s, mimeType string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, "", badRequest("imageBase64 is not a base64 data URL")
		}
		if mimeType == "" {
			mimeType = strings.TrimSuffix(meta, ";base64")
		}
		s = payload
	}
	if s == "" {
		return nil, "", badRequest("imageBase64 is required")
	}
	image, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, "", badRequest("decode imageBase64: %v", err)
	}
	return image, mimeType, nil
}
