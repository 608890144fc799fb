package model

import (
	"strconv"
	"time"
)

// QuestionDetail is one entry of EvaluationRecord.DetailedResults.
type QuestionDetail struct {
	StudentAnswer Option `json:"studentAnswer"`
	CorrectAnswer Option `json:"correctAnswer,omitempty"`
	IsCorrect     bool   `json:"isCorrect"`
}

// EvaluationRecord is the persisted and exported shape of an evaluation.
type EvaluationRecord struct {
	ID              string                    `json:"id,omitempty"`
	StudentIdentity StudentIdentity           `json:"studentIdentity"`
	ExamVersion     string                    `json:"examVersion"`
	SubjectScores   []int                     `json:"subjectScores"`
	TotalScore      int                       `json:"totalScore"`
	Percentage      float64                   `json:"percentage"`
	DetailedResults map[string]QuestionDetail `json:"detailedResults"`
	ConfidenceScore float64                   `json:"confidenceScore"`
	Status          Status                    `json:"status"`
	StatusLabel     string                    `json:"statusLabel,omitempty"`
	CreatedAt       *time.Time                `json:"createdAt,omitempty"`
}

// Record converts an evaluation to its export shape.
func (e Evaluation) Record() EvaluationRecord {
	details := make(map[string]QuestionDetail, len(e.Result.PerQuestion))
	for _, q := range e.Result.PerQuestion {
		details[strconv.Itoa(q.QuestionNumber)] = QuestionDetail{
			StudentAnswer: q.StudentAnswer,
			CorrectAnswer: q.CorrectAnswer,
			IsCorrect:     q.IsCorrect,
		}
	}
	rec := EvaluationRecord{
		ID:              e.ID,
		StudentIdentity: e.Student,
		ExamVersion:     e.ExamVersion,
		SubjectScores:   append([]int(nil), e.Result.SubjectScores...),
		TotalScore:      e.Result.TotalScore,
		Percentage:      e.Result.Percentage,
		DetailedResults: details,
		ConfidenceScore: e.Result.ConfidenceScore,
		Status:          e.Result.Status,
	}
	if !e.CreatedAt.IsZero() {
		t := e.CreatedAt
		rec.CreatedAt = &t
	}
	return rec
}

// EvaluationExport is the top-level JSON structure for result export.
type EvaluationExport struct {
	ExportedAt  time.Time          `json:"exported_at"`
	Status      string             `json:"status,omitempty"`
	ExamVersion string             `json:"exam_version,omitempty"`
	Count       int                `json:"count"`
	Results     []EvaluationRecord `json:"results"`
}
