package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/omrgrader/internal/model"
)

const evaluationColumns = `id, student_name, roll_number, exam_version, answer_key_id, subject_scores,
	total_score, total_questions, percentage, detailed_results, confidence_score, status, created_at`

// EvaluationFilter narrows ListEvaluations. Zero values mean no filtering.
type EvaluationFilter struct {
	Status      model.Status
	ExamVersion string
	Limit       int
}

// RecordEvaluation persists a scored sheet. It assigns the ID and timestamp
// and returns the stored evaluation.
func (s *Store) RecordEvaluation(ctx context.Context, e model.Evaluation) (model.Evaluation, error) {
	scores, err := json.Marshal(e.Result.SubjectScores)
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("encode subject scores: %w", err)
	}
	details, err := json.Marshal(e.Result.PerQuestion)
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("encode detailed results: %w", err)
	}

	e.ID = uuid.NewString()
	e.CreatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO omr_evaluations (`+evaluationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Student.Name, e.Student.RollNumber, e.ExamVersion, e.AnswerKeyID, string(scores),
		e.Result.TotalScore, e.Result.TotalQuestions, e.Result.Percentage, string(details),
		e.Result.ConfidenceScore, e.Result.Status, e.CreatedAt,
	)
	if err != nil {
		slog.Error("failed to store evaluation", "roll_number", e.Student.RollNumber, "error", err)
		return model.Evaluation{}, err
	}
	slog.Info("stored evaluation",
		"id", e.ID,
		"roll_number", e.Student.RollNumber,
		"exam_version", e.ExamVersion,
		"total_score", e.Result.TotalScore,
		"status", e.Result.Status,
	)
	return e, nil
}

// GetEvaluation returns an evaluation by ID.
func (s *Store) GetEvaluation(ctx context.Context, id string) (model.Evaluation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+evaluationColumns+` FROM omr_evaluations WHERE id = ?`, id)
	return scanEvaluation(row)
}

// ListEvaluations returns evaluations matching f, newest first.
func (s *Store) ListEvaluations(ctx context.Context, f EvaluationFilter) ([]model.Evaluation, error) {
	query := `SELECT ` + evaluationColumns + ` FROM omr_evaluations WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.ExamVersion != "" {
		query += ` AND exam_version = ?`
		args = append(args, f.ExamVersion)
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var evals []model.Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		evals = append(evals, e)
	}
	return evals, rows.Err()
}

func scanEvaluation(sc scanner) (model.Evaluation, error) {
	var e model.Evaluation
	var scores, details string
	err := sc.Scan(&e.ID, &e.Student.Name, &e.Student.RollNumber, &e.ExamVersion, &e.AnswerKeyID, &scores,
		&e.Result.TotalScore, &e.Result.TotalQuestions, &e.Result.Percentage, &details,
		&e.Result.ConfidenceScore, &e.Result.Status, &e.CreatedAt)
	if err != nil {
		return model.Evaluation{}, err
	}
	if err := json.Unmarshal([]byte(scores), &e.Result.SubjectScores); err != nil {
		return model.Evaluation{}, fmt.Errorf("decode subject scores of %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(details), &e.Result.PerQuestion); err != nil {
		return model.Evaluation{}, fmt.Errorf("decode detailed results of %s: %w", e.ID, err)
	}
	return e, nil
}
