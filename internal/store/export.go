package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/omrgrader/internal/model"
)

// ExportEvaluations builds an export document from stored evaluations.
func (s *Store) ExportEvaluations(ctx context.Context, f EvaluationFilter) (model.EvaluationExport, error) {
	evals, err := s.ListEvaluations(ctx, f)
	if err != nil {
		return model.EvaluationExport{}, fmt.Errorf("list evaluations: %w", err)
	}

	results := make([]model.EvaluationRecord, 0, len(evals))
	for _, e := range evals {
		results = append(results, e.Record())
	}

	return model.EvaluationExport{
		ExportedAt:  time.Now().UTC(),
		Status:      string(f.Status),
		ExamVersion: f.ExamVersion,
		Count:       len(results),
		Results:     results,
	}, nil
}
