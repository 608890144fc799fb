package scoring

import "github.com/pavelanni/omrgrader/internal/model"

// CompletedThreshold is the lowest recognition confidence accepted without
// human review.
const CompletedThreshold = 0.85

// GateStatus derives the review status for a confidence using CompletedThreshold.
func GateStatus(confidence float64) model.Status {
	return gate(confidence, CompletedThreshold)
}

func gate(confidence, threshold float64) model.Status {
	if confidence >= threshold {
		return model.StatusCompleted
	}
	return model.StatusNeedsReview
}
