package scoring

import "fmt"

// Segmentation partitions question numbers 1..TotalQuestions into
// contiguous, equal-sized subject blocks.
type Segmentation struct {
	SubjectCount        int
	QuestionsPerSubject int
}

// DefaultSegmentation is the five subjects of twenty questions printed on the sheet.
var DefaultSegmentation = Segmentation{SubjectCount: 5, QuestionsPerSubject: 20}

// TotalQuestions returns the number of questions covered by the segmentation.
func (s Segmentation) TotalQuestions() int {
	return s.SubjectCount * s.QuestionsPerSubject
}

// Validate checks that the segmentation describes at least one question.
func (s Segmentation) Validate() error {
	if s.SubjectCount <= 0 || s.QuestionsPerSubject <= 0 {
		return fmt.Errorf("segmentation %dx%d: counts must be positive", s.SubjectCount, s.QuestionsPerSubject)
	}
	return nil
}

// Covers reports whether the segmentation partitions exactly n questions.
func (s Segmentation) Covers(n int) bool {
	return s.TotalQuestions() == n
}

// SubjectOf returns the 1-based subject index of question q, or 0 if q is
// outside 1..TotalQuestions.
func (s Segmentation) SubjectOf(q int) int {
	if q < 1 || q > s.TotalQuestions() {
		return 0
	}
	return (q + s.QuestionsPerSubject - 1) / s.QuestionsPerSubject
}

// Bounds returns the first and last question numbers of a 1-based subject.
func (s Segmentation) Bounds(subject int) (first, last int) {
	first = (subject-1)*s.QuestionsPerSubject + 1
	return first, first + s.QuestionsPerSubject - 1
}
