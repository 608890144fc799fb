package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/pavelanni/omrgrader/internal/model"
)

// Engine scores raw answer sets against answer keys.
// An Engine holds no mutable state and is safe for concurrent use.
type Engine struct {
	seg       Segmentation
	threshold float64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSegmentation replaces DefaultSegmentation.
func WithSegmentation(s Segmentation) EngineOption { return func(e *Engine) { e.seg = s } }

// WithThreshold replaces CompletedThreshold.
func WithThreshold(t float64) EngineOption { return func(e *Engine) { e.threshold = t } }

// NewEngine returns an engine with the default segmentation and threshold
// unless overridden by opts.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	e := &Engine{seg: DefaultSegmentation, threshold: CompletedThreshold}
	for _, o := range opts {
		o(e)
	}
	if err := e.seg.Validate(); err != nil {
		return nil, err
	}
	if math.IsNaN(e.threshold) || e.threshold < 0 || e.threshold > 1 {
		return nil, fmt.Errorf("confidence threshold %v outside [0,1]", e.threshold)
	}
	return e, nil
}

var defaultEngine = &Engine{seg: DefaultSegmentation, threshold: CompletedThreshold}

// Score scores raw against key with the default engine.
func Score(key model.AnswerKey, raw model.RawAnswerSet) (model.EvaluationResult, error) {
	return defaultEngine.Score(key, raw)
}

// Segmentation returns the engine's subject segmentation.
func (e *Engine) Segmentation() Segmentation { return e.seg }

// Threshold returns the engine's completion threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Gate derives the review status for a confidence using the engine's threshold.
func (e *Engine) Gate(confidence float64) model.Status {
	return gate(confidence, e.threshold)
}

// Score matches every question of the segmentation against the key. Neither
// argument is modified. Malformed input yields an error and no result.
func (e *Engine) Score(key model.AnswerKey, raw model.RawAnswerSet) (model.EvaluationResult, error) {
	total := e.seg.TotalQuestions()
	if err := e.validateKey(key); err != nil {
		return model.EvaluationResult{}, err
	}
	if err := e.validateAnswers(raw); err != nil {
		return model.EvaluationResult{}, err
	}

	res := model.EvaluationResult{
		PerQuestion:     make([]model.QuestionResult, 0, total),
		SubjectScores:   make([]int, e.seg.SubjectCount),
		TotalQuestions:  total,
		ConfidenceScore: raw.Confidence,
	}
	for q := 1; q <= total; q++ {
		student, ok := raw.Answers[q]
		if !ok {
			student = model.OptionInvalid
		}
		correct, scoreable := key.Answers[q]
		isCorrect := scoreable && student != model.OptionInvalid && student == correct

		res.PerQuestion = append(res.PerQuestion, model.QuestionResult{
			QuestionNumber: q,
			StudentAnswer:  student,
			CorrectAnswer:  correct,
			IsCorrect:      isCorrect,
		})
		if isCorrect {
			res.SubjectScores[e.seg.SubjectOf(q)-1]++
		}
	}

	for _, s := range res.SubjectScores {
		res.TotalScore += s
	}
	res.Percentage = percentage(res.TotalScore, total)
	res.Status = e.Gate(raw.Confidence)
	return res, nil
}

func percentage(score, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(score) / float64(total)
}

func (e *Engine) validateKey(key model.AnswerKey) error {
	total := e.seg.TotalQuestions()
	if key.TotalQuestions != 0 && !e.seg.Covers(key.TotalQuestions) {
		return fmt.Errorf("%w: version %q declares %d questions, sheet has %d",
			ErrMalformedAnswerKey, key.ExamVersion, key.TotalQuestions, total)
	}
	for _, q := range sortedQuestions(key.Answers) {
		if q < 1 || q > total {
			return fmt.Errorf("%w: question %d outside 1..%d", ErrMalformedAnswerKey, q, total)
		}
		if o := key.Answers[q]; !o.IsChoice() {
			return fmt.Errorf("%w: question %d has option %q", ErrMalformedAnswerKey, q, o)
		}
	}
	return nil
}

func (e *Engine) validateAnswers(raw model.RawAnswerSet) error {
	total := e.seg.TotalQuestions()
	if math.IsNaN(raw.Confidence) || raw.Confidence < 0 || raw.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformedAnswerSet, raw.Confidence)
	}
	for _, q := range sortedQuestions(raw.Answers) {
		if q < 1 || q > total {
			return fmt.Errorf("%w: question %d outside 1..%d", ErrMalformedAnswerSet, q, total)
		}
		if o := raw.Answers[q]; !o.IsChoice() && o != model.OptionInvalid {
			return fmt.Errorf("%w: question %d has option %q", ErrMalformedAnswerSet, q, o)
		}
	}
	return nil
}

// sortedQuestions makes error reporting independent of map iteration order.
func sortedQuestions(m map[int]model.Option) []int {
	qs := make([]int, 0, len(m))
	for q := range m {
		qs = append(qs, q)
	}
	sort.Ints(qs)
	return qs
}
