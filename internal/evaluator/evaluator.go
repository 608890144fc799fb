// Package evaluator runs the sheet evaluation pipeline: resolve the active
// answer key, recognize the sheet, score it, and record the result.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/omrgrader/internal/model"
	"github.com/pavelanni/omrgrader/internal/scoring"
)

var (
	// ErrRecognition wraps failures of the recognition step other than a
	// malformed answer set.
	ErrRecognition = errors.New("recognition failed")
	// ErrInvalidSheet means the sheet request itself is incomplete.
	ErrInvalidSheet = errors.New("invalid sheet")
)

// Recognizer turns a sheet image into recognized selections.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, mimeType string) (model.RawAnswerSet, error)
}

// Recorder persists evaluations and returns the stored copy.
type Recorder interface {
	RecordEvaluation(ctx context.Context, e model.Evaluation) (model.Evaluation, error)
}

// Sheet is one answer sheet submitted for evaluation.
type Sheet struct {
	Student     model.StudentIdentity
	ExamVersion string
	Image       []byte
	MIMEType    string
}

// Service evaluates sheets. It holds no per-evaluation state.
type Service struct {
	recognizer Recognizer
	resolver   scoring.Resolver
	engine     *scoring.Engine
	recorder   Recorder
}

// New creates a Service. recognizer may be nil when only already-recognized
// answers are scored; recorder may be nil to skip persistence.
func New(recognizer Recognizer, resolver scoring.Resolver, engine *scoring.Engine, recorder Recorder) *Service {
	return &Service{recognizer: recognizer, resolver: resolver, engine: engine, recorder: recorder}
}

// Engine returns the scoring engine used by the service.
func (s *Service) Engine() *scoring.Engine { return s.engine }

// Evaluate resolves the key for the sheet's exam version, recognizes the image,
// scores it and records the result. Nothing is recorded if any step fails.
func (s *Service) Evaluate(ctx context.Context, sheet Sheet) (model.Evaluation, error) {
	if err := validateIdentity(sheet.Student); err != nil {
		return model.Evaluation{}, err
	}
	if s.recognizer == nil {
		return model.Evaluation{}, fmt.Errorf("%w: no recognizer configured", ErrRecognition)
	}
	log := slog.With("roll_number", sheet.Student.RollNumber, "exam_version", sheet.ExamVersion)

	key, err := s.resolver.Resolve(ctx, sheet.ExamVersion)
	if err != nil {
		log.Warn("answer key not resolved", "error", err)
		return model.Evaluation{}, err
	}

	raw, err := s.recognizer.Recognize(ctx, sheet.Image, sheet.MIMEType)
	if err != nil {
		log.Error("recognition failed", "error", err)
		if errors.Is(err, scoring.ErrMalformedAnswerSet) {
			return model.Evaluation{}, err
		}
		return model.Evaluation{}, fmt.Errorf("%w: %w", ErrRecognition, err)
	}
	log.Debug("sheet recognized", "answers", len(raw.Answers), "confidence", raw.Confidence)

	return s.scoreAndRecord(ctx, log, sheet.Student, key, raw)
}

// ScoreAnswers scores already-recognized answers, for example after a manual
// correction. The result is a new evaluation.
func (s *Service) ScoreAnswers(ctx context.Context, student model.StudentIdentity, examVersion string, raw model.RawAnswerSet) (model.Evaluation, error) {
	if err := validateIdentity(student); err != nil {
		return model.Evaluation{}, err
	}
	log := slog.With("roll_number", student.RollNumber, "exam_version", examVersion)

	key, err := s.resolver.Resolve(ctx, examVersion)
	if err != nil {
		log.Warn("answer key not resolved", "error", err)
		return model.Evaluation{}, err
	}
	return s.scoreAndRecord(ctx, log, student, key, raw)
}

func (s *Service) scoreAndRecord(ctx context.Context, log *slog.Logger, student model.StudentIdentity, key model.AnswerKey, raw model.RawAnswerSet) (model.Evaluation, error) {
	res, err := s.engine.Score(key, raw)
	if err != nil {
		log.Warn("scoring rejected input", "answer_key_id", key.ID, "error", err)
		return model.Evaluation{}, err
	}
	log.Info("sheet scored",
		"answer_key_id", key.ID,
		"total_score", res.TotalScore,
		"confidence", res.ConfidenceScore,
		"status", res.Status,
	)

	eval := model.Evaluation{
		Student:     student,
		ExamVersion: key.ExamVersion,
		AnswerKeyID: key.ID,
		Result:      res,
	}
	if s.recorder == nil {
		return eval, nil
	}
	stored, err := s.recorder.RecordEvaluation(ctx, eval)
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("record evaluation: %w", err)
	}
	return stored, nil
}

// BatchResult is the outcome for one sheet of a batch.
type BatchResult struct {
	Index      int
	Sheet      Sheet
	Evaluation model.Evaluation
	Err        error
}

// EvaluateBatch evaluates sheets with at most concurrency in flight and
// returns one result per sheet in input order. A failed sheet does not stop
// the others; only cancellation of ctx does.
func (s *Service) EvaluateBatch(ctx context.Context, sheets []Sheet, concurrency int) []BatchResult {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]BatchResult, len(sheets))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, sh := range sheets {
		results[i] = BatchResult{Index: i, Sheet: sh}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Evaluation, results[i].Err = s.Evaluate(ctx, sh)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	slog.Info("batch evaluated", "sheets", len(sheets), "failed", failed)
	return results
}

func validateIdentity(st model.StudentIdentity) error {
	if strings.TrimSpace(st.Name) == "" {
		return fmt.Errorf("%w: student name is required", ErrInvalidSheet)
	}
	if strings.TrimSpace(st.RollNumber) == "" {
		return fmt.Errorf("%w: roll number is required", ErrInvalidSheet)
	}
	return nil
}
