package scoring

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pavelanni/omrgrader/internal/model"
)

var cycle = []model.Option{model.OptionA, model.OptionB, model.OptionC, model.OptionD}

func fullKey(t *testing.T) model.AnswerKey {
	t.Helper()
	answers := make(map[int]model.Option, 100)
	for q := 1; q <= 100; q++ {
		answers[q] = cycle[(q-1)%4]
	}
	return model.AnswerKey{ID: 1, ExamVersion: "A", TotalQuestions: 100, Answers: answers, Active: true}
}

func matching(key model.AnswerKey, confidence float64) model.RawAnswerSet {
	answers := make(map[int]model.Option, len(key.Answers))
	for q, o := range key.Answers {
		answers[q] = o
	}
	return model.RawAnswerSet{Answers: answers, Confidence: confidence}
}

func TestScoreAllCorrect(t *testing.T) {
	key := fullKey(t)
	res, err := Score(key, matching(key, 0.95))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.TotalScore != 100 {
		t.Errorf("expected total 100, got %d", res.TotalScore)
	}
	for i, s := range res.SubjectScores {
		if s != 20 {
			t.Errorf("subject %d: expected 20, got %d", i+1, s)
		}
	}
	if res.Percentage != 100 {
		t.Errorf("expected percentage 100, got %v", res.Percentage)
	}
	if res.Status != model.StatusCompleted {
		t.Errorf("expected Completed, got %q", res.Status)
	}
	if len(res.PerQuestion) != 100 {
		t.Fatalf("expected 100 per-question entries, got %d", len(res.PerQuestion))
	}
	for i, q := range res.PerQuestion {
		if q.QuestionNumber != i+1 {
			t.Fatalf("entry %d has question %d", i, q.QuestionNumber)
		}
	}
}

func TestScoreAllInvalid(t *testing.T) {
	key := fullKey(t)
	for _, conf := range []float64{0.2, 0.9} {
		raw := model.RawAnswerSet{Answers: map[int]model.Option{}, Confidence: conf}
		for q := 1; q <= 100; q++ {
			raw.Answers[q] = model.OptionInvalid
		}
		res, err := Score(key, raw)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if res.TotalScore != 0 {
			t.Errorf("expected total 0, got %d", res.TotalScore)
		}
		for i, s := range res.SubjectScores {
			if s != 0 {
				t.Errorf("subject %d: expected 0, got %d", i+1, s)
			}
		}
		if want := GateStatus(conf); res.Status != want {
			t.Errorf("confidence %v: expected %q, got %q", conf, want, res.Status)
		}
	}
}

func TestScoreAbsentAnswersAreInvalid(t *testing.T) {
	key := fullKey(t)
	res, err := Score(key, model.RawAnswerSet{Confidence: 1})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.TotalScore != 0 {
		t.Errorf("expected total 0, got %d", res.TotalScore)
	}
	if got := res.PerQuestion[41].StudentAnswer; got != model.OptionInvalid {
		t.Errorf("expected INVALID for absent answer, got %q", got)
	}
}

func TestScoreSubjectBoundaries(t *testing.T) {
	key := fullKey(t)
	tests := []struct {
		question int
		subject  int
	}{
		{1, 1}, {20, 1}, {21, 2}, {40, 2}, {41, 3}, {60, 3}, {61, 4}, {80, 4}, {81, 5}, {100, 5},
	}
	for _, tt := range tests {
		raw := model.RawAnswerSet{
			Answers:    map[int]model.Option{tt.question: key.Answers[tt.question]},
			Confidence: 0.9,
		}
		res, err := Score(key, raw)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		for i, s := range res.SubjectScores {
			want := 0
			if i+1 == tt.subject {
				want = 1
			}
			if s != want {
				t.Errorf("question %d: subject %d expected %d, got %d", tt.question, i+1, want, s)
			}
		}
	}
}

func TestScoreMissingKeyEntry(t *testing.T) {
	key := fullKey(t)
	raw := matching(key, 0.9)
	delete(key.Answers, 57)

	res, err := Score(key, raw)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	q := res.PerQuestion[56]
	if q.QuestionNumber != 57 || q.IsCorrect {
		t.Errorf("question 57 should be unscoreable, got %+v", q)
	}
	if q.CorrectAnswer != "" {
		t.Errorf("expected empty correct answer, got %q", q.CorrectAnswer)
	}
	if res.TotalScore != 99 {
		t.Errorf("expected total 99, got %d", res.TotalScore)
	}
	if res.SubjectScores[2] != 19 {
		t.Errorf("expected subject 3 score 19, got %d", res.SubjectScores[2])
	}
}

func TestScoreWrongAnswers(t *testing.T) {
	key := fullKey(t)
	raw := matching(key, 0.9)
	raw.Answers[1] = model.OptionD  // key A
	raw.Answers[22] = model.OptionA // key B
	raw.Answers[99] = model.OptionInvalid

	res, err := Score(key, raw)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	want := []int{19, 19, 20, 20, 19}
	for i := range want {
		if res.SubjectScores[i] != want[i] {
			t.Errorf("subject %d: expected %d, got %d", i+1, want[i], res.SubjectScores[i])
		}
	}
	if res.TotalScore != 97 || res.Percentage != 97 {
		t.Errorf("expected 97/97%%, got %d/%v", res.TotalScore, res.Percentage)
	}
}

func TestScoreSumInvariant(t *testing.T) {
	key := fullKey(t)
	raw := model.RawAnswerSet{Answers: map[int]model.Option{}, Confidence: 0.5}
	for q := 1; q <= 100; q++ {
		raw.Answers[q] = cycle[(q*7)%4]
	}
	res, err := Score(key, raw)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	sum := 0
	for _, s := range res.SubjectScores {
		if s < 0 || s > 20 {
			t.Errorf("subject score %d outside 0..20", s)
		}
		sum += s
	}
	if sum != res.TotalScore {
		t.Errorf("subject sum %d != total %d", sum, res.TotalScore)
	}
	correct := 0
	for _, q := range res.PerQuestion {
		if q.IsCorrect {
			correct++
		}
	}
	if correct != res.TotalScore {
		t.Errorf("correct entries %d != total %d", correct, res.TotalScore)
	}
}

func TestScoreDeterministic(t *testing.T) {
	key := fullKey(t)
	raw := matching(key, 0.8)
	raw.Answers[3] = model.OptionInvalid

	first, err := Score(key, raw)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	second, err := Score(key, raw)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Error("repeated scoring produced different results")
	}
}

func TestScoreDoesNotMutateInputs(t *testing.T) {
	key := fullKey(t)
	raw := model.RawAnswerSet{Answers: map[int]model.Option{1: model.OptionA}, Confidence: 0.9}
	if _, err := Score(key, raw); err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(raw.Answers) != 1 {
		t.Errorf("raw answers mutated: %d entries", len(raw.Answers))
	}
	if len(key.Answers) != 100 {
		t.Errorf("key answers mutated: %d entries", len(key.Answers))
	}
}

func TestScoreMalformed(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*model.AnswerKey, *model.RawAnswerSet)
		wantErr error
	}{
		{"answer question zero", func(_ *model.AnswerKey, r *model.RawAnswerSet) { r.Answers[0] = model.OptionA }, ErrMalformedAnswerSet},
		{"answer question 101", func(_ *model.AnswerKey, r *model.RawAnswerSet) { r.Answers[101] = model.OptionA }, ErrMalformedAnswerSet},
		{"answer option E", func(_ *model.AnswerKey, r *model.RawAnswerSet) { r.Answers[5] = "E" }, ErrMalformedAnswerSet},
		{"confidence above one", func(_ *model.AnswerKey, r *model.RawAnswerSet) { r.Confidence = 1.2 }, ErrMalformedAnswerSet},
		{"negative confidence", func(_ *model.AnswerKey, r *model.RawAnswerSet) { r.Confidence = -0.1 }, ErrMalformedAnswerSet},
		{"key question 101", func(k *model.AnswerKey, _ *model.RawAnswerSet) { k.Answers[101] = model.OptionA }, ErrMalformedAnswerKey},
		{"key option INVALID", func(k *model.AnswerKey, _ *model.RawAnswerSet) { k.Answers[7] = model.OptionInvalid }, ErrMalformedAnswerKey},
		{"key lowercase option", func(k *model.AnswerKey, _ *model.RawAnswerSet) { k.Answers[7] = "a" }, ErrMalformedAnswerKey},
		{"key question count", func(k *model.AnswerKey, _ *model.RawAnswerSet) { k.TotalQuestions = 50 }, ErrMalformedAnswerKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := fullKey(t)
			raw := matching(key, 0.9)
			tt.mutate(&key, &raw)
			res, err := Score(key, raw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if res.PerQuestion != nil || res.SubjectScores != nil {
				t.Error("expected empty result on error")
			}
		})
	}
}

func TestInvalidNeverCorrect(t *testing.T) {
	e := &Engine{seg: Segmentation{SubjectCount: 1, QuestionsPerSubject: 4}, threshold: CompletedThreshold}
	key := model.AnswerKey{Answers: map[int]model.Option{1: model.OptionA, 2: model.OptionB, 3: model.OptionC, 4: model.OptionD}}
	raw := model.RawAnswerSet{Confidence: 1, Answers: map[int]model.Option{}}
	for q := 1; q <= 4; q++ {
		raw.Answers[q] = model.OptionInvalid
	}
	res, err := e.Score(key, raw)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	for _, q := range res.PerQuestion {
		if q.IsCorrect {
			t.Errorf("question %d: INVALID counted as correct", q.QuestionNumber)
		}
	}
}

func TestNewEngineCustomSegmentation(t *testing.T) {
	e, err := NewEngine(WithSegmentation(Segmentation{SubjectCount: 3, QuestionsPerSubject: 10}), WithThreshold(0.5))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	answers := map[int]model.Option{}
	for q := 1; q <= 30; q++ {
		answers[q] = model.OptionB
	}
	key := model.AnswerKey{ExamVersion: "X", TotalQuestions: 30, Answers: answers}
	raw := model.RawAnswerSet{Answers: map[int]model.Option{1: model.OptionB, 11: model.OptionB, 30: model.OptionB}, Confidence: 0.6}

	res, err := e.Score(key, raw)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got := res.SubjectScores; len(got) != 3 || got[0] != 1 || got[1] != 1 || got[2] != 1 {
		t.Errorf("unexpected subject scores %v", got)
	}
	if res.Percentage != 10 {
		t.Errorf("expected percentage 10, got %v", res.Percentage)
	}
	if res.Status != model.StatusCompleted {
		t.Errorf("expected Completed at threshold 0.5, got %q", res.Status)
	}
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	if _, err := NewEngine(WithSegmentation(Segmentation{SubjectCount: 0, QuestionsPerSubject: 20})); err == nil {
		t.Error("expected error for empty segmentation")
	}
	if _, err := NewEngine(WithThreshold(1.5)); err == nil {
		t.Error("expected error for threshold above one")
	}
}

func TestPercentageZeroQuestions(t *testing.T) {
	if got := percentage(0, 0); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
	if got := percentage(15, 60); got != 25 {
		t.Errorf("expected 25, got %v", got)
	}
}
