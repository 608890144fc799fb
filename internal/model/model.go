package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleOperator can submit sheets and read results.
	UserRoleOperator UserRole = "operator"
	// UserRoleAdmin can also manage answer keys.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Option is a recognized or expected selection for one question.
type Option string

const (
	OptionA Option = "A"
	OptionB Option = "B"
	OptionC Option = "C"
	OptionD Option = "D"
	// OptionInvalid marks a question with no mark or with multiple marks.
	OptionInvalid Option = "INVALID"
)

// IsChoice reports whether o is one of A, B, C or D.
func (o Option) IsChoice() bool {
	switch o {
	case OptionA, OptionB, OptionC, OptionD:
		return true
	}
	return false
}

// Status is the review decision attached to a scored sheet.
type Status string

const (
	StatusCompleted   Status = "Completed"
	StatusNeedsReview Status = "NeedsReview"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusCompleted || s == StatusNeedsReview
}

// AnswerKey is the authoritative correct-option mapping for one exam version.
type AnswerKey struct {
	ID             int64          `json:"id"`
	ExamVersion    string         `json:"exam_version"`
	TotalQuestions int            `json:"total_questions"`
	Answers        map[int]Option `json:"answers"`
	Active         bool           `json:"active"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Clone returns a deep copy of the key.
func (k AnswerKey) Clone() AnswerKey {
	out := k
	out.Answers = make(map[int]Option, len(k.Answers))
	for q, o := range k.Answers {
		out.Answers[q] = o
	}
	return out
}

// AnswerKeyImport is the wire shape of an answer key in import files and API bodies.
type AnswerKeyImport struct {
	Version string            `json:"version"`
	Answers map[string]string `json:"answers"`
	Active  bool              `json:"active"`
}

// RawAnswerSet holds the recognized selections for one sheet.
// A question absent from Answers counts as OptionInvalid.
type RawAnswerSet struct {
	Answers    map[int]Option
	Confidence float64
}

// StudentIdentity identifies the owner of a sheet.
type StudentIdentity struct {
	Name       string `json:"name"`
	RollNumber string `json:"rollNumber"`
}

// QuestionResult is the outcome for a single question.
type QuestionResult struct {
	QuestionNumber int    `json:"questionNumber"`
	StudentAnswer  Option `json:"studentAnswer"`
	CorrectAnswer  Option `json:"correctAnswer,omitempty"`
	IsCorrect      bool   `json:"isCorrect"`
}

// EvaluationResult is the scored outcome of one sheet against one key.
type EvaluationResult struct {
	PerQuestion     []QuestionResult `json:"perQuestion"`
	SubjectScores   []int            `json:"subjectScores"`
	TotalScore      int              `json:"totalScore"`
	TotalQuestions  int              `json:"totalQuestions"`
	Percentage      float64          `json:"percentage"`
	ConfidenceScore float64          `json:"confidenceScore"`
	Status          Status           `json:"status"`
}

// Evaluation is a recorded EvaluationResult with its identity and context.
type Evaluation struct {
	ID          string
	Student     StudentIdentity
	ExamVersion string
	AnswerKeyID int64
	Result      EvaluationResult
	CreatedAt   time.Time
}

// EvaluationConfig holds runtime parameters set via CLI flags.
type EvaluationConfig struct {
	Threshold   float64  // confidence needed for StatusCompleted
	CORSOrigins []string // allowed browser origins for the API
	Lang        string   // default label language (en, ru)
}
