package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/omrgrader/internal/evaluator"
	appI18n "github.com/pavelanni/omrgrader/internal/i18n"
	"github.com/pavelanni/omrgrader/internal/llm"
	"github.com/pavelanni/omrgrader/internal/model"
	"github.com/pavelanni/omrgrader/internal/scoring"
	"github.com/pavelanni/omrgrader/internal/store"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeRecognizer struct {
	raw      model.RawAnswerSet
	err      error
	calls    int
	lastMIME string
}

func (f *fakeRecognizer) Recognize(_ context.Context, _ []byte, mimeType string) (model.RawAnswerSet, error) {
	f.calls++
	f.lastMIME = mimeType
	return f.raw, f.err
}

type testEnv struct {
	store  *store.Store
	rec    *fakeRecognizer
	router http.Handler
}

func keyAnswers() map[int]model.Option {
	opts := []model.Option{model.OptionA, model.OptionB, model.OptionC, model.OptionD}
	answers := make(map[int]model.Option, 100)
	for q := 1; q <= 100; q++ {
		answers[q] = opts[(q-1)%4]
	}
	return answers
}

func keyImport(version string) model.AnswerKeyImport {
	in := model.AnswerKeyImport{Version: version, Answers: map[string]string{}, Active: true}
	for q, o := range keyAnswers() {
		in.Answers[strconv.Itoa(q)] = string(o)
	}
	return in
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("init i18n: %v", err)
	}
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	if _, err := s.CreateAnswerKey(ctx, model.AnswerKey{
		ExamVersion: "A", TotalQuestions: 100, Answers: keyAnswers(), Active: true,
	}); err != nil {
		t.Fatalf("create key: %v", err)
	}
	for _, u := range []struct {
		name string
		role model.UserRole
	}{{"admin", model.UserRoleAdmin}, {"operator", model.UserRoleOperator}} {
		hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		if _, err := s.CreateUser(ctx, model.User{
			Username: u.name, DisplayName: u.name, PasswordHash: string(hash), Role: u.role, Active: true,
		}); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	engine, err := scoring.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rec := &fakeRecognizer{raw: model.RawAnswerSet{Answers: keyAnswers(), Confidence: 0.93}}
	svc := evaluator.New(rec, scoring.NewResolver(s), engine, s)

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	New(s, svc, model.EvaluationConfig{Threshold: scoring.CompletedThreshold, Lang: "en"}).Routes(r)
	return &testEnv{store: s, rec: rec, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func asUser(name, password string) func(*http.Request) {
	return func(r *http.Request) { r.SetBasicAuth(name, password) }
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func sheetBody(version string) map[string]any {
	return map[string]any{
		"imageBase64": base64.StdEncoding.EncodeToString(pngHeader),
		"studentName": "Asha",
		"rollNumber":  "R-17",
		"examVersion": version,
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz: %d %s", rec.Code, rec.Body.String())
	}
}

func TestEvaluate(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/evaluations", sheetBody("A"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[evaluationResponse](t, rec)
	ev := resp.Evaluation
	if !resp.Success || ev.ID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if ev.TotalScore != 100 || ev.Percentage != 100 || ev.Status != model.StatusCompleted || ev.StatusLabel != "Completed" {
		t.Errorf("unexpected evaluation %d %v %q %q", ev.TotalScore, ev.Percentage, ev.Status, ev.StatusLabel)
	}
	if len(ev.SubjectScores) != 5 || ev.SubjectScores[0] != 20 {
		t.Errorf("unexpected subject scores %v", ev.SubjectScores)
	}
	if d := ev.DetailedResults["57"]; d.StudentAnswer != model.OptionA || !d.IsCorrect {
		t.Errorf("unexpected detail for q57: %+v", d)
	}
	if ev.StudentIdentity.RollNumber != "R-17" {
		t.Errorf("unexpected identity %+v", ev.StudentIdentity)
	}

	got := env.do(t, http.MethodGet, "/api/evaluations/"+ev.ID, nil)
	if got.Code != http.StatusOK {
		t.Fatalf("get evaluation: %d", got.Code)
	}
	if stored := decode[model.EvaluationRecord](t, got); stored.TotalScore != 100 || stored.CreatedAt == nil {
		t.Errorf("unexpected stored record %+v", stored)
	}
}

func TestEvaluateDataURL(t *testing.T) {
	env := newTestEnv(t)
	body := sheetBody("A")
	body["imageBase64"] = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(pngHeader)
	rec := env.do(t, http.MethodPost, "/api/evaluations", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.rec.lastMIME != "image/jpeg" {
		t.Errorf("expected mime from data URL, got %q", env.rec.lastMIME)
	}
}

func TestEvaluateLowConfidence(t *testing.T) {
	env := newTestEnv(t)
	env.rec.raw.Confidence = 0.5
	rec := env.do(t, http.MethodPost, "/api/evaluations", sheetBody("A"), func(r *http.Request) {
		r.Header.Set("Accept-Language", "ru")
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	ev := decode[evaluationResponse](t, rec).Evaluation
	if ev.Status != model.StatusNeedsReview || ev.StatusLabel != "Требует проверки" {
		t.Errorf("unexpected status %q / %q", ev.Status, ev.StatusLabel)
	}
	if ev.TotalScore != 100 {
		t.Errorf("low-confidence sheets are still scored, got %d", ev.TotalScore)
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		recErr   error
		wantCode int
		wantMsg  string
	}{
		{"unknown version", sheetBody("Z"), nil, http.StatusNotFound, "exam version Z"},
		{"empty version", sheetBody(""), nil, http.StatusNotFound, ""},
		{"malformed recognition", sheetBody("A"), fmt.Errorf("parse: %w", scoring.ErrMalformedAnswerSet), http.StatusUnprocessableEntity, "rescan"},
		{"recognition down", sheetBody("A"), errors.New("connection refused"), http.StatusBadGateway, "unavailable"},
		{"bad json", `{"imageBase64":`, nil, http.StatusBadRequest, "Invalid request"},
		{"unknown field", `{"image":"x"}`, nil, http.StatusBadRequest, "Invalid request"},
		{"bad base64", map[string]any{"imageBase64": "%%%", "studentName": "A", "rollNumber": "1", "examVersion": "A"}, nil, http.StatusBadRequest, ""},
		{"no roll number", map[string]any{"imageBase64": "aGk=", "studentName": "A", "examVersion": "A"}, nil, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.rec.err = tt.recErr
			rec := env.do(t, http.MethodPost, "/api/evaluations", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			resp := decode[errorResponse](t, rec)
			if resp.Success || !strings.Contains(resp.Error, tt.wantMsg) {
				t.Errorf("unexpected error response %+v", resp)
			}
			list, err := env.store.ListEvaluations(context.Background(), store.EvaluationFilter{})
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 0 {
				t.Errorf("expected nothing recorded, got %d", len(list))
			}
		})
	}
}

func TestEvaluateUnknownVersionSkipsRecognition(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/evaluations", sheetBody("Z"))
	if env.rec.calls != 0 {
		t.Errorf("recognizer called %d times", env.rec.calls)
	}
}

func TestEvaluateUnsupportedImage(t *testing.T) {
	env := newTestEnv(t)
	env.rec.err = fmt.Errorf("%w: text/plain", llm.ErrUnsupportedImage)
	rec := env.do(t, http.MethodPost, "/api/evaluations", sheetBody("A"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestScoreAnswers(t *testing.T) {
	env := newTestEnv(t)
	answers := map[string]string{}
	for q, o := range keyAnswers() {
		answers[strconv.Itoa(q)] = string(o)
	}
	answers["21"] = "INVALID"
	delete(answers, "100")

	rec := env.do(t, http.MethodPost, "/api/evaluations/answers", map[string]any{
		"studentName": "Ravi", "rollNumber": "R-2", "examVersion": "A",
		"answers": answers, "confidence": 0.9,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	ev := decode[evaluationResponse](t, rec).Evaluation
	if ev.TotalScore != 98 || ev.SubjectScores[1] != 19 || ev.SubjectScores[4] != 19 {
		t.Errorf("unexpected scores %d %v", ev.TotalScore, ev.SubjectScores)
	}
	if d := ev.DetailedResults["100"]; d.StudentAnswer != model.OptionInvalid || d.IsCorrect {
		t.Errorf("absent answer should be INVALID, got %+v", d)
	}
	if env.rec.calls != 0 {
		t.Error("answers endpoint must not call the recognizer")
	}
}

func TestScoreAnswersErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     map[string]any
		wantCode int
	}{
		{"missing confidence", map[string]any{"studentName": "R", "rollNumber": "1", "examVersion": "A", "answers": map[string]string{"1": "A"}}, http.StatusBadRequest},
		{"bad option", map[string]any{"studentName": "R", "rollNumber": "1", "examVersion": "A", "answers": map[string]string{"1": "E"}, "confidence": 0.9}, http.StatusUnprocessableEntity},
		{"question out of range", map[string]any{"studentName": "R", "rollNumber": "1", "examVersion": "A", "answers": map[string]string{"101": "A"}, "confidence": 0.9}, http.StatusUnprocessableEntity},
		{"confidence above one", map[string]any{"studentName": "R", "rollNumber": "1", "examVersion": "A", "answers": map[string]string{"1": "A"}, "confidence": 1.5}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/evaluations/answers", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestListEvaluations(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/evaluations", sheetBody("A"))
	env.rec.raw.Confidence = 0.4
	env.do(t, http.MethodPost, "/api/evaluations", sheetBody("A"))

	rec := env.do(t, http.MethodGet, "/api/evaluations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	if all := decode[[]model.EvaluationRecord](t, rec); len(all) != 2 {
		t.Errorf("expected 2 records, got %d", len(all))
	}

	rec = env.do(t, http.MethodGet, "/api/evaluations?status=NeedsReview", nil)
	review := decode[[]model.EvaluationRecord](t, rec)
	if len(review) != 1 || review[0].Status != model.StatusNeedsReview {
		t.Errorf("unexpected NeedsReview list %+v", review)
	}

	for _, q := range []string{"?status=Pending", "?limit=-1", "?limit=ten"} {
		if rec := env.do(t, http.MethodGet, "/api/evaluations"+q, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestGetEvaluationNotFound(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodGet, "/api/evaluations/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestCreateAnswerKeyAuth(t *testing.T) {
	tests := []struct {
		name     string
		opts     []func(*http.Request)
		wantCode int
	}{
		{"no credentials", nil, http.StatusUnauthorized},
		{"wrong password", []func(*http.Request){asUser("admin", "guess")}, http.StatusUnauthorized},
		{"unknown user", []func(*http.Request){asUser("ghost", "secret")}, http.StatusUnauthorized},
		{"operator", []func(*http.Request){asUser("operator", "secret")}, http.StatusForbidden},
		{"admin", []func(*http.Request){asUser("admin", "secret")}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/answer-keys", keyImport("B"), tt.opts...)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if rec.Code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 should carry WWW-Authenticate")
			}
		})
	}
}

func TestCreateAnswerKey(t *testing.T) {
	env := newTestEnv(t)
	admin := asUser("admin", "secret")

	rec := env.do(t, http.MethodPost, "/api/answer-keys", keyImport("A"), admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[model.AnswerKey](t, rec)
	if !created.Active || created.TotalQuestions != 100 || created.Answers[3] != model.OptionC {
		t.Errorf("unexpected key %+v", created)
	}

	// The new key replaces the seeded one as the active key of version A.
	list := decode[[]model.AnswerKey](t, env.do(t, http.MethodGet, "/api/answer-keys?examVersion=A", nil))
	active := 0
	for _, k := range list {
		if k.Active {
			active++
			if k.ID != created.ID {
				t.Errorf("expected key %d active, got %d", created.ID, k.ID)
			}
		}
	}
	if len(list) != 2 || active != 1 {
		t.Errorf("expected 2 keys with 1 active, got %d keys, %d active", len(list), active)
	}

	incomplete := keyImport("C")
	delete(incomplete.Answers, "57")
	invalid := keyImport("D")
	invalid.Answers["1"] = "INVALID"
	for name, in := range map[string]model.AnswerKeyImport{"incomplete": incomplete, "invalid option": invalid} {
		if rec := env.do(t, http.MethodPost, "/api/answer-keys", in, admin); rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: expected 422, got %d", name, rec.Code)
		}
	}
}

func TestActivateDeactivateAnswerKey(t *testing.T) {
	env := newTestEnv(t)
	admin := asUser("admin", "secret")

	keys := decode[[]model.AnswerKey](t, env.do(t, http.MethodGet, "/api/answer-keys", nil))
	if len(keys) != 1 {
		t.Fatalf("expected seeded key, got %d", len(keys))
	}
	path := fmt.Sprintf("/api/answer-keys/%d", keys[0].ID)

	if rec := env.do(t, http.MethodPost, path+"/deactivate", nil, admin); rec.Code != http.StatusNoContent {
		t.Fatalf("deactivate: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/evaluations", sheetBody("A")); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without an active key, got %d", rec.Code)
	}

	if rec := env.do(t, http.MethodPost, path+"/activate", nil, admin); rec.Code != http.StatusNoContent {
		t.Fatalf("activate: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/evaluations", sheetBody("A")); rec.Code != http.StatusOK {
		t.Errorf("expected 200 after activation, got %d", rec.Code)
	}

	if rec := env.do(t, http.MethodPost, "/api/answer-keys/999/activate", nil, admin); rec.Code != http.StatusNotFound {
		t.Errorf("unknown key: expected 404, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/answer-keys/abc/deactivate", nil, admin); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodOptions, "/api/evaluations", nil, func(r *http.Request) {
		r.Header.Set("Origin", "https://scanner.example.com")
		r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
