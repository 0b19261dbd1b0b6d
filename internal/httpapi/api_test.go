package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/darrenak403/beyond8-server-sub001/internal/auth"
	"github.com/darrenak403/beyond8-server-sub001/internal/db"
	"github.com/darrenak403/beyond8-server-sub001/internal/httpapi"
	"github.com/darrenak403/beyond8-server-sub001/internal/quiz"
	"github.com/darrenak403/beyond8-server-sub001/internal/rbac"
)

// newAssessmentServer wires the assessment router the way assessmentd
// does, over a throwaway sqlite database with one student and one
// instructor account.
func newAssessmentServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "assessment.db")
	dbh, err := db.Open(ctx, db.DriverSQLite, dsn, db.SchemaAssessment)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { dbh.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("pass123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	now := time.Now().Unix()
	for _, u := range [][2]string{{"stu-1", "student"}, {"tea-1", "instructor"}} {
		if _, err := dbh.Exec(
			`INSERT INTO users (id,username,password_hash,role,created_at,updated_at) VALUES ($1,$2,$3,$4,$5,$5)`,
			u[0], u[0], string(hash), u[1], now); err != nil {
			t.Fatalf("seed user %s: %v", u[0], err)
		}
	}

	store := quiz.NewSQLStore(dbh)
	svc := quiz.NewService(store, false)
	authSvc := auth.NewAuthService("test-secret")

	r := chi.NewRouter()
	r.Post("/auth/login", auth.LoginHandler(authSvc, dbh))
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.With(rbac.Require("quiz:create")).
			Post("/quizzes", httpapi.CreateQuizHandler(store))
		pr.With(rbac.Require("quiz:view")).
			Get("/quizzes/{quizID}", httpapi.GetQuizHandler(store))
		pr.With(rbac.Require("attempt:create")).
			Post("/quizzes/{quizID}/attempts", httpapi.StartAttemptHandler(svc))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/quizzes/{quizID}/attempts", httpapi.ListAttemptsHandler(svc))
		pr.With(rbac.Require("attempt:save")).
			Post("/attempts/{attemptID}/autosave", httpapi.AutoSaveHandler(svc))
		pr.With(rbac.Require("attempt:save")).
			Post("/attempts/{attemptID}/flag", httpapi.FlagQuestionHandler(svc))
		pr.With(rbac.Require("attempt:submit")).
			Post("/attempts/{attemptID}/submit", httpapi.SubmitAttemptHandler(svc))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}/result", httpapi.AttemptResultHandler(svc))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func login(t *testing.T, base, username string) string {
	t.Helper()
	var out struct {
		AccessToken string `json:"access_token"`
	}
	code := doJSON(t, http.MethodPost, base+"/auth/login", "",
		map[string]string{"username": username, "password": "pass123"}, &out)
	if code != http.StatusOK || out.AccessToken == "" {
		t.Fatalf("login %s: code=%d token=%q", username, code, out.AccessToken)
	}
	return out.AccessToken
}

func createQuizBody() map[string]any {
	return map[string]any{
		"lesson_id":          "lesson-1",
		"course_id":          "course-1",
		"title":              "Checkpoint",
		"pass_score_percent": 50,
		"max_attempts":       3,
		"allow_review":       true,
		"questions": []map[string]any{
			{
				"prompt": "2+2?",
				"points": 1,
				"options": []map[string]any{
					{"label": "4", "correct": true},
					{"label": "5"},
				},
			},
			{
				"prompt": "3+3?",
				"points": 1,
				"options": []map[string]any{
					{"label": "6", "correct": true},
					{"label": "7"},
				},
			},
		},
	}
}

func TestAttemptFlowEndToEnd(t *testing.T) {
	srv := newAssessmentServer(t)
	instructor := login(t, srv.URL, "tea-1")
	student := login(t, srv.URL, "stu-1")

	var created quiz.Quiz
	if code := doJSON(t, http.MethodPost, srv.URL+"/quizzes", instructor, createQuizBody(), &created); code != http.StatusCreated {
		t.Fatalf("create quiz: %d", code)
	}

	// the student view never carries correctness or explanations
	var view struct {
		Questions []quiz.Question `json:"questions"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/quizzes/"+created.ID, student, nil, &view); code != http.StatusOK {
		t.Fatalf("get quiz: %d", code)
	}
	for _, q := range view.Questions {
		for _, o := range q.Options {
			if o.Correct {
				t.Fatal("correctness leaked to student view")
			}
		}
	}

	var start quiz.StartResult
	if code := doJSON(t, http.MethodPost, srv.URL+"/quizzes/"+created.ID+"/attempts", student, nil, &start); code != http.StatusCreated {
		t.Fatalf("start attempt: %d", code)
	}
	attemptID := start.Attempt.ID
	if len(start.Questions) != 2 || attemptID == "" {
		t.Fatalf("unexpected start result: %+v", start)
	}

	// a second start while one is open is a conflict
	if code := doJSON(t, http.MethodPost, srv.URL+"/quizzes/"+created.ID+"/attempts", student, nil, nil); code != http.StatusConflict {
		t.Fatalf("second start: want 409, got %d", code)
	}

	// pick the correct option for every question; option labels survive
	// shuffling, correctness does not, so resolve by label
	answers := map[string][]string{}
	for _, q := range start.Questions {
		for _, o := range q.Options {
			if o.Label == "4" || o.Label == "6" {
				answers[q.ID] = []string{o.ID}
			}
		}
	}

	save := map[string]any{"answers": answers, "time_spent_seconds": 30}
	if code := doJSON(t, http.MethodPost, srv.URL+"/attempts/"+attemptID+"/autosave", student, save, nil); code != http.StatusOK {
		t.Fatalf("autosave: %d", code)
	}
	flag := map[string]any{"question_id": start.Questions[0].ID, "flagged": true}
	if code := doJSON(t, http.MethodPost, srv.URL+"/attempts/"+attemptID+"/flag", student, flag, nil); code != http.StatusOK {
		t.Fatalf("flag: %d", code)
	}

	var submitted quiz.SubmitResult
	submit := map[string]any{"answers": answers, "time_spent_seconds": 45}
	if code := doJSON(t, http.MethodPost, srv.URL+"/attempts/"+attemptID+"/submit", student, submit, &submitted); code != http.StatusOK {
		t.Fatalf("submit: %d", code)
	}
	if !submitted.Summary.Passed || submitted.Summary.ScorePercent != 100 {
		t.Fatalf("unexpected grade: %+v", submitted.Summary)
	}

	// terminal attempts reject further writes
	if code := doJSON(t, http.MethodPost, srv.URL+"/attempts/"+attemptID+"/submit", student, submit, nil); code != http.StatusConflict {
		t.Fatalf("double submit: want 409, got %d", code)
	}

	var result quiz.SubmitResult
	if code := doJSON(t, http.MethodGet, srv.URL+"/attempts/"+attemptID+"/result", student, nil, &result); code != http.StatusOK {
		t.Fatalf("result: %d", code)
	}
	if result.Attempt.Status != quiz.StatusGraded || len(result.Summary.Items) == 0 {
		t.Fatalf("unexpected result: %+v", result.Attempt)
	}

	var history struct {
		Attempts  []quiz.Attempt `json:"attempts"`
		BestScore float64        `json:"best_score_percent"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/quizzes/"+created.ID+"/attempts", student, nil, &history); code != http.StatusOK {
		t.Fatalf("history: %d", code)
	}
	if len(history.Attempts) != 1 || history.BestScore != 100 {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestAuthorizationBoundaries(t *testing.T) {
	srv := newAssessmentServer(t)
	instructor := login(t, srv.URL, "tea-1")
	student := login(t, srv.URL, "stu-1")

	// students cannot author quizzes
	if code := doJSON(t, http.MethodPost, srv.URL+"/quizzes", student, createQuizBody(), nil); code != http.StatusForbidden {
		t.Fatalf("student quiz create: want 403, got %d", code)
	}
	// no token at all
	if code := doJSON(t, http.MethodPost, srv.URL+"/quizzes", "", createQuizBody(), nil); code != http.StatusUnauthorized {
		t.Fatalf("anonymous quiz create: want 401, got %d", code)
	}

	var created quiz.Quiz
	if code := doJSON(t, http.MethodPost, srv.URL+"/quizzes", instructor, createQuizBody(), &created); code != http.StatusCreated {
		t.Fatalf("create quiz: %d", code)
	}
	var start quiz.StartResult
	if code := doJSON(t, http.MethodPost, srv.URL+"/quizzes/"+created.ID+"/attempts", student, nil, &start); code != http.StatusCreated {
		t.Fatalf("start attempt: %d", code)
	}

	// another principal cannot touch the student's attempt
	save := map[string]any{"answers": map[string][]string{}, "time_spent_seconds": 1}
	if code := doJSON(t, http.MethodPost, srv.URL+"/attempts/"+start.Attempt.ID+"/autosave", instructor, save, nil); code != http.StatusForbidden {
		t.Fatalf("foreign autosave: want 403, got %d", code)
	}
}

func TestCreateQuizValidation(t *testing.T) {
	srv := newAssessmentServer(t)
	instructor := login(t, srv.URL, "tea-1")

	for name, mutate := range map[string]func(map[string]any){
		"no questions":      func(b map[string]any) { b["questions"] = []map[string]any{} },
		"missing title":     func(b map[string]any) { delete(b, "title") },
		"no correct option": func(b map[string]any) {
			b["questions"] = []map[string]any{{
				"prompt": "?", "points": 1,
				"options": []map[string]any{{"label": "a"}, {"label": "b"}},
			}}
		},
	} {
		body := createQuizBody()
		mutate(body)
		if code := doJSON(t, http.MethodPost, srv.URL+"/quizzes", instructor, body, nil); code != http.StatusBadRequest {
			t.Fatalf("%s: want 400, got %d", name, code)
		}
	}
}
