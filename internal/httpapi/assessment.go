package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/darrenak403/beyond8-server-sub001/internal/auth"
	"github.com/darrenak403/beyond8-server-sub001/internal/quiz"
)

type createQuizRequest struct {
	LessonID         string  `json:"lesson_id" validate:"required"`
	CourseID         string  `json:"course_id" validate:"required"`
	Title            string  `json:"title" validate:"required"`
	PassScorePercent float64 `json:"pass_score_percent" validate:"gte=0,lte=100"`
	TimeLimitMinutes int     `json:"time_limit_minutes" validate:"gte=0"`
	MaxAttempts      int     `json:"max_attempts" validate:"gte=0"`
	ShuffleQuestions bool    `json:"shuffle_questions"`
	AllowReview      bool    `json:"allow_review"`
	ShowExplanations bool    `json:"show_explanations"`
	Questions        []struct {
		Prompt      string  `json:"prompt" validate:"required"`
		Points      float64 `json:"points" validate:"gt=0"`
		Explanation string  `json:"explanation"`
		Options     []struct {
			Label   string `json:"label" validate:"required"`
			Correct bool   `json:"correct"`
		} `json:"options" validate:"min=2,dive"`
	} `json:"questions" validate:"min=1,dive"`
}

// CreateQuizHandler stores a quiz with its question bank. Instructor only.
func CreateQuizHandler(store quiz.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createQuizRequest
		if !decode(w, r, &req) {
			return
		}
		now := time.Now()
		q := quiz.Quiz{
			ID:               uuid.NewString(),
			LessonID:         req.LessonID,
			CourseID:         req.CourseID,
			Title:            req.Title,
			PassScorePercent: req.PassScorePercent,
			TimeLimitMinutes: req.TimeLimitMinutes,
			MaxAttempts:      req.MaxAttempts,
			ShuffleQuestions: req.ShuffleQuestions,
			AllowReview:      req.AllowReview,
			ShowExplanations: req.ShowExplanations,
			Active:           true,
			CreatedBy:        auth.SubjectFromContext(r.Context()),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		questions := make([]quiz.Question, 0, len(req.Questions))
		for i, rq := range req.Questions {
			hasCorrect := false
			opts := make([]quiz.Option, 0, len(rq.Options))
			for _, ro := range rq.Options {
				hasCorrect = hasCorrect || ro.Correct
				opts = append(opts, quiz.Option{ID: uuid.NewString(), Label: ro.Label, Correct: ro.Correct})
			}
			if !hasCorrect {
				writeErr(w, http.StatusBadRequest, "each question needs at least one correct option")
				return
			}
			questions = append(questions, quiz.Question{
				ID:          uuid.NewString(),
				QuizID:      q.ID,
				Prompt:      rq.Prompt,
				Options:     opts,
				Points:      rq.Points,
				Explanation: rq.Explanation,
				Position:    i,
			})
		}
		if err := store.PutQuiz(r.Context(), q, questions); err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, q)
	}
}

// GetQuizHandler returns quiz metadata and the question bank with
// correctness flags and explanations stripped.
func GetQuizHandler(store quiz.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := store.GetQuiz(r.Context(), chi.URLParam(r, "quizID"))
		if err != nil {
			fail(w, err)
			return
		}
		questions, err := store.GetQuestions(r.Context(), q.ID)
		if err != nil {
			fail(w, err)
			return
		}
		safe := make([]quiz.Question, 0, len(questions))
		for _, qu := range questions {
			qu.Explanation = ""
			opts := make([]quiz.Option, 0, len(qu.Options))
			for _, o := range qu.Options {
				o.Correct = false
				opts = append(opts, o)
			}
			qu.Options = opts
			safe = append(safe, qu)
		}
		writeJSON(w, http.StatusOK, map[string]any{"quiz": q, "questions": safe})
	}
}

// StartAttemptHandler begins a new attempt for the authenticated student.
func StartAttemptHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Start(r.Context(), chi.URLParam(r, "quizID"), auth.SubjectFromContext(r.Context()))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

type autoSaveRequest struct {
	Answers          map[string][]string `json:"answers"`
	TimeSpentSeconds int                 `json:"time_spent_seconds" validate:"gte=0"`
	FlaggedQuestions []string            `json:"flagged_questions"`
}

func AutoSaveHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req autoSaveRequest
		if !decode(w, r, &req) {
			return
		}
		a, err := svc.AutoSave(r.Context(), chi.URLParam(r, "attemptID"),
			auth.SubjectFromContext(r.Context()), req.Answers, req.TimeSpentSeconds, req.FlaggedQuestions)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

type flagRequest struct {
	QuestionID string `json:"question_id" validate:"required"`
	Flagged    bool   `json:"flagged"`
}

func FlagQuestionHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req flagRequest
		if !decode(w, r, &req) {
			return
		}
		a, err := svc.FlagQuestion(r.Context(), chi.URLParam(r, "attemptID"),
			auth.SubjectFromContext(r.Context()), req.QuestionID, req.Flagged)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

type submitRequest struct {
	Answers          map[string][]string `json:"answers"`
	TimeSpentSeconds int                 `json:"time_spent_seconds" validate:"gte=0"`
}

func SubmitAttemptHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := svc.Submit(r.Context(), chi.URLParam(r, "attemptID"),
			auth.SubjectFromContext(r.Context()), req.Answers, req.TimeSpentSeconds)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// AttemptResultHandler returns the graded result of a terminal attempt,
// with the breakdown gated by the quiz review policy.
func AttemptResultHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Result(r.Context(), chi.URLParam(r, "attemptID"), auth.SubjectFromContext(r.Context()))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ListAttemptsHandler returns the student's own attempt history plus the
// best graded score.
func ListAttemptsHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attempts, err := svc.History(r.Context(), chi.URLParam(r, "quizID"), auth.SubjectFromContext(r.Context()))
		if err != nil {
			fail(w, err)
			return
		}
		best, _ := quiz.BestScore(attempts)
		writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts, "best_score_percent": best})
	}
}
